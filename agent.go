package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/nedpals/davi-tag-agent/api"
	"github.com/nedpals/davi-tag-agent/config"
	"github.com/nedpals/davi-tag-agent/logging"
	"github.com/nedpals/davi-tag-agent/nfc"
	"github.com/nedpals/davi-tag-agent/nfc/libnfc"
	"github.com/nedpals/davi-tag-agent/nfc/remotenfc"
	"github.com/nedpals/davi-tag-agent/pipeline"
	"github.com/nedpals/davi-tag-agent/server"
)

// Agent owns every long-lived component: hardware backends, listener,
// submission pipeline and server.
type Agent struct {
	Config   *config.Config
	Devices  *remotenfc.Manager // nil when smartphones are disabled
	Reader   *libnfc.Reader     // nil when libnfc polling is disabled
	Listener *nfc.Listener
	Client   *api.Client
	Pipeline *pipeline.Pipeline
	Server   *server.Server

	logger  zerolog.Logger
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// NewAgent wires the components described by cfg. Nothing runs until Start.
func NewAgent(cfg *config.Config) (*Agent, error) {
	a := &Agent{
		Config: cfg,
		logger: logging.Component("agent"),
	}

	hw := nfc.NewMultiHardware()
	if cfg.Hardware.Remote {
		a.Devices = remotenfc.NewManager(remotenfc.DeviceTimeout)
		if err := hw.Add("remote", a.Devices); err != nil {
			return nil, err
		}
	}
	if cfg.Hardware.LibNFC {
		a.Reader = libnfc.NewReader(cfg.Hardware.Device)
		if err := hw.Add("libnfc", a.Reader); err != nil {
			return nil, err
		}
	}
	if len(hw.Names()) == 0 {
		return nil, errors.New("no hardware backend enabled")
	}

	client, err := api.New(cfg.API.URL,
		api.WithSearchPath(cfg.API.SearchPath),
		api.WithTimeout(cfg.API.Timeout),
	)
	if err != nil {
		return nil, err
	}
	a.Client = client

	a.Listener = nfc.NewListener(hw)
	a.Pipeline = pipeline.New(a.Listener, client)

	a.Server, err = server.New(server.Config{
		Port:       cfg.Server.Port,
		APISecret:  cfg.Server.Secret,
		MDNS:       cfg.Server.MDNS,
		Controller: a.Pipeline,
		Devices:    a.Devices,
	})
	if err != nil {
		return nil, err
	}
	a.Pipeline.AddSink(a.Server.Hub())

	a.logger.Info().
		Strs("hardware", hw.Names()).
		Str("api", client.Endpoint()).
		Str("search", client.SearchEndpoint()).
		Msg("agent configured")
	return a, nil
}

// Start brings up the server, the hardware and the listener.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return errors.New("agent is already running")
	}

	if err := a.Server.Start(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	if a.Reader != nil {
		a.Reader.Start(ctx)
	}
	if err := a.Pipeline.Start(ctx); err != nil {
		cancel()
		a.stopHardware()
		_ = a.Server.Stop(context.Background())
		return fmt.Errorf("start listening: %w", err)
	}

	a.cancel = cancel
	a.running = true
	a.logger.Info().Int("port", a.Config.Server.Port).Msg("agent started")
	return nil
}

// Stop shuts everything down. It is safe to call when not running.
func (a *Agent) Stop(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return
	}
	a.logger.Info().Msg("stopping agent")

	a.Pipeline.Stop()
	if err := a.Server.Stop(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("server shutdown")
	}
	a.cancel()
	a.stopHardware()

	a.running = false
	a.logger.Info().Msg("agent stopped")
}

// Close releases resources that outlive a Start/Stop cycle.
func (a *Agent) Close() {
	a.Stop(context.Background())
	if a.Devices != nil {
		a.Devices.Close()
	}
}

func (a *Agent) stopHardware() {
	if a.Reader != nil {
		a.Reader.Close()
	}
}

// Listening reports whether tag reads are currently being delivered.
func (a *Agent) Listening() bool {
	return a.Listener.State() == nfc.StateActive
}

// SetListening pauses or resumes tag delivery without stopping the server.
func (a *Agent) SetListening(ctx context.Context, on bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return errors.New("agent is not running")
	}
	if !on {
		a.Pipeline.Stop()
		return nil
	}
	if a.Listening() {
		return nil
	}
	return a.Pipeline.Start(ctx)
}
