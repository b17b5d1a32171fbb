// Package main runs the tag agent: it reads tags from smartphones or a USB
// reader, turns them into serials and submits each serial to a remote API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nedpals/davi-tag-agent/buildinfo"
	"github.com/nedpals/davi-tag-agent/config"
	"github.com/nedpals/davi-tag-agent/logging"
)

const shutdownTimeout = 5 * time.Second

func main() {
	var (
		configPath string
		cliMode    bool
		port       int
		apiURL     string
		apiSecret  string
		device     string
		logLevel   string
		version    bool
	)

	flag.StringVar(&configPath, "config", "", "Path to a config file (optional)")
	flag.BoolVar(&cliMode, "cli", false, "Run in CLI mode (default: system tray mode)")
	flag.IntVar(&port, "port", 0, "Port to listen on (overrides server.port)")
	flag.StringVar(&apiURL, "api-url", "", "Endpoint receiving serials (overrides api.url)")
	flag.StringVar(&apiSecret, "api-secret", "", "Secret required from websocket consumers (optional)")
	flag.StringVar(&device, "device", "", "libnfc connection string; enables USB reader polling")
	flag.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.BoolVar(&version, "version", false, "Print version and exit")
	flag.Parse()

	if version {
		fmt.Println(buildinfo.DisplayName, buildinfo.FullVersion())
		return
	}

	v := config.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to read config %s: %v\n", configPath, err)
			os.Exit(1)
		}
	}
	if port != 0 {
		v.Set("server.port", port)
	}
	if apiURL != "" {
		v.Set("api.url", apiURL)
	}
	if apiSecret != "" {
		v.Set("server.secret", apiSecret)
	}
	if device != "" {
		v.Set("hardware.libnfc", true)
		v.Set("hardware.device", device)
	}
	if logLevel != "" {
		v.Set("log.level", logLevel)
	}

	logging.Setup(v.GetString("log.level"), v.GetBool("log.pretty"))

	cfg, err := config.FromViper(v)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	agent, err := NewAgent(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create agent")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if !cliMode {
		go func() {
			<-sigChan
			quitSystray()
		}()
		NewSystrayApp(agent).Run()
		return
	}

	if err := agent.Start(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("failed to start agent")
	}

	<-sigChan
	log.Info().Msg("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	agent.Stop(ctx)
	agent.Close()
}
