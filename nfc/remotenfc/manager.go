// Package remotenfc turns phones connected over WebSocket into tag hardware.
package remotenfc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nedpals/davi-tag-agent/logging"
	"github.com/nedpals/davi-tag-agent/nfc"
	"github.com/nedpals/davi-tag-agent/protocol"
)

// Manager implements nfc.Hardware on top of the registered phones.
type Manager struct {
	events nfc.Emitter

	devices           map[string]*Device // deviceID -> device
	mu                sync.RWMutex       // Protects devices map
	cleanupTicker     *time.Ticker
	stopCleanup       chan struct{}
	inactivityTimeout time.Duration
	closed            bool
	logger            zerolog.Logger
}

var _ nfc.Hardware = (*Manager)(nil)

// NewManager creates a remote device manager and starts its cleanup routine.
func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout == 0 {
		inactivityTimeout = DeviceTimeout
	}

	m := &Manager{
		devices:           make(map[string]*Device),
		inactivityTimeout: inactivityTimeout,
		stopCleanup:       make(chan struct{}),
		logger:            logging.Component("remotenfc"),
	}
	m.startCleanupRoutine()
	return m
}

// Capable is always true: remote devices need nothing from the host.
func (m *Manager) Capable() bool {
	return true
}

// Supported reports whether at least one device is connected.
func (m *Manager) Supported(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return m.GetActiveDeviceCount() > 0, nil
}

func (m *Manager) OnTag(handler func(*nfc.TagEvent)) error { return m.events.OnTag(handler) }
func (m *Manager) OnError(handler func(error)) error       { return m.events.OnError(handler) }

func (m *Manager) RemoveAllListeners(ch nfc.Channel) error {
	return m.events.RemoveAllListeners(ch)
}

// ScanOnDemand reports whether any connected device only scans on request.
func (m *Manager) ScanOnDemand() bool {
	for _, d := range m.activeDevices() {
		if d.ScanOnDemand() {
			return true
		}
	}
	return false
}

// StartScan asks every on-demand device to open a read session.
func (m *Manager) StartScan(ctx context.Context) error {
	msg := protocol.WebSocketMessage{
		ID:      uuid.NewString(),
		Type:    protocol.WSTypeDeviceStartScan,
		Payload: protocol.DeviceStartScan{RequestedAt: time.Now()},
	}

	var errs []error
	for _, d := range m.activeDevices() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.ScanOnDemand() {
			continue
		}
		if err := d.Send(msg); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.DeviceID(), err))
			continue
		}
		m.logger.Debug().Str("device", d.DeviceID()).Msg("scan requested")
	}
	return errors.Join(errs...)
}

// RegisterDevice creates and registers a new device.
func (m *Manager) RegisterDevice(req protocol.DeviceRegistrationRequest, send SendFunc) (*Device, error) {
	if req.DeviceName == "" {
		return nil, fmt.Errorf("device name is required")
	}
	if req.Platform != protocol.PlatformIOS && req.Platform != protocol.PlatformAndroid {
		return nil, fmt.Errorf("invalid platform: %s (must be 'ios' or 'android')", req.Platform)
	}

	device := NewDevice(uuid.New().String(), req, send)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("manager is closed")
	}
	m.devices[device.DeviceID()] = device
	m.mu.Unlock()

	m.logger.Info().
		Str("device", device.String()).
		Str("app_version", req.AppVersion).
		Msg("device registered")
	return device, nil
}

// UnregisterDevice removes a device.
func (m *Manager) UnregisterDevice(deviceID string) error {
	m.mu.Lock()
	device, exists := m.devices[deviceID]
	if exists {
		delete(m.devices, deviceID)
	}
	m.mu.Unlock()

	if !exists {
		return fmt.Errorf("device not found: %s", deviceID)
	}
	_ = device.Close()

	m.logger.Info().Str("device", device.String()).Msg("device unregistered")
	return nil
}

// GetDevice retrieves a device by ID.
func (m *Manager) GetDevice(deviceID string) (*Device, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	device, exists := m.devices[deviceID]
	return device, exists
}

// SendTagData converts a device tag report and emits it as a tag event.
func (m *Manager) SendTagData(deviceID string, data protocol.DeviceTagData) error {
	device, err := m.touch(deviceID)
	if err != nil {
		return err
	}

	data.DeviceID = device.DeviceID()
	m.events.EmitTag(ConvertTagData(data))
	m.logger.Debug().Str("device", deviceID).Str("uid", data.UID).Msg("tag received")
	return nil
}

// SendError emits a device-side NFC error.
func (m *Manager) SendError(deviceID string, data protocol.DeviceErrorData) error {
	if _, err := m.touch(deviceID); err != nil {
		return err
	}

	msg := data.Message
	if msg == "" {
		msg = "unknown device error"
	}
	m.events.EmitError(errors.New(msg))
	return nil
}

// UpdateHeartbeat updates device last-seen timestamp.
func (m *Manager) UpdateHeartbeat(deviceID string) error {
	_, err := m.touch(deviceID)
	return err
}

func (m *Manager) touch(deviceID string) (*Device, error) {
	m.mu.RLock()
	device, exists := m.devices[deviceID]
	m.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("device not found: %s", deviceID)
	}
	device.UpdateLastSeen()
	return device, nil
}

// Close stops background tasks and drops all devices.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for _, device := range m.devices {
		_ = device.Close()
	}
	m.devices = make(map[string]*Device)
	m.mu.Unlock()

	if m.cleanupTicker != nil {
		m.cleanupTicker.Stop()
	}
	close(m.stopCleanup)
	m.logger.Info().Msg("manager closed")
}

func (m *Manager) startCleanupRoutine() {
	m.cleanupTicker = time.NewTicker(CleanupInterval)

	go func() {
		for {
			select {
			case <-m.cleanupTicker.C:
				m.cleanupInactiveDevices()
			case <-m.stopCleanup:
				return
			}
		}
	}()
}

// cleanupInactiveDevices removes devices that exceeded the inactivity timeout.
func (m *Manager) cleanupInactiveDevices() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for deviceID, device := range m.devices {
		idle := now.Sub(device.LastSeen())
		if idle > m.inactivityTimeout {
			m.logger.Info().
				Str("device", device.String()).
				Dur("idle", idle).
				Msg("cleaning up inactive device")
			_ = device.Close()
			delete(m.devices, deviceID)
		}
	}
}

func (m *Manager) activeDevices() []*Device {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Device, 0, len(m.devices))
	for _, d := range m.devices {
		if d.IsActive() {
			out = append(out, d)
		}
	}
	return out
}

// GetDeviceCount returns the number of registered devices.
func (m *Manager) GetDeviceCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.devices)
}

// GetActiveDeviceCount returns the number of active devices.
func (m *Manager) GetActiveDeviceCount() int {
	return len(m.activeDevices())
}
