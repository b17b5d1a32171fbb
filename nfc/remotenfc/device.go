package remotenfc

import (
	"fmt"
	"sync"
	"time"

	"github.com/nedpals/davi-tag-agent/protocol"
)

// Device timing constants
const (
	DeviceTimeout   = 30 * time.Second // Device inactivity timeout
	CleanupInterval = 15 * time.Second // Cleanup check interval
)

// SourceName is the TagEvent source for remote devices.
const SourceName = "remote"

// SendFunc delivers a message to a connected device.
type SendFunc func(msg protocol.WebSocketMessage) error

// Device is a phone connected over the device WebSocket.
type Device struct {
	deviceID   string
	deviceName string
	platform   string
	appVersion string
	metadata   map[string]string
	send       SendFunc

	mu       sync.RWMutex
	isActive bool
	lastSeen time.Time
}

// NewDevice creates a device from its registration request.
func NewDevice(deviceID string, req protocol.DeviceRegistrationRequest, send SendFunc) *Device {
	return &Device{
		deviceID:   deviceID,
		deviceName: req.DeviceName,
		platform:   req.Platform,
		appVersion: req.AppVersion,
		metadata:   req.Metadata,
		send:       send,
		isActive:   true,
		lastSeen:   time.Now(),
	}
}

// Close marks the device inactive.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.isActive = false
	return nil
}

// String returns a human-readable device name.
func (d *Device) String() string {
	return fmt.Sprintf("%s [%s:%s]", d.deviceName, d.platform, d.deviceID)
}

// Send writes a message to the device.
func (d *Device) Send(msg protocol.WebSocketMessage) error {
	if !d.IsActive() {
		return fmt.Errorf("device is not active: %s", d.deviceID)
	}
	if d.send == nil {
		return fmt.Errorf("device has no connection: %s", d.deviceID)
	}
	return d.send(msg)
}

// ScanOnDemand reports whether the device reads only after a startScan.
// iOS only opens an NFC reader session on request.
func (d *Device) ScanOnDemand() bool {
	return d.platform == protocol.PlatformIOS
}

// UpdateLastSeen updates the device's last activity timestamp.
func (d *Device) UpdateLastSeen() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastSeen = time.Now()
}

// IsActive returns whether the device is currently active.
func (d *Device) IsActive() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.isActive
}

// LastSeen returns the last activity timestamp.
func (d *Device) LastSeen() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastSeen
}

func (d *Device) DeviceID() string   { return d.deviceID }
func (d *Device) Name() string       { return d.deviceName }
func (d *Device) Platform() string   { return d.platform }
func (d *Device) AppVersion() string { return d.appVersion }

// Metadata returns a copy of the device metadata.
func (d *Device) Metadata() map[string]string {
	out := make(map[string]string, len(d.metadata))
	for k, v := range d.metadata {
		out[k] = v
	}
	return out
}
