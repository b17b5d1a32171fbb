package nfc

import (
	"context"
	"fmt"
	"sync"
)

// MockHardware is a Hardware that simulates a reader without a device.
//
// Tests drive it with Tag and Fail, and configure failures through the
// exported error fields.
//
// Example:
//
//	hw := nfc.NewMockHardware()
//	l := nfc.NewListener(hw)
//	_ = l.Activate(onRead, onError)
//	hw.Tag(nfc.NewTagEvent("mock", nfc.TextPayload("04:A2")))
type MockHardware struct {
	events Emitter

	// IsCapable is returned by Capable()
	IsCapable bool

	// IsSupported and SupportedError are returned by Supported()
	IsSupported    bool
	SupportedError error

	// OnTagError and OnErrorError, if set, fail the matching subscription
	OnTagError   error
	OnErrorError error

	// RemoveError, if set, is returned by RemoveAllListeners()
	RemoveError error

	// OnDemand is returned by ScanOnDemand()
	OnDemand       bool
	StartScanError error

	// CallLog tracks all method calls for verification in tests
	CallLog []string

	mu sync.Mutex
}

// NewMockHardware creates a capable, supported MockHardware.
func NewMockHardware() *MockHardware {
	return &MockHardware{
		IsCapable:   true,
		IsSupported: true,
		CallLog:     make([]string, 0),
	}
}

func (m *MockHardware) record(call string) {
	m.mu.Lock()
	m.CallLog = append(m.CallLog, call)
	m.mu.Unlock()
}

func (m *MockHardware) Capable() bool {
	m.record("Capable")
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.IsCapable
}

func (m *MockHardware) Supported(ctx context.Context) (bool, error) {
	m.record("Supported")
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.IsSupported, m.SupportedError
}

func (m *MockHardware) OnTag(handler func(*TagEvent)) error {
	m.record("OnTag")
	m.mu.Lock()
	err := m.OnTagError
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return m.events.OnTag(handler)
}

func (m *MockHardware) OnError(handler func(error)) error {
	m.record("OnError")
	m.mu.Lock()
	err := m.OnErrorError
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return m.events.OnError(handler)
}

func (m *MockHardware) RemoveAllListeners(ch Channel) error {
	m.record(fmt.Sprintf("RemoveAllListeners(%s)", ch))
	if err := m.events.RemoveAllListeners(ch); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.RemoveError
}

func (m *MockHardware) ScanOnDemand() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.OnDemand
}

func (m *MockHardware) StartScan(ctx context.Context) error {
	m.record("StartScan")
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.StartScanError
}

// Tag simulates a tag coming into range.
func (m *MockHardware) Tag(ev *TagEvent) {
	m.events.EmitTag(ev)
}

// Fail simulates a hardware error notification.
func (m *MockHardware) Fail(err error) {
	m.events.EmitError(err)
}

// HandlerCount returns the number of handlers subscribed on ch.
func (m *MockHardware) HandlerCount(ch Channel) int {
	return m.events.HandlerCount(ch)
}

// GetCallLog returns a copy of the call log for verification.
func (m *MockHardware) GetCallLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.CallLog...)
}

// ClearCallLog clears the call log.
func (m *MockHardware) ClearCallLog() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallLog = make([]string, 0)
}
