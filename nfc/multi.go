package nfc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/nedpals/davi-tag-agent/logging"
)

// HardwareEntry is a named member of a MultiHardware.
type HardwareEntry struct {
	Name     string
	Hardware Hardware
}

// MultiHardware merges the events of several hardware backends into one
// Hardware. Members are kept in registration order.
type MultiHardware struct {
	Emitter

	mu      sync.RWMutex
	members map[string]Hardware
	order   []string
	logger  zerolog.Logger
}

// NewMultiHardware creates a MultiHardware over the given entries.
// Invalid and duplicate entries are skipped.
//
// Example:
//
//	hw := nfc.NewMultiHardware(
//	    nfc.HardwareEntry{Name: "remote", Hardware: remoteManager},
//	    nfc.HardwareEntry{Name: "libnfc", Hardware: reader},
//	)
func NewMultiHardware(entries ...HardwareEntry) *MultiHardware {
	mh := &MultiHardware{
		members: make(map[string]Hardware),
		logger:  logging.Component("multi"),
	}

	for _, entry := range entries {
		if err := mh.Add(entry.Name, entry.Hardware); err != nil {
			mh.logger.Warn().Err(err).Str("name", entry.Name).Msg("skipping hardware entry")
		}
	}
	return mh
}

// Add registers hw under name and starts forwarding its events.
func (mh *MultiHardware) Add(name string, hw Hardware) error {
	if name == "" {
		return fmt.Errorf("hardware name cannot be empty")
	}
	if hw == nil {
		return fmt.Errorf("hardware cannot be nil")
	}

	mh.mu.Lock()
	defer mh.mu.Unlock()

	if _, exists := mh.members[name]; exists {
		return fmt.Errorf("hardware with name '%s' already exists", name)
	}

	if err := hw.OnTag(mh.EmitTag); err != nil {
		return fmt.Errorf("subscribe to %s tags: %w", name, err)
	}
	if err := hw.OnError(func(err error) {
		mh.EmitError(fmt.Errorf("%s: %w", name, err))
	}); err != nil {
		_ = hw.RemoveAllListeners(ChannelTag)
		return fmt.Errorf("subscribe to %s errors: %w", name, err)
	}

	mh.members[name] = hw
	mh.order = append(mh.order, name)
	mh.logger.Info().Str("name", name).Msg("hardware registered")
	return nil
}

// Remove stops forwarding events from the named member.
func (mh *MultiHardware) Remove(name string) error {
	mh.mu.Lock()
	defer mh.mu.Unlock()

	hw, exists := mh.members[name]
	if !exists {
		return fmt.Errorf("hardware not found: %s", name)
	}

	delete(mh.members, name)
	for i, n := range mh.order {
		if n == name {
			mh.order = append(mh.order[:i], mh.order[i+1:]...)
			break
		}
	}

	err := errors.Join(hw.RemoveAllListeners(ChannelTag), hw.RemoveAllListeners(ChannelError))
	mh.logger.Info().Str("name", name).Msg("hardware removed")
	return err
}

// Get returns the named member.
func (mh *MultiHardware) Get(name string) (Hardware, bool) {
	mh.mu.RLock()
	defer mh.mu.RUnlock()
	hw, ok := mh.members[name]
	return hw, ok
}

// Names returns the member names in registration order.
func (mh *MultiHardware) Names() []string {
	mh.mu.RLock()
	defer mh.mu.RUnlock()
	return append([]string(nil), mh.order...)
}

func (mh *MultiHardware) snapshot() []Hardware {
	mh.mu.RLock()
	defer mh.mu.RUnlock()
	out := make([]Hardware, 0, len(mh.order))
	for _, name := range mh.order {
		out = append(out, mh.members[name])
	}
	return out
}

// Capable reports whether any member is capable.
func (mh *MultiHardware) Capable() bool {
	for _, hw := range mh.snapshot() {
		if hw.Capable() {
			return true
		}
	}
	return false
}

// Supported reports whether any capable member supports reading. Errors
// are returned only when no member reports support.
func (mh *MultiHardware) Supported(ctx context.Context) (bool, error) {
	var errs []error
	for _, hw := range mh.snapshot() {
		if !hw.Capable() {
			continue
		}
		ok, err := hw.Supported(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			return true, nil
		}
	}
	return false, errors.Join(errs...)
}

// ScanOnDemand reports whether any member needs explicit scans.
func (mh *MultiHardware) ScanOnDemand() bool {
	for _, hw := range mh.snapshot() {
		if hw.ScanOnDemand() {
			return true
		}
	}
	return false
}

// StartScan starts a scan on every member that scans on demand.
func (mh *MultiHardware) StartScan(ctx context.Context) error {
	var errs []error
	for _, hw := range mh.snapshot() {
		if !hw.ScanOnDemand() {
			continue
		}
		if err := hw.StartScan(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
