package nfc

import (
	"context"
	"fmt"
	"sync"
)

// Channel names a hardware event channel.
type Channel string

const (
	ChannelTag   Channel = "nfcTag"
	ChannelError Channel = "nfcError"
)

// Hardware is a source of tag events.
//
// Handlers registered with OnTag and OnError are invoked on the
// hardware's own goroutine and must not block.
type Hardware interface {
	// Capable reports whether the runtime environment can host this
	// hardware at all. It must not touch the device.
	Capable() bool

	// Supported asks the hardware whether reading is available.
	Supported(ctx context.Context) (bool, error)

	OnTag(handler func(*TagEvent)) error
	OnError(handler func(error)) error

	// RemoveAllListeners drops every handler registered on ch.
	RemoveAllListeners(ch Channel) error

	// ScanOnDemand reports whether reads must be started explicitly with
	// StartScan rather than being delivered whenever a tag is in range.
	ScanOnDemand() bool
	StartScan(ctx context.Context) error
}

// Emitter keeps the handlers registered on a Hardware and fans events out
// to them. The zero value is ready to use.
type Emitter struct {
	mu          sync.RWMutex
	tagHandlers []func(*TagEvent)
	errHandlers []func(error)
}

func (e *Emitter) OnTag(handler func(*TagEvent)) error {
	if handler == nil {
		return fmt.Errorf("tag handler cannot be nil")
	}
	e.mu.Lock()
	e.tagHandlers = append(e.tagHandlers, handler)
	e.mu.Unlock()
	return nil
}

func (e *Emitter) OnError(handler func(error)) error {
	if handler == nil {
		return fmt.Errorf("error handler cannot be nil")
	}
	e.mu.Lock()
	e.errHandlers = append(e.errHandlers, handler)
	e.mu.Unlock()
	return nil
}

func (e *Emitter) RemoveAllListeners(ch Channel) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch ch {
	case ChannelTag:
		e.tagHandlers = nil
	case ChannelError:
		e.errHandlers = nil
	default:
		return fmt.Errorf("unknown channel: %s", ch)
	}
	return nil
}

// EmitTag delivers ev to every tag handler.
func (e *Emitter) EmitTag(ev *TagEvent) {
	e.mu.RLock()
	handlers := append([]func(*TagEvent){}, e.tagHandlers...)
	e.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

// EmitError delivers err to every error handler.
func (e *Emitter) EmitError(err error) {
	e.mu.RLock()
	handlers := append([]func(error){}, e.errHandlers...)
	e.mu.RUnlock()

	for _, h := range handlers {
		h(err)
	}
}

// HandlerCount returns the number of handlers registered on ch.
func (e *Emitter) HandlerCount(ch Channel) int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	switch ch {
	case ChannelTag:
		return len(e.tagHandlers)
	case ChannelError:
		return len(e.errHandlers)
	}
	return 0
}
