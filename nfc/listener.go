package nfc

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/nedpals/davi-tag-agent/logging"
)

// DefaultQueueSize is the number of hardware notifications buffered
// between the hardware goroutine and the dispatcher.
const DefaultQueueSize = 16

// ListenerState is the lifecycle state of a Listener.
type ListenerState int

const (
	StateInactive ListenerState = iota
	StateActive
)

func (s ListenerState) String() string {
	if s == StateActive {
		return "active"
	}
	return "inactive"
}

// activeState exists only while the listener is subscribed. Its callbacks
// and queue die with it.
type activeState struct {
	onRead  func(serial string)
	onError func(message string)
	queue   chan notification
	done    chan struct{}
}

type notification struct {
	event *TagEvent
	err   error
}

// ListenerOption configures a Listener.
type ListenerOption func(*Listener)

// WithQueueSize sets the notification buffer size.
func WithQueueSize(n int) ListenerOption {
	return func(l *Listener) {
		if n > 0 {
			l.queueSize = n
		}
	}
}

// Listener arms and disarms the hardware subscriptions and turns tag
// events into serials.
//
// At most one subscription is live at a time. Callbacks run sequentially
// on a dispatcher goroutine owned by the active subscription, so they may
// call Deactivate.
type Listener struct {
	hw        Hardware
	queueSize int
	logger    zerolog.Logger

	mu     sync.Mutex
	active *activeState
}

// NewListener creates an inactive listener for hw.
func NewListener(hw Hardware, opts ...ListenerOption) *Listener {
	l := &Listener{
		hw:        hw,
		queueSize: DefaultQueueSize,
		logger:    logging.Component("nfc"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// State returns the current lifecycle state.
func (l *Listener) State() ListenerState {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active != nil {
		return StateActive
	}
	return StateInactive
}

// CheckSupport reports whether the hardware can read tags. Query failures
// are logged and reported as unsupported.
func (l *Listener) CheckSupport(ctx context.Context) bool {
	if !l.hw.Capable() {
		l.logger.Debug().Msg("environment is not nfc capable")
		return false
	}

	ok, err := l.hw.Supported(ctx)
	if err != nil {
		l.logger.Warn().Err(err).Msg("nfc support query failed")
		return false
	}
	return ok
}

// Activate subscribes to the hardware and starts delivering serials to
// onRead and failure messages to onError.
func (l *Listener) Activate(onRead func(serial string), onError func(message string)) error {
	if onRead == nil || onError == nil {
		return ErrNilCallback
	}
	if !l.hw.Capable() {
		return ErrUnsupportedEnvironment
	}

	l.mu.Lock()
	if l.active != nil {
		l.mu.Unlock()
		l.logger.Warn().Msg("activate called while already active")
		return ErrAlreadyActive
	}

	st := &activeState{
		onRead:  onRead,
		onError: onError,
		queue:   make(chan notification, l.queueSize),
		done:    make(chan struct{}),
	}

	if err := l.subscribe(st); err != nil {
		l.mu.Unlock()
		wrapped := WrapError(ErrCodeSubscribe, "Activate", ErrSubscribe.Message, err)
		l.logger.Error().Err(err).Msg("nfc initialisation failed")
		onError(wrapped.Message + ": " + err.Error())
		return wrapped
	}

	l.active = st
	l.mu.Unlock()

	go l.dispatch(st)
	l.logger.Info().Msg("listener active")
	return nil
}

// subscribe registers both handlers, undoing the tag subscription when the
// error subscription fails.
func (l *Listener) subscribe(st *activeState) error {
	if err := l.hw.OnTag(func(ev *TagEvent) {
		l.enqueue(st, notification{event: ev})
	}); err != nil {
		return err
	}

	if err := l.hw.OnError(func(err error) {
		l.enqueue(st, notification{err: err})
	}); err != nil {
		if rmErr := l.hw.RemoveAllListeners(ChannelTag); rmErr != nil {
			l.logger.Warn().Err(rmErr).Msg("rollback of tag subscription failed")
		}
		return err
	}
	return nil
}

// enqueue hands a notification to the dispatcher without blocking the
// hardware goroutine.
func (l *Listener) enqueue(st *activeState, n notification) {
	select {
	case <-st.done:
		return
	default:
	}

	select {
	case st.queue <- n:
	default:
		l.logger.Warn().Msg("notification queue full, dropping event")
	}
}

func (l *Listener) dispatch(st *activeState) {
	for {
		select {
		case <-st.done:
			return
		case n := <-st.queue:
			// Drop anything that raced with teardown.
			select {
			case <-st.done:
				return
			default:
			}
			l.handle(st, n)
		}
	}
}

func (l *Listener) handle(st *activeState, n notification) {
	if n.err != nil {
		l.logger.Warn().Err(n.err).Msg("hardware error")
		st.onError("nfc error: " + n.err.Error())
		return
	}

	s, err := ParseEvent(n.event)
	if err != nil {
		if !errors.Is(err, ErrNoData) {
			l.logger.Error().Err(err).Msg("unexpected parse failure")
		}
		l.logger.Debug().Err(err).Msg("tag without usable data")
		st.onError(ErrNoData.Message)
		return
	}

	l.logger.Info().Str("serial", s).Msg("tag read")
	st.onRead(s)
}

// ScanOnDemand reports whether reads must be started with StartScan.
func (l *Listener) ScanOnDemand() bool {
	return l.hw.ScanOnDemand()
}

// StartScan begins a read session on hardware that only scans on demand.
// It is a no-op elsewhere.
func (l *Listener) StartScan(ctx context.Context) error {
	if !l.hw.ScanOnDemand() {
		return nil
	}
	if err := l.hw.StartScan(ctx); err != nil {
		return WrapError(ErrCodeHardware, "StartScan", "failed to start scan", err)
	}
	return nil
}

// Deactivate drops the subscriptions and callbacks. Calling it while
// inactive does nothing.
func (l *Listener) Deactivate() {
	l.mu.Lock()
	st := l.active
	l.active = nil
	l.mu.Unlock()

	if st == nil {
		return
	}
	close(st.done)

	for _, ch := range []Channel{ChannelTag, ChannelError} {
		if err := l.hw.RemoveAllListeners(ch); err != nil {
			l.logger.Warn().Err(err).Str("channel", string(ch)).Msg("failed to remove listeners")
		}
	}
	l.logger.Info().Msg("listener inactive")
}
