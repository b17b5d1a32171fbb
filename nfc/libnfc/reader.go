// Package libnfc reads tag UIDs from USB readers through libnfc.
package libnfc

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nedpals/davi-tag-agent/logging"
	"github.com/nedpals/davi-tag-agent/nfc"
)

// Reader timing constants
const (
	DefaultPollingInterval = 250 * time.Millisecond
	DeviceRetryInterval    = 3 * time.Second
)

// SourceName is the TagEvent source for USB readers.
const SourceName = "libnfc"

// Reader implements nfc.Hardware for a libnfc reader.
//
// Each tag entering the field is reported once, as a byte payload holding
// its UID. A tag must leave the field before it is reported again.
type Reader struct {
	events nfc.Emitter

	conn     string
	interval time.Duration
	open     opener
	list     func() ([]string, error)
	logger   zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	present map[string]bool
}

var _ nfc.Hardware = (*Reader)(nil)

// NewReader creates a reader for the libnfc connection string conn.
// An empty conn selects the first device found.
func NewReader(conn string) *Reader {
	logger := logging.Component("libnfc")
	return &Reader{
		conn:     conn,
		interval: DefaultPollingInterval,
		open:     openDevice(logger),
		list:     listDevices,
		logger:   logger,
		present:  make(map[string]bool),
	}
}

// Capable is true: libnfc is linked into the binary.
func (r *Reader) Capable() bool {
	return true
}

// Supported reports whether any libnfc device is attached.
func (r *Reader) Supported(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	devices, err := r.list()
	if err != nil {
		return false, err
	}
	return len(devices) > 0, nil
}

func (r *Reader) OnTag(handler func(*nfc.TagEvent)) error { return r.events.OnTag(handler) }
func (r *Reader) OnError(handler func(error)) error       { return r.events.OnError(handler) }

func (r *Reader) RemoveAllListeners(ch nfc.Channel) error {
	return r.events.RemoveAllListeners(ch)
}

// ScanOnDemand is false: the reader polls continuously.
func (r *Reader) ScanOnDemand() bool {
	return false
}

func (r *Reader) StartScan(context.Context) error {
	return nil
}

// Start begins polling in the background. It is a no-op when already running.
func (r *Reader) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}

	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go r.worker(ctx, r.done)
}

// Close stops polling and waits for the worker to exit.
func (r *Reader) Close() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (r *Reader) worker(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		dev, err := r.open(r.conn)
		if err != nil {
			r.logger.Warn().Err(err).Msg("no reader available, retrying")
			if !sleep(ctx, DeviceRetryInterval) {
				return
			}
			continue
		}

		r.logger.Info().Str("device", dev.String()).Msg("reader connected")
		err = r.pollLoop(ctx, dev)
		dev.Close()
		if err == nil {
			return
		}

		r.logger.Error().Err(err).Msg("reader failed")
		r.events.EmitError(err)
		r.resetPresent()
		if !sleep(ctx, DeviceRetryInterval) {
			return
		}
	}
}

// pollLoop polls until ctx is done (nil) or the device fails (the error).
func (r *Reader) pollLoop(ctx context.Context, dev poller) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		uids, err := dev.Poll()
		if err != nil {
			return err
		}
		r.report(uids)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// report emits the UIDs that were not in the field at the previous poll.
func (r *Reader) report(uids [][]byte) {
	now := make(map[string]bool, len(uids))
	var arrived [][]byte

	r.mu.Lock()
	for _, uid := range uids {
		key := string(uid)
		now[key] = true
		if !r.present[key] {
			arrived = append(arrived, uid)
		}
	}
	r.present = now
	r.mu.Unlock()

	for _, uid := range arrived {
		ev := nfc.NewTagEvent(SourceName, nfc.BytesPayload(uid))
		r.events.EmitTag(ev)
	}
}

func (r *Reader) resetPresent() {
	r.mu.Lock()
	r.present = make(map[string]bool)
	r.mu.Unlock()
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
