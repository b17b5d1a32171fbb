// Package pipeline connects the tag listener to the submission client and
// reports every step to the registered sinks.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nedpals/davi-tag-agent/api"
	"github.com/nedpals/davi-tag-agent/logging"
	"github.com/nedpals/davi-tag-agent/nfc"
	"github.com/nedpals/davi-tag-agent/serial"
)

// Operation names a remote call.
type Operation string

const (
	OpSubmit Operation = "submit"
	OpSearch Operation = "search"
)

// Submission is a completed remote call.
type Submission struct {
	Op     Operation
	Serial string
	Result api.Result
	At     time.Time
}

// Sink receives pipeline notifications. Methods are called from pipeline
// goroutines and must not block for long.
type Sink interface {
	TagRead(serial string)
	ReadError(message string)
	Submitted(sub Submission)
}

// Submitter performs remote calls without blocking the caller.
type Submitter interface {
	SubmitAsync(ctx context.Context, serial string) <-chan api.Result
	SearchAsync(ctx context.Context, serial string) <-chan api.Result
}

// Status is a snapshot of the pipeline state.
type Status struct {
	Listening      bool
	Supported      bool
	ScanOnDemand   bool
	LastSerial     string
	LastSubmission *Submission
}

// Pipeline reads serials from a listener and submits each one.
type Pipeline struct {
	listener *nfc.Listener
	client   Submitter
	logger   zerolog.Logger

	mu         sync.RWMutex
	sinks      []Sink
	ctx        context.Context
	cancel     context.CancelFunc
	lastSerial string
	lastSub    *Submission

	inflight sync.WaitGroup
}

// New creates a pipeline. It does nothing until Start.
func New(listener *nfc.Listener, client Submitter, sinks ...Sink) *Pipeline {
	return &Pipeline{
		listener: listener,
		client:   client,
		sinks:    sinks,
		ctx:      context.Background(),
		logger:   logging.Component("pipeline"),
	}
}

// AddSink registers another sink.
func (p *Pipeline) AddSink(s Sink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sinks = append(p.sinks, s)
}

// Start activates the listener. Submissions made after Start are bound to
// ctx and cancelled by Stop.
func (p *Pipeline) Start(ctx context.Context) error {
	if !p.listener.CheckSupport(ctx) {
		p.logger.Warn().Msg("nfc not available yet, listening anyway")
	}

	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return nfc.ErrAlreadyActive
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()

	if err := p.listener.Activate(p.handleSerial, p.handleError); err != nil {
		p.mu.Lock()
		p.cancel()
		p.ctx, p.cancel = context.Background(), nil
		p.mu.Unlock()
		return err
	}
	return nil
}

// Stop deactivates the listener, cancels in-flight calls and waits for them.
func (p *Pipeline) Stop() {
	p.listener.Deactivate()

	p.mu.Lock()
	cancel := p.cancel
	p.ctx, p.cancel = context.Background(), nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.inflight.Wait()
}

// StartScan asks on-demand hardware to begin reading.
func (p *Pipeline) StartScan(ctx context.Context) error {
	return p.listener.StartScan(ctx)
}

// Inject feeds a manually entered serial through the pipeline as if it
// had been read from a tag.
func (p *Pipeline) Inject(raw string) (string, error) {
	s, err := serial.Parse(raw)
	if err != nil {
		return "", err
	}
	p.handleSerial(s)
	return s, nil
}

// Retry submits serial again.
func (p *Pipeline) Retry(serial string) error {
	return p.run(OpSubmit, serial)
}

// Search looks serial up on the search endpoint.
func (p *Pipeline) Search(serial string) error {
	return p.run(OpSearch, serial)
}

// Status returns a snapshot of the pipeline state. Hardware support is
// queried afresh since remote readers come and go.
func (p *Pipeline) Status(ctx context.Context) Status {
	supported := p.listener.CheckSupport(ctx)

	p.mu.RLock()
	defer p.mu.RUnlock()

	st := Status{
		Listening:    p.listener.State() == nfc.StateActive,
		Supported:    supported,
		ScanOnDemand: p.listener.ScanOnDemand(),
		LastSerial:   p.lastSerial,
	}
	if p.lastSub != nil {
		sub := *p.lastSub
		st.LastSubmission = &sub
	}
	return st
}

func (p *Pipeline) handleSerial(s string) {
	p.mu.Lock()
	p.lastSerial = s
	p.mu.Unlock()

	for _, sink := range p.snapshotSinks() {
		sink.TagRead(s)
	}
	if err := p.run(OpSubmit, s); err != nil {
		p.logger.Error().Err(err).Str("serial", s).Msg("submission not started")
	}
}

func (p *Pipeline) handleError(msg string) {
	for _, sink := range p.snapshotSinks() {
		sink.ReadError(msg)
	}
}

// run starts op on its own goroutine.
func (p *Pipeline) run(op Operation, s string) error {
	if s == "" {
		return serial.ErrEmpty
	}

	if op != OpSubmit && op != OpSearch {
		return errors.New("unknown operation: " + string(op))
	}

	p.mu.RLock()
	ctx := p.ctx
	p.inflight.Add(1)
	p.mu.RUnlock()

	var ch <-chan api.Result
	if op == OpSearch {
		ch = p.client.SearchAsync(ctx, s)
	} else {
		ch = p.client.SubmitAsync(ctx, s)
	}

	go func() {
		defer p.inflight.Done()
		res := <-ch
		p.complete(Submission{Op: op, Serial: s, Result: res, At: time.Now()})
	}()
	return nil
}

func (p *Pipeline) complete(sub Submission) {
	p.mu.Lock()
	p.lastSub = &sub
	p.mu.Unlock()

	p.logger.Info().
		Str("op", string(sub.Op)).
		Str("serial", sub.Serial).
		Stringer("outcome", sub.Result.Kind).
		Msg("submission complete")

	for _, sink := range p.snapshotSinks() {
		sink.Submitted(sub)
	}
}

func (p *Pipeline) snapshotSinks() []Sink {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Sink(nil), p.sinks...)
}
