package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nedpals/davi-tag-agent/api"
	"github.com/nedpals/davi-tag-agent/config"
	"github.com/nedpals/davi-tag-agent/pipeline"
)

// newTestAgent builds a remote-only agent whose API is an httptest server.
// The returned func lists the request bodies the API received.
func newTestAgent(t *testing.T) (*Agent, func() []string) {
	t.Helper()

	var mu sync.Mutex
	var bodies []string
	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, r.URL.Path+" "+string(raw))
		mu.Unlock()
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	t.Cleanup(apiSrv.Close)

	cfg := &config.Config{
		API:      config.APIConfig{URL: apiSrv.URL + "/tags", SearchPath: "search", Timeout: 5 * time.Second},
		Server:   config.ServerConfig{Port: 0},
		Hardware: config.HardwareConfig{Remote: true},
	}
	a, err := NewAgent(cfg)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	return a, func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), bodies...)
	}
}

func TestNewAgent_RequiresHardware(t *testing.T) {
	cfg := &config.Config{API: config.APIConfig{URL: "http://localhost/tags"}}
	_, err := NewAgent(cfg)
	assert.Error(t, err)
}

func TestAgent_StartStop(t *testing.T) {
	a, _ := newTestAgent(t)
	require.NotNil(t, a.Devices)
	assert.Nil(t, a.Reader)

	ctx := context.Background()
	require.NoError(t, a.Start(ctx))
	assert.True(t, a.Listening())
	assert.Error(t, a.Start(ctx), "second start should fail")

	a.Stop(ctx)
	assert.False(t, a.Listening())

	// restartable after a stop
	require.NoError(t, a.Start(ctx))
	a.Stop(ctx)
}

func TestAgent_SetListening(t *testing.T) {
	a, _ := newTestAgent(t)
	ctx := context.Background()

	assert.Error(t, a.SetListening(ctx, true), "not running")

	require.NoError(t, a.Start(ctx))
	require.NoError(t, a.SetListening(ctx, false))
	assert.False(t, a.Listening())

	require.NoError(t, a.SetListening(ctx, true))
	assert.True(t, a.Listening())
	require.NoError(t, a.SetListening(ctx, true))
	assert.True(t, a.Listening())
}

type submittedSink struct {
	ch chan pipeline.Submission
}

func (s *submittedSink) TagRead(string)                   {}
func (s *submittedSink) ReadError(string)                 {}
func (s *submittedSink) Submitted(sub pipeline.Submission) { s.ch <- sub }

func TestAgent_InjectReachesAPI(t *testing.T) {
	a, received := newTestAgent(t)
	sink := &submittedSink{ch: make(chan pipeline.Submission, 1)}
	a.Pipeline.AddSink(sink)

	require.NoError(t, a.Start(context.Background()))

	normalized, err := a.Pipeline.Inject("04a21f9b")
	require.NoError(t, err)
	assert.Equal(t, "04:A2:1F:9B", normalized)

	select {
	case sub := <-sink.ch:
		assert.Equal(t, pipeline.OpSubmit, sub.Op)
		assert.True(t, sub.Result.OK(), sub.Result.Message)
	case <-time.After(3 * time.Second):
		t.Fatal("submission did not complete")
	}

	got := received()
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "/tags ")
	assert.Contains(t, got[0], "04:A2:1F:9B")
}

func TestResultSummary(t *testing.T) {
	t.Parallel()

	ok := pipeline.Submission{Op: pipeline.OpSubmit, Serial: "04:A2", Result: api.Result{Kind: api.ResultSuccess, Status: 200}}
	assert.Equal(t, "submit 04:A2 ok", resultSummary(ok))

	failed := pipeline.Submission{
		Op:     pipeline.OpSearch,
		Serial: "04:A2",
		Result: api.Result{Kind: api.ResultApplicationError, Message: "dup"},
	}
	assert.Equal(t, "search 04:A2 failed: dup", resultSummary(failed))
}
