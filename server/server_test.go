package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nedpals/davi-tag-agent/api"
	"github.com/nedpals/davi-tag-agent/nfc"
	"github.com/nedpals/davi-tag-agent/nfc/remotenfc"
	"github.com/nedpals/davi-tag-agent/pipeline"
	"github.com/nedpals/davi-tag-agent/protocol"
	"github.com/nedpals/davi-tag-agent/serial"
)

// fakeController records what the server asked of the pipeline.
type fakeController struct {
	mu       sync.Mutex
	injected []string
	retried  []string
	searched []string
	scans    int
	scanErr  error
	status   pipeline.Status
}

func (f *fakeController) StartScan(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans++
	return f.scanErr
}

func (f *fakeController) Retry(s string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retried = append(f.retried, s)
	return nil
}

func (f *fakeController) Search(s string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searched = append(f.searched, s)
	return nil
}

func (f *fakeController) Inject(raw string) (string, error) {
	s, err := serial.Parse(raw)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.injected = append(f.injected, s)
	return s, nil
}

func (f *fakeController) Status(ctx context.Context) pipeline.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func newTestServer(t *testing.T, cfg Config) (*Server, *httptest.Server) {
	t.Helper()
	if cfg.Controller == nil {
		cfg.Controller = &fakeController{}
	}
	s, err := New(cfg)
	require.NoError(t, err)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Hub().CloseAll()
		ts.Close()
	})
	return s, ts
}

func wsURL(ts *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws" + query
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readJSON reads the next message into a generic map.
func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestNew_RequiresController(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, Config{})

	resp, err := http.Get(ts.URL + "/api/v1/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])

	resp, err = http.Post(ts.URL+"/api/v1/health", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, Config{})

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/v1/tag", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, CORSAllowMethods, resp.Header.Get("Access-Control-Allow-Methods"))
}

func TestStatusEndpoint(t *testing.T) {
	t.Parallel()
	ctl := &fakeController{status: pipeline.Status{
		Listening:  true,
		Supported:  true,
		LastSerial: "04:A2",
		LastSubmission: &pipeline.Submission{
			Op:     pipeline.OpSubmit,
			Serial: "04:A2",
			Result: api.Result{Kind: api.ResultApplicationError, Message: "dup", Status: 200},
		},
	}}
	_, ts := newTestServer(t, Config{Controller: ctl})

	resp, err := http.Get(ts.URL + "/api/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	var got protocol.StatusPayload
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.True(t, got.Listening)
	assert.Equal(t, "04:A2", got.LastSerial)
	require.NotNil(t, got.LastSubmitted)
	assert.Equal(t, "applicationError", got.LastSubmitted.Outcome)
	assert.Equal(t, "dup", got.LastSubmitted.Message)
}

func TestConsumerWebSocket_StatusOnConnect(t *testing.T) {
	t.Parallel()
	ctl := &fakeController{status: pipeline.Status{Listening: true, ScanOnDemand: true}}
	_, ts := newTestServer(t, Config{Controller: ctl})

	conn := dial(t, wsURL(ts, ""))
	msg := readJSON(t, conn)
	assert.Equal(t, protocol.WSTypeStatus, msg["type"])
	payload := msg["payload"].(map[string]any)
	assert.Equal(t, true, payload["listening"])
	assert.Equal(t, true, payload["scanOnDemand"])
}

func TestConsumerWebSocket_Requests(t *testing.T) {
	t.Parallel()
	ctl := &fakeController{}
	_, ts := newTestServer(t, Config{Controller: ctl})

	conn := dial(t, wsURL(ts, ""))
	readJSON(t, conn) // initial status

	tests := []struct {
		name    string
		request string
		typ     string
		success bool
		code    string
	}{
		{"submit", `{"id":"1","type":"submit","payload":{"serial":"04a2"}}`, "submit", true, ""},
		{"search", `{"id":"2","type":"search","payload":{"serial":"04 A2"}}`, "search", true, ""},
		{"invalid serial", `{"id":"3","type":"submit","payload":{"serial":"zz"}}`, "error", false, protocol.ErrCodeInvalidSerial},
		{"bad payload", `{"id":"4","type":"search","payload":"nope"}`, "error", false, ErrCodeInvalidPayload},
		{"start scan", `{"id":"5","type":"startScan"}`, "startScan", true, ""},
		{"status", `{"id":"6","type":"getStatus"}`, "status", true, ""},
		{"unknown", `{"id":"7","type":"writeTag"}`, "error", false, protocol.ErrCodeUnknownType},
	}

	for _, tt := range tests {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(tt.request)), tt.name)
		msg := readJSON(t, conn)
		assert.Equal(t, tt.typ, msg["type"], tt.name)
		assert.Equal(t, tt.success, msg["success"], tt.name)
		if tt.code != "" {
			assert.Equal(t, tt.code, msg["payload"].(map[string]any)["code"], tt.name)
		}
	}

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	msg := readJSON(t, conn)
	assert.Equal(t, protocol.ErrCodeParseError, msg["payload"].(map[string]any)["code"])

	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	assert.Equal(t, []string{"04:A2"}, ctl.retried)
	assert.Equal(t, []string{"04:A2"}, ctl.searched)
	assert.Equal(t, 1, ctl.scans)
}

func TestConsumerWebSocket_Secret(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, Config{APISecret: "s3cret"})

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "?secret=wrong"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn := dial(t, wsURL(ts, "?secret=s3cret"))
	assert.Equal(t, protocol.WSTypeStatus, readJSON(t, conn)["type"])
}

func TestHub_Broadcast(t *testing.T) {
	t.Parallel()
	s, ts := newTestServer(t, Config{})

	a := dial(t, wsURL(ts, ""))
	b := dial(t, wsURL(ts, ""))
	readJSON(t, a)
	readJSON(t, b)
	require.Eventually(t, func() bool { return s.Hub().Count() == 2 }, 2*time.Second, 5*time.Millisecond)

	s.Hub().TagRead("04:A2")
	for _, conn := range []*websocket.Conn{a, b} {
		msg := readJSON(t, conn)
		assert.Equal(t, protocol.WSTypeTagRead, msg["type"])
		assert.Equal(t, "04:A2", msg["payload"].(map[string]any)["serial"])
	}

	s.Hub().ReadError(nfc.ErrNoData.Message)
	msg := readJSON(t, a)
	assert.Equal(t, protocol.WSTypeReadError, msg["type"])
	assert.Equal(t, nfc.ErrNoData.Message, msg["payload"].(map[string]any)["message"])

	s.Hub().Submitted(pipeline.Submission{
		Op:     pipeline.OpSearch,
		Serial: "04:A2",
		Result: api.Result{Kind: api.ResultSuccess, Status: 200, Payload: json.RawMessage(`{"found":true}`)},
		At:     time.Now(),
	})
	msg = readJSON(t, a)
	assert.Equal(t, protocol.WSTypeSubmission, msg["type"])
	payload := msg["payload"].(map[string]any)
	assert.Equal(t, "search", payload["operation"])
	assert.Equal(t, "success", payload["outcome"])
	assert.Equal(t, map[string]any{"found": true}, payload["data"])

	a.Close()
	require.Eventually(t, func() bool { return s.Hub().Count() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestDeviceWebSocket(t *testing.T) {
	t.Parallel()

	manager := remotenfc.NewManager(time.Minute)
	t.Cleanup(manager.Close)

	tags := make(chan *nfc.TagEvent, 1)
	require.NoError(t, manager.OnTag(func(ev *nfc.TagEvent) { tags <- ev }))
	errs := make(chan error, 1)
	require.NoError(t, manager.OnError(func(err error) { errs <- err }))

	_, ts := newTestServer(t, Config{Devices: manager})
	conn := dial(t, wsURL(ts, "?mode=device"))

	require.NoError(t, conn.WriteJSON(map[string]any{
		"id":   "r1",
		"type": protocol.WSTypeRegisterDevice,
		"payload": protocol.DeviceRegistrationRequest{
			DeviceName: "Test Phone",
			Platform:   protocol.PlatformIOS,
			AppVersion: "1.0.0",
		},
	}))
	msg := readJSON(t, conn)
	require.Equal(t, protocol.WSTypeRegisterDeviceResponse, msg["type"])
	require.Equal(t, true, msg["success"])
	payload := msg["payload"].(map[string]any)
	deviceID := payload["deviceID"].(string)
	assert.NotEmpty(t, deviceID)
	assert.Equal(t, true, payload["serverInfo"].(map[string]any)["scanOnDemand"])
	assert.Equal(t, 1, manager.GetActiveDeviceCount())

	// Scan requests reach iOS devices over the same connection.
	require.NoError(t, manager.StartScan(context.Background()))
	assert.Equal(t, protocol.WSTypeDeviceStartScan, readJSON(t, conn)["type"])

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": protocol.WSTypeDeviceTag,
		"payload": map[string]any{
			"string": map[string]any{
				"messages": []any{map[string]any{
					"records": []any{map[string]any{"payload": "04:A2:1F:9B"}},
				}},
			},
		},
	}))
	select {
	case ev := <-tags:
		assert.Equal(t, deviceID, ev.DeviceID)
		got, err := nfc.ParseEvent(ev)
		require.NoError(t, err)
		assert.Equal(t, "04:A2:1F:9B", got)
	case <-time.After(2 * time.Second):
		t.Fatal("tag not forwarded")
	}

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    protocol.WSTypeDeviceError,
		"payload": protocol.DeviceErrorData{Message: "session invalidated"},
	}))
	select {
	case err := <-errs:
		assert.EqualError(t, err, "session invalidated")
	case <-time.After(2 * time.Second):
		t.Fatal("error not forwarded")
	}

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "bogus"}))
	assert.Equal(t, protocol.ErrCodeUnknownType, readJSON(t, conn)["payload"].(map[string]any)["code"])

	conn.Close()
	require.Eventually(t, func() bool { return manager.GetDeviceCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestDeviceWebSocket_RequiresRegistration(t *testing.T) {
	t.Parallel()

	manager := remotenfc.NewManager(time.Minute)
	t.Cleanup(manager.Close)
	_, ts := newTestServer(t, Config{Devices: manager})

	conn := dial(t, wsURL(ts, "?mode=device"))
	require.NoError(t, conn.WriteJSON(map[string]any{"type": protocol.WSTypeDeviceTag}))

	msg := readJSON(t, conn)
	assert.Equal(t, ErrCodeInvalidMessageType, msg["payload"].(map[string]any)["code"])
	assert.Zero(t, manager.GetDeviceCount())
}

func TestIsDeviceConnection(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.False(t, IsDeviceConnection(req))

	req.Header.Set("X-Device-Mode", "true")
	assert.True(t, IsDeviceConnection(req))

	assert.True(t, IsDeviceConnection(httptest.NewRequest(http.MethodGet, "/ws?mode=device", nil)))
}
