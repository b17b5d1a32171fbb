package server

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/nedpals/davi-tag-agent/logging"
	"github.com/nedpals/davi-tag-agent/pipeline"
	"github.com/nedpals/davi-tag-agent/protocol"
)

const writeTimeout = 5 * time.Second

// Client is a consumer websocket connection. Writes are serialized.
type Client struct {
	id   string
	conn *websocket.Conn

	writeMu sync.Mutex
}

func newClient(conn *websocket.Conn) *Client {
	return &Client{id: uuid.New().String(), conn: conn}
}

// ID identifies the connection in logs.
func (c *Client) ID() string { return c.id }

// Send writes v as JSON.
func (c *Client) Send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

// SendResponse answers the request with id.
func (c *Client) SendResponse(id, msgType string, payload any) error {
	return c.Send(protocol.WebSocketResponse{
		ID:      id,
		Type:    msgType,
		Success: true,
		Payload: payload,
	})
}

// SendError sends a structured error response.
func (c *Client) SendError(id, code, message string) error {
	return c.Send(errorResponse(id, code, message))
}

func errorResponse(id, code, message string) protocol.WebSocketResponse {
	return protocol.WebSocketResponse{
		ID:      id,
		Type:    protocol.WSTypeError,
		Success: false,
		Error:   message,
		Payload: map[string]any{"code": code},
	}
}

// Hub tracks consumer connections and broadcasts pipeline notifications to
// them. It implements pipeline.Sink.
type Hub struct {
	clients map[*Client]struct{}
	mu      sync.RWMutex
	logger  zerolog.Logger
}

var _ pipeline.Sink = (*Hub)(nil)

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logging.Component("server"),
	}
}

// Register adds a client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

// Unregister removes a client.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll closes every client connection.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		c.conn.Close()
		delete(h.clients, c)
	}
}

// Broadcast sends msg to every client. Clients that fail to receive it are
// dropped.
func (h *Hub) Broadcast(msg protocol.WebSocketMessage) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.Send(msg); err != nil {
			h.logger.Warn().Err(err).Str("client", c.id).Msg("websocket write failed, dropping client")
			c.conn.Close()
			h.Unregister(c)
		}
	}
}

// TagRead broadcasts a tagRead message.
func (h *Hub) TagRead(serial string) {
	h.Broadcast(protocol.WebSocketMessage{
		Type:    protocol.WSTypeTagRead,
		Payload: protocol.TagReadPayload{Serial: serial, ReadAt: time.Now()},
	})
}

// ReadError broadcasts a readError message.
func (h *Hub) ReadError(message string) {
	h.Broadcast(protocol.WebSocketMessage{
		Type:    protocol.WSTypeReadError,
		Payload: protocol.ReadErrorPayload{Message: message, At: time.Now()},
	})
}

// Submitted broadcasts a submission message.
func (h *Hub) Submitted(sub pipeline.Submission) {
	h.Broadcast(protocol.WebSocketMessage{
		Type:    protocol.WSTypeSubmission,
		Payload: submissionPayload(sub),
	})
}

func submissionPayload(sub pipeline.Submission) protocol.SubmissionPayload {
	return protocol.SubmissionPayload{
		Operation: string(sub.Op),
		Serial:    sub.Serial,
		Outcome:   sub.Result.Kind.String(),
		Message:   sub.Result.Message,
		Status:    sub.Result.Status,
		Data:      sub.Result.Payload,
		At:        sub.At,
	}
}

func statusPayload(st pipeline.Status, devices int) protocol.StatusPayload {
	p := protocol.StatusPayload{
		Listening:    st.Listening,
		Supported:    st.Supported,
		ScanOnDemand: st.ScanOnDemand,
		Devices:      devices,
		LastSerial:   st.LastSerial,
	}
	if st.LastSubmission != nil {
		sub := submissionPayload(*st.LastSubmission)
		p.LastSubmitted = &sub
	}
	return p
}
