package server

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/nedpals/davi-tag-agent/protocol"
)

// HandlerFunc handles one websocket request from a consumer client.
type HandlerFunc func(ctx context.Context, client *Client, req protocol.WebSocketRequest) error

// WebSocketHandlerFunc takes over the whole websocket connection lifecycle
// when matched. It returns false to fall back to consumer handling.
type WebSocketHandlerFunc func(w http.ResponseWriter, r *http.Request) bool

type wsHandlerEntry struct {
	matcher func(r *http.Request) bool
	handler WebSocketHandlerFunc
}

// HandlerRegistry routes websocket requests by message type.
type HandlerRegistry struct {
	handlers   map[string]HandlerFunc
	wsHandlers []wsHandlerEntry
	mu         sync.RWMutex
}

// NewHandlerRegistry creates an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[string]HandlerFunc),
	}
}

// Handle registers handler for messageType. Registering a type twice is an error.
func (r *HandlerRegistry) Handle(messageType string, handler HandlerFunc) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}
	if messageType == "" {
		return fmt.Errorf("message type cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[messageType]; exists {
		return fmt.Errorf("handler for message type '%s' already registered", messageType)
	}
	r.handlers[messageType] = handler
	return nil
}

// HandleWebSocket registers a connection-level handler with a matcher.
func (r *HandlerRegistry) HandleWebSocket(matcher func(r *http.Request) bool, handler WebSocketHandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.wsHandlers = append(r.wsHandlers, wsHandlerEntry{matcher: matcher, handler: handler})
}

// TryCustomWebSocketHandler hands the request to the first matching
// connection-level handler.
func (r *HandlerRegistry) TryCustomWebSocketHandler(w http.ResponseWriter, req *http.Request) bool {
	r.mu.RLock()
	entries := append([]wsHandlerEntry(nil), r.wsHandlers...)
	r.mu.RUnlock()

	for _, entry := range entries {
		if entry.matcher(req) {
			return entry.handler(w, req)
		}
	}
	return false
}

// Get returns the handler for messageType.
func (r *HandlerRegistry) Get(messageType string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.handlers[messageType]
	return handler, ok
}

// Has reports whether messageType has a handler.
func (r *HandlerRegistry) Has(messageType string) bool {
	_, ok := r.Get(messageType)
	return ok
}

// MessageTypes returns the registered message types, sorted.
func (r *HandlerRegistry) MessageTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
