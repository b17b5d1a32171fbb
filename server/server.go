// Package server exposes the agent over HTTP and websocket: consumers follow
// reads and submissions on /ws, phones act as readers on /ws?mode=device and
// external tools inject serials with POST /api/v1/tag.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog"

	"github.com/nedpals/davi-tag-agent/buildinfo"
	"github.com/nedpals/davi-tag-agent/logging"
	"github.com/nedpals/davi-tag-agent/nfc/remotenfc"
	"github.com/nedpals/davi-tag-agent/protocol"
)

// Config holds the server configuration.
type Config struct {
	Port       int
	APISecret  string // optional secret required from consumer websocket clients
	MDNS       bool
	Controller Controller

	// Devices accepts smartphones as remote readers. Nil disables device mode.
	Devices *remotenfc.Manager
}

// Server manages the HTTP and websocket endpoints.
type Server struct {
	config   Config
	hub      *Hub
	registry *HandlerRegistry
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	mu         sync.Mutex
	httpServer *http.Server
	mdnsServer *zeroconf.Server
}

// New creates a server. The returned server's Hub should be added to the
// pipeline as a sink.
func New(config Config) (*Server, error) {
	if config.Controller == nil {
		return nil, errors.New("server: controller is required")
	}

	s := &Server{
		config:   config,
		hub:      NewHub(),
		registry: NewHandlerRegistry(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logging.Component("server"),
	}

	s.registerConsumerHandlers()
	if config.Devices != nil {
		NewDeviceHandler(config.Devices).Register(s)
	}
	return s, nil
}

// Hub returns the consumer broadcast hub.
func (s *Server) Hub() *Hub { return s.hub }

// Handle registers a consumer websocket request handler.
func (s *Server) Handle(messageType string, handler HandlerFunc) error {
	return s.registry.Handle(messageType, handler)
}

// HandleWebSocket registers a connection-level websocket handler.
func (s *Server) HandleWebSocket(matcher func(r *http.Request) bool, handler WebSocketHandlerFunc) {
	s.registry.HandleWebSocket(matcher, handler)
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc(apiV1+"/health", enableCORS(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.handleHealthCheck(w, r)
	}))

	mux.HandleFunc(apiV1+"/status", enableCORS(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s.status(r.Context()))
	}))

	mux.HandleFunc(apiV1+"/tag", enableCORS(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.handleTagInput(w, r)
	}))

	mux.HandleFunc("/ws", s.handleWebSocket)

	mux.HandleFunc("/", enableCORS(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(buildinfo.DisplayName + " running"))
	}))

	return mux
}

// Start listens on the configured port and serves until Stop. It returns
// once the listener is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", s.config.Port, err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("server listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("http server error")
		}
	}()

	if s.config.MDNS {
		if err := s.startMDNS(); err != nil {
			s.logger.Warn().Err(err).Msg("mDNS unavailable, auto-discovery disabled")
		}
	}
	return nil
}

// Stop shuts the server down and disconnects all clients.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, mdns := s.httpServer, s.mdnsServer
	s.httpServer, s.mdnsServer = nil, nil
	s.mu.Unlock()

	if mdns != nil {
		mdns.Shutdown()
		s.logger.Info().Msg("mDNS service stopped")
	}

	s.hub.CloseAll()

	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// startMDNS advertises the agent so phones can find it on the local network.
func (s *Server) startMDNS() error {
	txtRecords := []string{
		"version=" + buildinfo.Version,
		"protocol=websocket",
		"path=/ws",
		"device_mode=?mode=device",
	}

	mdns, err := zeroconf.Register(MDNSServiceName, MDNSServiceType, MDNSDomain, s.config.Port, txtRecords, nil)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}

	s.mu.Lock()
	s.mdnsServer = mdns
	s.mu.Unlock()

	s.logger.Info().Str("name", MDNSServiceName).Int("port", s.config.Port).Msg("mDNS service registered")
	return nil
}

// handleWebSocket routes device connections to the device handler and runs
// a consumer session otherwise.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.registry.TryCustomWebSocketHandler(w, r) {
		return
	}

	if s.config.APISecret != "" {
		secret := r.URL.Query().Get("secret")
		if subtle.ConstantTimeCompare([]byte(secret), []byte(s.config.APISecret)) != 1 {
			s.logger.Warn().Str("remote", r.RemoteAddr).Msg("websocket rejected: invalid secret")
			http.Error(w, "Unauthorized: Invalid API secret", http.StatusUnauthorized)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := newClient(conn)
	s.hub.Register(client)
	s.logger.Info().Str("client", client.ID()).Str("remote", r.RemoteAddr).Msg("websocket connected")

	defer func() {
		s.hub.Unregister(client)
		conn.Close()
		s.logger.Info().Str("client", client.ID()).Msg("websocket disconnected")
	}()

	client.Send(protocol.WebSocketMessage{Type: protocol.WSTypeStatus, Payload: s.status(r.Context())})

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var req protocol.WebSocketRequest
		if err := json.Unmarshal(message, &req); err != nil {
			client.SendError("", protocol.ErrCodeParseError, "Invalid message format")
			continue
		}

		handler, ok := s.registry.Get(req.Type)
		if !ok {
			client.SendError(req.ID, protocol.ErrCodeUnknownType, fmt.Sprintf("Unknown message type: %s", req.Type))
			continue
		}
		if err := handler(r.Context(), client, req); err != nil {
			// The handler already answered the client.
			s.logger.Debug().Err(err).Str("type", req.Type).Msg("websocket handler failed")
		}
	}
}

// handleHealthCheck provides GET /api/v1/health.
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":    "ok",
		"version":   buildinfo.Version,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// enableCORS is a middleware that adds CORS headers to responses.
func enableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", CORSAllowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", CORSAllowMethods)
		w.Header().Set("Access-Control-Allow-Headers", CORSAllowHeaders)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	}
}
