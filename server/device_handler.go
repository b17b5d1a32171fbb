package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/nedpals/davi-tag-agent/buildinfo"
	"github.com/nedpals/davi-tag-agent/logging"
	"github.com/nedpals/davi-tag-agent/nfc/remotenfc"
	"github.com/nedpals/davi-tag-agent/protocol"
)

// DeviceHandler serves smartphone connections on /ws?mode=device and
// forwards their reads to the remote hardware manager.
type DeviceHandler struct {
	manager  *remotenfc.Manager
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewDeviceHandler creates a device handler for manager.
func NewDeviceHandler(manager *remotenfc.Manager) *DeviceHandler {
	return &DeviceHandler{
		manager: manager,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logging.Component("device"),
	}
}

// Register installs the handler on s for device connections.
func (h *DeviceHandler) Register(s *Server) {
	s.HandleWebSocket(IsDeviceConnection, func(w http.ResponseWriter, r *http.Request) bool {
		h.HandleWebSocket(w, r)
		return true
	})
}

// deviceConn serializes writes to a device connection.
type deviceConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *deviceConn) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

func (c *deviceConn) sendError(id, code, message string) {
	_ = c.send(errorResponse(id, code, message))
}

// HandleWebSocket runs a device session: registration first, then tag,
// error and heartbeat messages until the connection closes.
func (h *DeviceHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn := &deviceConn{conn: ws}
	h.logger.Info().Str("remote", r.RemoteAddr).Msg("device connected")

	var deviceID string
	defer func() {
		ws.Close()
		if deviceID != "" {
			if err := h.manager.UnregisterDevice(deviceID); err != nil {
				h.logger.Debug().Err(err).Str("device", deviceID).Msg("unregister after disconnect")
			}
		}
		h.logger.Info().Str("device", deviceID).Msg("device disconnected")
	}()

	req, ok := h.readRequest(conn)
	if !ok {
		return
	}
	if req.Type != protocol.WSTypeRegisterDevice {
		conn.sendError(req.ID, ErrCodeInvalidMessageType,
			fmt.Sprintf("Expected '%s' message", protocol.WSTypeRegisterDevice))
		return
	}

	deviceID, err = h.register(conn, req)
	if err != nil {
		h.logger.Warn().Err(err).Msg("device registration failed")
		return
	}

	for {
		req, ok := h.readRequest(conn)
		if !ok {
			return
		}
		if req.Type == "" {
			continue
		}

		var handlerErr error
		switch req.Type {
		case protocol.WSTypeDeviceTag:
			handlerErr = h.handleTag(conn, deviceID, req)
		case protocol.WSTypeDeviceError:
			handlerErr = h.handleError(conn, deviceID, req)
		case protocol.WSTypeDeviceHeartbeat:
			handlerErr = h.handleHeartbeat(deviceID, req)
		default:
			conn.sendError(req.ID, protocol.ErrCodeUnknownType, fmt.Sprintf("Unknown message type: %s", req.Type))
			continue
		}
		if handlerErr != nil {
			h.logger.Warn().Err(handlerErr).Str("type", req.Type).Str("device", deviceID).Msg("device message failed")
		}
	}
}

// readRequest reads the next text message. ok is false once the connection
// is unusable. Unparseable messages are answered and return an empty request.
func (h *DeviceHandler) readRequest(conn *deviceConn) (protocol.WebSocketRequest, bool) {
	var req protocol.WebSocketRequest

	messageType, message, err := conn.conn.ReadMessage()
	if err != nil {
		return req, false
	}
	if messageType != websocket.TextMessage {
		conn.sendError("", ErrCodeInvalidMessageType, "Expected text message")
		return req, true
	}
	if err := json.Unmarshal(message, &req); err != nil {
		conn.sendError("", protocol.ErrCodeParseError, "Invalid message format")
		return protocol.WebSocketRequest{}, true
	}
	return req, true
}

func (h *DeviceHandler) register(conn *deviceConn, req protocol.WebSocketRequest) (string, error) {
	var reg protocol.DeviceRegistrationRequest
	if err := req.Decode(&reg); err != nil {
		conn.sendError(req.ID, ErrCodeInvalidPayload, "Invalid registration request format")
		return "", fmt.Errorf("parse registration request: %w", err)
	}

	device, err := h.manager.RegisterDevice(reg, func(msg protocol.WebSocketMessage) error {
		return conn.send(msg)
	})
	if err != nil {
		conn.sendError(req.ID, ErrCodeRegistrationFailed, err.Error())
		return "", err
	}

	err = conn.send(protocol.WebSocketResponse{
		ID:      req.ID,
		Type:    protocol.WSTypeRegisterDeviceResponse,
		Success: true,
		Payload: protocol.DeviceRegistrationResponse{
			DeviceID: device.DeviceID(),
			ServerInfo: protocol.ServerInfo{
				Version:      buildinfo.Version,
				ScanOnDemand: device.ScanOnDemand(),
			},
		},
	})
	if err != nil {
		h.manager.UnregisterDevice(device.DeviceID())
		return "", fmt.Errorf("send registration response: %w", err)
	}
	return device.DeviceID(), nil
}

func (h *DeviceHandler) handleTag(conn *deviceConn, deviceID string, req protocol.WebSocketRequest) error {
	var data protocol.DeviceTagData
	if err := req.Decode(&data); err != nil {
		conn.sendError(req.ID, ErrCodeInvalidPayload, "Invalid tag data format")
		return err
	}
	if data.DeviceID != "" && data.DeviceID != deviceID {
		conn.sendError(req.ID, ErrCodeInvalidDevice, "Device ID mismatch")
		return fmt.Errorf("device ID mismatch: expected %s, got %s", deviceID, data.DeviceID)
	}
	data.DeviceID = deviceID

	if err := h.manager.SendTagData(deviceID, data); err != nil {
		conn.sendError(req.ID, ErrCodeTagSendFailed, err.Error())
		return err
	}
	return nil
}

func (h *DeviceHandler) handleError(conn *deviceConn, deviceID string, req protocol.WebSocketRequest) error {
	var data protocol.DeviceErrorData
	if err := req.Decode(&data); err != nil {
		conn.sendError(req.ID, ErrCodeInvalidPayload, "Invalid error data format")
		return err
	}
	return h.manager.SendError(deviceID, data)
}

func (h *DeviceHandler) handleHeartbeat(deviceID string, req protocol.WebSocketRequest) error {
	var hb protocol.DeviceHeartbeat
	if err := req.Decode(&hb); err != nil {
		return err
	}
	if hb.DeviceID != "" && hb.DeviceID != deviceID {
		return fmt.Errorf("device ID mismatch")
	}
	return h.manager.UpdateHeartbeat(deviceID)
}

// IsDeviceConnection reports whether r comes from a device.
func IsDeviceConnection(r *http.Request) bool {
	return r.Header.Get("X-Device-Mode") == "true" || r.URL.Query().Get("mode") == "device"
}
