package protocol

import (
	"encoding/json"
	"time"
)

// Consumer WebSocket message types (server -> client)
const (
	WSTypeTagRead    = "tagRead"
	WSTypeReadError  = "readError"
	WSTypeSubmission = "submission"
	WSTypeStatus     = "status"
	WSTypeError      = "error"
)

// Consumer WebSocket request types (client -> server)
const (
	WSTypeStartScan = "startScan"
	WSTypeSubmit    = "submit"
	WSTypeSearch    = "search"
	WSTypeGetStatus = "getStatus"
)

// WebSocketMessage is the generic message envelope for WebSocket communication.
type WebSocketMessage struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// WebSocketRequest is for incoming requests from WebSocket clients.
// The payload is decoded by the handler registered for Type.
type WebSocketRequest struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Decode unmarshals the request payload into v. An absent payload leaves v untouched.
func (r WebSocketRequest) Decode(v any) error {
	if len(r.Payload) == 0 || string(r.Payload) == "null" {
		return nil
	}
	return json.Unmarshal(r.Payload, v)
}

// WebSocketResponse is for responses to WebSocket requests.
type WebSocketResponse struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

// TagReadPayload is broadcast when a tag yields a serial.
type TagReadPayload struct {
	Serial string    `json:"serial"`
	ReadAt time.Time `json:"readAt"`
}

// ReadErrorPayload is broadcast when a read produced no serial.
type ReadErrorPayload struct {
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// SubmissionPayload is broadcast when a submit or search call completes.
type SubmissionPayload struct {
	Operation string          `json:"operation"` // "submit" or "search"
	Serial    string          `json:"serial"`
	Outcome   string          `json:"outcome"` // "success", "applicationError", "transportError"
	Message   string          `json:"message,omitempty"`
	Status    int             `json:"status,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	At        time.Time       `json:"at"`
}

// StatusPayload describes the agent state.
type StatusPayload struct {
	Listening     bool               `json:"listening"`
	Supported     bool               `json:"supported"`
	ScanOnDemand  bool               `json:"scanOnDemand"`
	Devices       int                `json:"devices"`
	LastSerial    string             `json:"lastSerial,omitempty"`
	LastSubmitted *SubmissionPayload `json:"lastSubmission,omitempty"`
}

// SerialRequest is the payload of submit and search requests.
type SerialRequest struct {
	Serial string `json:"serial"`
}
