// Package protocol provides the wire types shared by the agent and its
// clients. It is importable without pulling in server dependencies.
package protocol

// TagInputRequest is the request structure for the POST /api/v1/tag endpoint.
// External tools use it to inject a serial into the pipeline.
type TagInputRequest struct {
	// Serial in hex format.
	// Supports formats: "04:AB:CD:EF", "04ABCDEF", "04 AB CD EF", "04-ab-cd-ef"
	Serial string `json:"serial"`

	// Source identifies where this serial came from (e.g., "http-api", "manual-tool")
	// Optional - defaults to "http-api"
	Source string `json:"source,omitempty"`
}

// TagInputResponse is the response structure for the POST /api/v1/tag endpoint.
type TagInputResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"errorCode,omitempty"`
	Serial    string `json:"serial,omitempty"` // Echo back the normalized serial
}

// Error codes for TagInputResponse and WebSocket error responses
const (
	ErrCodeInvalidSerial  = "INVALID_SERIAL"
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeInternalError  = "INTERNAL_ERROR"
	ErrCodeUnknownType    = "UNKNOWN_TYPE"
	ErrCodeParseError     = "PARSE_ERROR"
)
