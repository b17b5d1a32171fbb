package server

import "github.com/nedpals/davi-tag-agent/buildinfo"

// mDNS service discovery constants
var (
	MDNSServiceType = "_nfc-agent._tcp"
	MDNSServiceName = buildinfo.DisplayName
	MDNSDomain      = "local."
)

// CORS configuration
const (
	CORSAllowOrigin  = "*"
	CORSAllowMethods = "GET, POST, OPTIONS"
	CORSAllowHeaders = "Content-Type, Authorization"
)

// Error codes sent to websocket peers in addition to the protocol ones.
const (
	ErrCodeReadError          = "READ_ERROR"
	ErrCodeInvalidMessageType = "INVALID_MESSAGE_TYPE"
	ErrCodeInvalidPayload     = "INVALID_PAYLOAD"
	ErrCodeRegistrationFailed = "REGISTRATION_FAILED"
	ErrCodeInvalidDevice      = "INVALID_DEVICE"
	ErrCodeTagSendFailed      = "TAG_SEND_FAILED"
	ErrCodeScanFailed         = "SCAN_FAILED"
)

const apiV1 = "/api/v1"
