package protocol

import (
	"encoding/json"
	"time"
)

// Device WebSocket message types
const (
	WSTypeRegisterDevice         = "registerDevice"
	WSTypeRegisterDeviceResponse = "registerDeviceResponse"
	WSTypeDeviceTag              = "tag"
	WSTypeDeviceError            = "nfcError"
	WSTypeDeviceHeartbeat        = "deviceHeartbeat"
	WSTypeDeviceStartScan        = "startScan"
)

// Device platforms
const (
	PlatformIOS     = "ios"
	PlatformAndroid = "android"
)

// DeviceRegistrationRequest is sent by a device to register with the server.
type DeviceRegistrationRequest struct {
	DeviceName string            `json:"deviceName"` // e.g., "John's iPhone 12"
	Platform   string            `json:"platform"`   // "ios" or "android"
	AppVersion string            `json:"appVersion"` // e.g., "1.0.0"
	Metadata   map[string]string `json:"metadata"`   // Optional metadata
}

// DeviceRegistrationResponse is sent by server after successful registration.
type DeviceRegistrationResponse struct {
	DeviceID   string     `json:"deviceID"` // Unique device identifier (UUID)
	ServerInfo ServerInfo `json:"serverInfo"`
}

// ServerInfo contains information about the server.
type ServerInfo struct {
	Version string `json:"version"`
	// ScanOnDemand tells the device to wait for startScan before reading.
	ScanOnDemand bool `json:"scanOnDemand"`
}

// DeviceTagData is sent by a device when a tag is read.
//
// A device forwards every encoding its NFC stack exposes for the tag: the
// string, numberArray and uint8Array views of the same NDEF messages, and
// optionally the raw NDEF message bytes. Views it does not have are omitted.
type DeviceTagData struct {
	DeviceID    string    `json:"deviceID"`
	UID         string    `json:"uid,omitempty"` // Tag UID, informational only
	ScannedAt   time.Time `json:"scannedAt"`
	String      *TagView  `json:"string,omitempty"`
	NumberArray *TagView  `json:"numberArray,omitempty"`
	Uint8Array  *TagView  `json:"uint8Array,omitempty"`
	NDEF        []byte    `json:"ndef,omitempty"` // Raw NDEF message (base64 in JSON)
}

// TagView is one encoding of the NDEF messages on a tag.
type TagView struct {
	Messages []ViewMessage `json:"messages"`
}

// ViewMessage is an ordered list of records.
type ViewMessage struct {
	Records []ViewRecord `json:"records"`
}

// ViewRecord is a record whose payload shape depends on the view it belongs to.
type ViewRecord struct {
	TNF     *uint8          `json:"tnf,omitempty"`
	Type    string          `json:"type,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DeviceErrorData is sent by a device when its NFC stack reports an error.
type DeviceErrorData struct {
	DeviceID string `json:"deviceID"`
	Message  string `json:"message"`
}

// DeviceHeartbeat is sent by a device periodically.
type DeviceHeartbeat struct {
	DeviceID  string    `json:"deviceID"`
	Timestamp time.Time `json:"timestamp"`
}

// DeviceStartScan is sent by the server to devices that scan on demand.
type DeviceStartScan struct {
	RequestedAt time.Time `json:"requestedAt"`
}
