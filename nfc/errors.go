package nfc

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents a specific type of NFC error for programmatic handling.
type ErrorCode int

const (
	// Pipeline errors (100-199)
	ErrCodeNoData ErrorCode = iota + 100
	ErrCodeUnsupportedEnvironment
	ErrCodeAlreadyActive
	ErrCodeNilCallback
	ErrCodeSubscribe
	ErrCodeHardware
)

// NFCError provides structured error information for programmatic handling.
type NFCError struct {
	Code    ErrorCode
	Op      string // Operation that failed (e.g., "Activate", "ParseEvent")
	Message string // Human-readable message
	Cause   error  // Underlying error
}

func (e *NFCError) Error() string {
	var sb strings.Builder
	if e.Op != "" {
		sb.WriteString(e.Op)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Message)
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

func (e *NFCError) Unwrap() error {
	return e.Cause
}

// Is matches any NFCError carrying the same code, so wrapped instances
// compare equal to the sentinels below.
func (e *NFCError) Is(target error) bool {
	if t, ok := target.(*NFCError); ok {
		return e.Code == t.Code
	}
	return false
}

// Sentinels for errors.Is.
var (
	// ErrNoData: a tag was read but no encoding yielded a usable payload.
	ErrNoData = &NFCError{Code: ErrCodeNoData, Message: "tag detected but no usable data"}

	// ErrUnsupportedEnvironment: the hardware is not usable in this environment.
	ErrUnsupportedEnvironment = &NFCError{Code: ErrCodeUnsupportedEnvironment, Message: "nfc not supported in this environment"}

	// ErrAlreadyActive: Activate was called while a subscription is live.
	ErrAlreadyActive = &NFCError{Code: ErrCodeAlreadyActive, Message: "listener already active"}

	// ErrNilCallback: Activate was called without both callbacks.
	ErrNilCallback = &NFCError{Code: ErrCodeNilCallback, Message: "read and error callbacks are required"}

	// ErrSubscribe: subscribing to the hardware event channels failed.
	ErrSubscribe = &NFCError{Code: ErrCodeSubscribe, Message: "nfc initialisation failed"}
)

// WrapError wraps an existing error with NFC context.
func WrapError(code ErrorCode, op, message string, cause error) *NFCError {
	return &NFCError{
		Code:    code,
		Op:      op,
		Message: message,
		Cause:   cause,
	}
}

// Errorf creates an NFCError with a formatted message.
func Errorf(code ErrorCode, op, format string, args ...any) *NFCError {
	return &NFCError{
		Code:    code,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// noData wraps cause as an ErrNoData for op.
func noData(op string, cause error) *NFCError {
	return WrapError(ErrCodeNoData, op, ErrNoData.Message, cause)
}

// IsNoData reports whether err means a tag yielded no usable data.
func IsNoData(err error) bool {
	return errors.Is(err, ErrNoData)
}

// GetErrorCode extracts the ErrorCode from an error if it's an NFCError.
// Returns 0 if the error is not an NFCError.
func GetErrorCode(err error) ErrorCode {
	var nfcErr *NFCError
	if errors.As(err, &nfcErr) {
		return nfcErr.Code
	}
	return 0
}
