package api

import "encoding/json"

// Kind classifies the outcome of a remote call.
type Kind int

const (
	// ResultSuccess: 2xx response without an error field.
	ResultSuccess Kind = iota
	// ResultApplicationError: the server answered but rejected the request.
	ResultApplicationError
	// ResultTransportError: no usable response was received.
	ResultTransportError
)

func (k Kind) String() string {
	switch k {
	case ResultSuccess:
		return "success"
	case ResultApplicationError:
		return "applicationError"
	case ResultTransportError:
		return "transportError"
	default:
		return "unknown"
	}
}

// Result is the classified outcome of Submit or Search.
type Result struct {
	Kind Kind

	// Payload is the response body of a successful call. Nil when the
	// body was empty.
	Payload json.RawMessage

	// Message is a short human-readable description of a failure.
	Message string

	// Status is the HTTP status code, 0 when no response was received.
	Status int

	// Body is the raw response body of a non-2xx response.
	Body string
}

// OK reports whether the call succeeded.
func (r Result) OK() bool {
	return r.Kind == ResultSuccess
}
