package nfc

import "time"

// PayloadKind identifies which encoding a record payload arrived in.
type PayloadKind int

const (
	// PayloadAbsent marks a record without a usable payload.
	PayloadAbsent PayloadKind = iota
	// PayloadText is a payload delivered as a string, already in serial form.
	PayloadText
	// PayloadNumeric is a payload delivered as an array of numbers.
	PayloadNumeric
	// PayloadBytes is a payload delivered as raw bytes.
	PayloadBytes
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadText:
		return "text"
	case PayloadNumeric:
		return "numeric"
	case PayloadBytes:
		return "bytes"
	default:
		return "absent"
	}
}

// Payload is a record payload in exactly one encoding. Only the field
// matching Kind is meaningful.
type Payload struct {
	Kind    PayloadKind
	Text    string
	Numbers []int
	Bytes   []byte
}

// TextPayload returns a text payload.
func TextPayload(s string) Payload {
	return Payload{Kind: PayloadText, Text: s}
}

// NumericPayload returns a numeric-array payload.
func NumericPayload(values ...int) Payload {
	return Payload{Kind: PayloadNumeric, Numbers: values}
}

// BytesPayload returns a raw byte payload.
func BytesPayload(b []byte) Payload {
	return Payload{Kind: PayloadBytes, Bytes: b}
}

// Empty reports whether the payload carries no data in its encoding.
func (p Payload) Empty() bool {
	switch p.Kind {
	case PayloadText:
		return p.Text == ""
	case PayloadNumeric:
		return len(p.Numbers) == 0
	case PayloadBytes:
		return len(p.Bytes) == 0
	default:
		return true
	}
}

// Record is a single NDEF record as reported by the hardware.
type Record struct {
	TNF     uint8  // Type Name Format, when the hardware reports it
	Type    string // Record type, e.g. "T" or "U"
	Payload Payload
}

// Message is an ordered sequence of records.
type Message struct {
	Records []Record
}

// TagEvent is one hardware notification for a tag that came into range.
//
// Hardware that exposes the same logical payload in several encodings
// contributes the messages of each encoding. Usually only one of them
// carries data; ParseEvent does not assume which.
type TagEvent struct {
	Source    string    // hardware collaborator that produced the event
	DeviceID  string    // reporting device, when known
	UID       string    // tag UID as reported, informational only
	ScannedAt time.Time
	Messages  []Message
}

// NewTagEvent builds an event holding a single message with the given payloads.
func NewTagEvent(source string, payloads ...Payload) *TagEvent {
	msg := Message{Records: make([]Record, 0, len(payloads))}
	for _, p := range payloads {
		msg.Records = append(msg.Records, Record{Payload: p})
	}
	return &TagEvent{
		Source:    source,
		ScannedAt: time.Now(),
		Messages:  []Message{msg},
	}
}
