package nfc

import (
	"fmt"

	"github.com/nedpals/davi-tag-agent/serial"
)

// parseOrder is the encoding priority: the first encoding that yields a
// non-empty payload wins.
var parseOrder = [...]PayloadKind{PayloadText, PayloadNumeric, PayloadBytes}

// ParseEvent extracts the canonical serial from a tag event.
//
// Encodings are tried in priority order (text, numeric array, raw bytes),
// scanning messages then records in order. Text payloads are returned as
// delivered; numeric and byte payloads go through the serial normalizer.
// Anything that does not yield a serial, including a nil event, is
// reported as ErrNoData.
func ParseEvent(ev *TagEvent) (s string, err error) {
	defer func() {
		if r := recover(); r != nil {
			s, err = "", noData("ParseEvent", fmt.Errorf("malformed event: %v", r))
		}
	}()

	if ev == nil {
		return "", noData("ParseEvent", fmt.Errorf("nil event"))
	}

	for _, kind := range parseOrder {
		p, ok := firstPayload(ev.Messages, kind)
		if !ok {
			continue
		}
		return decodePayload(p)
	}
	return "", ErrNoData
}

// firstPayload returns the first non-empty payload of the given kind.
func firstPayload(msgs []Message, kind PayloadKind) (Payload, bool) {
	for _, msg := range msgs {
		for _, rec := range msg.Records {
			if rec.Payload.Kind == kind && !rec.Payload.Empty() {
				return rec.Payload, true
			}
		}
	}
	return Payload{}, false
}

func decodePayload(p Payload) (string, error) {
	switch p.Kind {
	case PayloadText:
		return p.Text, nil
	case PayloadNumeric:
		s, err := serial.NormalizeNumeric(p.Numbers)
		if err != nil {
			return "", noData("ParseEvent", err)
		}
		return s, nil
	case PayloadBytes:
		s, err := serial.Normalize(p.Bytes)
		if err != nil {
			return "", noData("ParseEvent", err)
		}
		return s, nil
	default:
		return "", ErrNoData
	}
}
