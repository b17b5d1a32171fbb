package nfc

import (
	"fmt"
	"time"
	"unicode/utf16"

	"github.com/hsanjuan/go-ndef"
)

// EventFromNDEF decodes a raw NDEF message into a tag event.
//
// Well-known text records become text payloads. Every other record keeps
// its payload bytes. A message that cannot be decoded is reported as
// ErrNoData.
func EventFromNDEF(source string, raw []byte) (ev *TagEvent, err error) {
	defer func() {
		if r := recover(); r != nil {
			ev, err = nil, noData("EventFromNDEF", fmt.Errorf("malformed ndef message: %v", r))
		}
	}()

	if len(raw) == 0 {
		return nil, noData("EventFromNDEF", fmt.Errorf("empty ndef message"))
	}

	var msg ndef.Message
	if _, err := msg.Unmarshal(raw); err != nil {
		return nil, noData("EventFromNDEF", err)
	}

	out := Message{Records: make([]Record, 0, len(msg.Records))}
	for _, rec := range msg.Records {
		r, err := convertRecord(rec)
		if err != nil {
			return nil, noData("EventFromNDEF", err)
		}
		out.Records = append(out.Records, r)
	}

	return &TagEvent{
		Source:    source,
		ScannedAt: time.Now(),
		Messages:  []Message{out},
	}, nil
}

func convertRecord(rec *ndef.Record) (Record, error) {
	r := Record{TNF: rec.TNF(), Type: rec.Type()}

	payload, err := rec.Payload()
	if err != nil {
		return r, err
	}
	if payload == nil {
		return r, nil
	}
	data := payload.Marshal()

	if r.TNF == ndef.NFCForumWellKnownType && r.Type == "T" {
		text, err := parseTextRecordPayload(data)
		if err != nil {
			return r, err
		}
		r.Payload = TextPayload(text)
		return r, nil
	}

	if len(data) > 0 {
		r.Payload = BytesPayload(data)
	}
	return r, nil
}

// EncodeTextNDEF builds a single text record NDEF message.
func EncodeTextNDEF(text, lang string) ([]byte, error) {
	return ndef.NewTextMessage(text, lang).Marshal()
}

// parseTextRecordPayload extracts the text of a Text record payload: a
// status byte (bit 7 set for UTF-16, low 6 bits the language code length),
// the language code, then the text.
func parseTextRecordPayload(payload []byte) (string, error) {
	if len(payload) < 1 {
		return "", fmt.Errorf("text record payload too short (status byte missing)")
	}
	status := payload[0]
	langLength := int(status & 0x3F)
	isUTF16 := (status & 0x80) != 0

	textStart := 1 + langLength
	if textStart > len(payload) {
		return "", fmt.Errorf("text record payload too short (language code or text missing)")
	}
	textBytes := payload[textStart:]

	if !isUTF16 {
		return string(textBytes), nil
	}
	if len(textBytes)%2 != 0 {
		return "", fmt.Errorf("invalid UTF-16 text length: %d", len(textBytes))
	}
	return decodeUTF16(textBytes), nil
}

// decodeUTF16 decodes big-endian UTF-16, honouring a leading byte order mark.
func decodeUTF16(b []byte) string {
	littleEndian := false
	if len(b) >= 2 {
		switch {
		case b[0] == 0xFF && b[1] == 0xFE:
			littleEndian = true
			b = b[2:]
		case b[0] == 0xFE && b[1] == 0xFF:
			b = b[2:]
		}
	}

	units := make([]uint16, len(b)/2)
	for i := range units {
		hi, lo := b[2*i], b[2*i+1]
		if littleEndian {
			hi, lo = lo, hi
		}
		units[i] = uint16(hi)<<8 | uint16(lo)
	}
	return string(utf16.Decode(units))
}
