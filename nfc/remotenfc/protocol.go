package remotenfc

import (
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/nedpals/davi-tag-agent/nfc"
	"github.com/nedpals/davi-tag-agent/protocol"
)

// ConvertTagData turns a device tag report into a tag event.
//
// Each view contributes its messages with payloads decoded according to the
// view: strings for the string view, number arrays for the numberArray
// view and bytes for the uint8Array view. A payload whose JSON shape does
// not match its view is kept as an absent payload. Raw NDEF bytes, when
// present, are decoded and appended.
func ConvertTagData(data protocol.DeviceTagData) *nfc.TagEvent {
	ev := &nfc.TagEvent{
		Source:    SourceName,
		DeviceID:  data.DeviceID,
		UID:       data.UID,
		ScannedAt: data.ScannedAt,
	}
	if ev.ScannedAt.IsZero() {
		ev.ScannedAt = time.Now()
	}

	ev.Messages = append(ev.Messages, convertView(data.String, decodeText)...)
	ev.Messages = append(ev.Messages, convertView(data.NumberArray, decodeNumbers)...)
	ev.Messages = append(ev.Messages, convertView(data.Uint8Array, decodeBytes)...)

	if len(data.NDEF) > 0 {
		if raw, err := nfc.EventFromNDEF(SourceName, data.NDEF); err == nil {
			ev.Messages = append(ev.Messages, raw.Messages...)
		}
	}
	return ev
}

func convertView(view *protocol.TagView, decode func(json.RawMessage) nfc.Payload) []nfc.Message {
	if view == nil {
		return nil
	}
	msgs := make([]nfc.Message, 0, len(view.Messages))
	for _, vm := range view.Messages {
		msg := nfc.Message{Records: make([]nfc.Record, 0, len(vm.Records))}
		for _, vr := range vm.Records {
			rec := nfc.Record{Type: vr.Type, Payload: decode(vr.Payload)}
			if vr.TNF != nil {
				rec.TNF = *vr.TNF
			}
			msg.Records = append(msg.Records, rec)
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

func decodeText(raw json.RawMessage) nfc.Payload {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nfc.Payload{}
	}
	return nfc.TextPayload(s)
}

func decodeNumbers(raw json.RawMessage) nfc.Payload {
	values, ok := decodeIntArray(raw)
	if !ok {
		return nfc.Payload{}
	}
	return nfc.NumericPayload(values...)
}

func decodeBytes(raw json.RawMessage) nfc.Payload {
	values, ok := decodeIntArray(raw)
	if !ok {
		return nfc.Payload{}
	}
	b := make([]byte, len(values))
	for i, v := range values {
		if v < 0 || v > 0xFF {
			return nfc.Payload{}
		}
		b[i] = byte(v)
	}
	return nfc.BytesPayload(b)
}

// decodeIntArray accepts a JSON array of integers, or the index-keyed object
// a JavaScript typed array serializes to ({"0":4,"1":162}).
func decodeIntArray(raw json.RawMessage) ([]int, bool) {
	var values []int
	if err := json.Unmarshal(raw, &values); err == nil {
		return values, true
	}

	var indexed map[string]int
	if err := json.Unmarshal(raw, &indexed); err != nil {
		return nil, false
	}
	keys := make([]int, 0, len(indexed))
	for k := range indexed {
		i, err := strconv.Atoi(k)
		if err != nil || i < 0 {
			return nil, false
		}
		keys = append(keys, i)
	}
	sort.Ints(keys)
	values = make([]int, len(keys))
	for i, k := range keys {
		if k != i {
			return nil, false
		}
		values[i] = indexed[strconv.Itoa(k)]
	}
	return values, true
}
