package nfc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEvent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		event *TagEvent
		want  string
	}{
		{
			name:  "text is returned verbatim",
			event: NewTagEvent("test", TextPayload("04:A2:1F:9B")),
			want:  "04:A2:1F:9B",
		},
		{
			name:  "numeric even length is reversed pairwise",
			event: NewTagEvent("test", NumericPayload(0x30, 0x34, 0x41, 0x32)),
			want:  "A2:04",
		},
		{
			name:  "numeric odd length renders bytes",
			event: NewTagEvent("test", NumericPayload(0x04, 0xA2, 0x1F)),
			want:  "04:A2:1F",
		},
		{
			name:  "bytes are normalized",
			event: NewTagEvent("test", BytesPayload([]byte{4, 162, 31, 155})),
			want:  "04:A2:1F:9B",
		},
		{
			name: "text wins over other encodings",
			event: NewTagEvent("test",
				BytesPayload([]byte{0xDE, 0xAD}),
				NumericPayload(0x04, 0xA2, 0x1F),
				TextPayload("CA:FE"),
			),
			want: "CA:FE",
		},
		{
			name: "numeric wins over bytes",
			event: NewTagEvent("test",
				BytesPayload([]byte{0xDE, 0xAD}),
				NumericPayload(0x04, 0xA2, 0x1F),
			),
			want: "04:A2:1F",
		},
		{
			name: "empty encodings are skipped",
			event: NewTagEvent("test",
				TextPayload(""),
				NumericPayload(),
				BytesPayload([]byte{0x01}),
			),
			want: "01",
		},
		{
			name: "later messages are scanned",
			event: &TagEvent{Messages: []Message{
				{Records: []Record{{Payload: TextPayload("")}}},
				{Records: []Record{{}, {Payload: BytesPayload([]byte{0xAB, 0xCD})}}},
			}},
			want: "AB:CD",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseEvent(tt.event)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseEvent_NoData(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		event *TagEvent
	}{
		{name: "nil event", event: nil},
		{name: "no messages", event: &TagEvent{}},
		{name: "empty message", event: &TagEvent{Messages: []Message{{}}}},
		{name: "absent payloads", event: NewTagEvent("test", Payload{}, Payload{})},
		{name: "all encodings empty", event: NewTagEvent("test", TextPayload(""), NumericPayload(), BytesPayload(nil))},
		{name: "numeric out of range", event: NewTagEvent("test", NumericPayload(0x04, 300))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseEvent(tt.event)
			require.ErrorIs(t, err, ErrNoData)
			assert.Empty(t, got)
		})
	}
}
