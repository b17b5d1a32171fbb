package nfc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventFromNDEF_TextRecord(t *testing.T) {
	t.Parallel()

	raw, err := EncodeTextNDEF("04:A2:1F:9B", "en")
	require.NoError(t, err)

	ev, err := EventFromNDEF("remote", raw)
	require.NoError(t, err)
	require.Len(t, ev.Messages, 1)
	require.Len(t, ev.Messages[0].Records, 1)

	rec := ev.Messages[0].Records[0]
	assert.Equal(t, "T", rec.Type)
	assert.Equal(t, PayloadText, rec.Payload.Kind)
	assert.Equal(t, "remote", ev.Source)

	got, err := ParseEvent(ev)
	require.NoError(t, err)
	assert.Equal(t, "04:A2:1F:9B", got)
}

func TestEventFromNDEF_Invalid(t *testing.T) {
	t.Parallel()

	_, err := EventFromNDEF("remote", nil)
	require.ErrorIs(t, err, ErrNoData)

	_, err = EventFromNDEF("remote", []byte{0xD1})
	require.ErrorIs(t, err, ErrNoData)
}

func TestParseTextRecordPayload(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload []byte
		want    string
		wantErr bool
	}{
		{
			name:    "utf-8 with language",
			payload: append([]byte{0x02, 'e', 'n'}, "hello"...),
			want:    "hello",
		},
		{
			name:    "utf-16 big endian",
			payload: []byte{0x82, 'e', 'n', 0x00, 'h', 0x00, 'i'},
			want:    "hi",
		},
		{
			name:    "utf-16 little endian bom",
			payload: []byte{0x80, 0xFF, 0xFE, 'o', 0x00, 'k', 0x00},
			want:    "ok",
		},
		{
			name:    "empty text",
			payload: []byte{0x02, 'e', 'n'},
			want:    "",
		},
		{name: "missing status", payload: nil, wantErr: true},
		{name: "truncated language", payload: []byte{0x05, 'e'}, wantErr: true},
		{name: "odd utf-16", payload: []byte{0x80, 0x00}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := parseTextRecordPayload(tt.payload)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
