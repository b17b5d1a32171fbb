package nfc

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMultiHardware(t *testing.T) {
	t.Parallel()

	a := NewMockHardware()
	b := NewMockHardware()

	mh := NewMultiHardware(
		HardwareEntry{Name: "a", Hardware: a},
		HardwareEntry{Name: "b", Hardware: b},
		HardwareEntry{Name: "a", Hardware: NewMockHardware()},
		HardwareEntry{Name: "", Hardware: NewMockHardware()},
		HardwareEntry{Name: "nil"},
	)

	assert.Equal(t, []string{"a", "b"}, mh.Names())
	got, ok := mh.Get("b")
	require.True(t, ok)
	assert.Same(t, b, got)
}

func TestMultiHardware_ForwardsEvents(t *testing.T) {
	t.Parallel()

	a := NewMockHardware()
	b := NewMockHardware()
	mh := NewMultiHardware(HardwareEntry{Name: "a", Hardware: a}, HardwareEntry{Name: "b", Hardware: b})

	var events []*TagEvent
	var errs []error
	require.NoError(t, mh.OnTag(func(ev *TagEvent) { events = append(events, ev) }))
	require.NoError(t, mh.OnError(func(err error) { errs = append(errs, err) }))

	a.Tag(NewTagEvent("a", TextPayload("01")))
	b.Tag(NewTagEvent("b", TextPayload("02")))
	b.Fail(errors.New("timeout"))

	require.Len(t, events, 2)
	assert.Equal(t, "a", events[0].Source)
	assert.Equal(t, "b", events[1].Source)
	require.Len(t, errs, 1)
	assert.EqualError(t, errs[0], "b: timeout")

	require.NoError(t, mh.RemoveAllListeners(ChannelTag))
	a.Tag(NewTagEvent("a", TextPayload("03")))
	assert.Len(t, events, 2)
}

func TestMultiHardware_Remove(t *testing.T) {
	t.Parallel()

	a := NewMockHardware()
	mh := NewMultiHardware(HardwareEntry{Name: "a", Hardware: a})

	require.NoError(t, mh.Remove("a"))
	assert.Empty(t, mh.Names())
	assert.Zero(t, a.HandlerCount(ChannelTag))
	require.Error(t, mh.Remove("a"))
}

func TestMultiHardware_AddSubscribeFailure(t *testing.T) {
	t.Parallel()

	bad := NewMockHardware()
	bad.OnErrorError = errors.New("no error channel")

	mh := NewMultiHardware()
	require.Error(t, mh.Add("bad", bad))
	assert.Empty(t, mh.Names())
	assert.Zero(t, bad.HandlerCount(ChannelTag))
}

func TestMultiHardware_Capabilities(t *testing.T) {
	t.Parallel()

	phone := NewMockHardware()
	phone.OnDemand = true
	reader := NewMockHardware()
	reader.IsCapable = false

	mh := NewMultiHardware(HardwareEntry{Name: "reader", Hardware: reader}, HardwareEntry{Name: "phone", Hardware: phone})
	ctx := context.Background()

	assert.True(t, mh.Capable())
	assert.True(t, mh.ScanOnDemand())

	ok, err := mh.Supported(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotContains(t, reader.GetCallLog(), "Supported")

	require.NoError(t, mh.StartScan(ctx))
	assert.Contains(t, phone.GetCallLog(), "StartScan")
	assert.NotContains(t, reader.GetCallLog(), "StartScan")

	phone.IsSupported = false
	phone.SupportedError = errors.New("busy")
	ok, err = mh.Supported(ctx)
	assert.False(t, ok)
	require.Error(t, err)
}

func TestMultiHardware_Empty(t *testing.T) {
	t.Parallel()

	mh := NewMultiHardware()
	assert.False(t, mh.Capable())
	assert.False(t, mh.ScanOnDemand())
	ok, err := mh.Supported(context.Background())
	assert.False(t, ok)
	assert.NoError(t, err)
}
