package libnfc

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nedpals/davi-tag-agent/nfc"
)

// scriptedPoller replays a fixed sequence of poll results, then repeats the last.
type scriptedPoller struct {
	mu     sync.Mutex
	script [][][]byte
	err    error
	closed bool
}

func (p *scriptedPoller) Poll() ([][]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.script) == 0 {
		return nil, p.err
	}
	next := p.script[0]
	if len(p.script) > 1 {
		p.script = p.script[1:]
	}
	return next, nil
}

func (p *scriptedPoller) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *scriptedPoller) String() string { return "scripted" }

func newTestReader(open opener) *Reader {
	r := NewReader("")
	r.interval = time.Millisecond
	r.open = open
	return r
}

func TestReader_ReportsEachArrivalOnce(t *testing.T) {
	t.Parallel()

	r := newTestReader(nil)
	var serials []string
	require.NoError(t, r.OnTag(func(ev *nfc.TagEvent) {
		s, err := nfc.ParseEvent(ev)
		require.NoError(t, err)
		assert.Equal(t, SourceName, ev.Source)
		serials = append(serials, s)
	}))

	a := []byte{0x04, 0xA2, 0x1F, 0x9B}
	b := []byte{0xDE, 0xAD, 0xBE, 0xEF}

	r.report([][]byte{a})
	r.report([][]byte{a})
	r.report([][]byte{a, b})
	r.report(nil)
	r.report([][]byte{a})

	assert.Equal(t, []string{"04:A2:1F:9B", "DE:AD:BE:EF", "04:A2:1F:9B"}, serials)
}

func TestReader_Worker(t *testing.T) {
	t.Parallel()

	dev := &scriptedPoller{script: [][][]byte{{}, {{0x01, 0x02}}}}
	r := newTestReader(func(string) (poller, error) { return dev, nil })

	got := make(chan string, 1)
	require.NoError(t, r.OnTag(func(ev *nfc.TagEvent) {
		s, _ := nfc.ParseEvent(ev)
		select {
		case got <- s:
		default:
		}
	}))

	r.Start(context.Background())
	r.Start(context.Background())

	select {
	case s := <-got:
		assert.Equal(t, "01:02", s)
	case <-time.After(2 * time.Second):
		t.Fatal("no tag reported")
	}

	r.Close()
	r.Close()

	dev.mu.Lock()
	defer dev.mu.Unlock()
	assert.True(t, dev.closed)
}

func TestReader_PollFailureEmitsError(t *testing.T) {
	t.Parallel()

	dev := &scriptedPoller{err: errors.New("usb disconnected")}
	r := newTestReader(func(string) (poller, error) { return dev, nil })

	errs := make(chan error, 1)
	require.NoError(t, r.OnError(func(err error) {
		select {
		case errs <- err:
		default:
		}
	}))

	r.Start(context.Background())
	defer r.Close()

	select {
	case err := <-errs:
		assert.EqualError(t, err, "usb disconnected")
	case <-time.After(2 * time.Second):
		t.Fatal("no error reported")
	}
}

func TestReader_Supported(t *testing.T) {
	t.Parallel()

	r := NewReader("")
	r.list = func() ([]string, error) { return []string{"pn53x_usb:001:004"}, nil }
	ok, err := r.Supported(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	r.list = func() ([]string, error) { return nil, nil }
	ok, err = r.Supported(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	r.list = func() ([]string, error) { return nil, errors.New("libnfc missing") }
	_, err = r.Supported(context.Background())
	require.Error(t, err)

	assert.True(t, r.Capable())
	assert.False(t, r.ScanOnDemand())
	assert.NoError(t, r.StartScan(context.Background()))
}

func TestReader_CloseWithoutStart(t *testing.T) {
	t.Parallel()

	r := NewReader("")
	r.Close()
}
