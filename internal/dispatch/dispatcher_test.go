package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/rack-manager/internal/codec"
	"github.com/tamzrod/rack-manager/internal/layout"
	"github.com/tamzrod/rack-manager/internal/transport"
)

// ---- test messages ----

const (
	fnPing   codec.FunctionCode = 0x01
	fnOff    codec.FunctionCode = 0x02
	fnStatus codec.FunctionCode = 0x03
)

type pingRequest struct{ Tag uint8 }

func (pingRequest) Function() codec.FunctionCode   { return fnPing }
func (r pingRequest) EncodeFields(w *codec.Writer) { w.Uint8("tag", r.Tag) }

type pingResponse struct {
	codec.Completion
	Tag uint8
}

func (*pingResponse) Function() codec.FunctionCode { return fnPing }

func (r *pingResponse) DecodeFields(rd *codec.Reader) error {
	r.Tag = rd.Uint8("tag")
	return rd.Err()
}

type offRequest struct{ settle time.Duration }

func (offRequest) Function() codec.FunctionCode { return fnOff }
func (offRequest) EncodeFields(*codec.Writer)   {}
func (r offRequest) SettleDelay() time.Duration { return r.settle }

type offResponse struct{ codec.Completion }

func (*offResponse) Function() codec.FunctionCode     { return fnOff }
func (*offResponse) DecodeFields(*codec.Reader) error { return nil }

type statusResponse struct {
	codec.Completion
	Value uint16
}

func (*statusResponse) Function() codec.FunctionCode { return fnStatus }

func (r *statusResponse) DecodeFields(rd *codec.Reader) error {
	r.Value = rd.Uint16("value")
	return rd.Err()
}

func testCodec(t *testing.T) *codec.Codec {
	t.Helper()
	b := layout.NewBuilder()
	require.NoError(t, b.AddAll(
		layout.MustNew(fnPing, layout.Request, layout.U8("tag", 0)),
		layout.MustNew(fnPing, layout.Response, layout.U8("tag", 1)),
		layout.MustNew(fnOff, layout.Request),
		layout.MustNew(fnOff, layout.Response),
		layout.MustNew(fnStatus, layout.Request),
		layout.MustNew(fnStatus, layout.Response, layout.U16("value", 1)),
	))
	return codec.New(b.Build())
}

// echo answers ping with its tag and everything else with Success.
func echo(addr uint8, frame []byte) ([]byte, error) {
	if codec.FunctionCode(frame[0]) == fnPing {
		return []byte{0x00, frame[1]}, nil
	}
	return []byte{0x00}, nil
}

// ---- recording transport ----

type ioEvent struct {
	at    time.Time
	tag   byte
	fn    byte
	phase string
}

// recorder wraps a transport and records write/read boundaries.
type recorder struct {
	inner    transport.Transport
	mu       sync.Mutex
	events   []ioEvent
	inFlight int32
	maxSeen  int32
	lastTag  byte
	lastFn   byte
}

func (r *recorder) Write(addr uint8, frame []byte) error {
	n := atomic.AddInt32(&r.inFlight, 1)
	for {
		m := atomic.LoadInt32(&r.maxSeen)
		if n <= m || atomic.CompareAndSwapInt32(&r.maxSeen, m, n) {
			break
		}
	}
	var tag byte
	if len(frame) > 1 {
		tag = frame[1]
	}
	r.mu.Lock()
	r.lastTag, r.lastFn = tag, frame[0]
	r.events = append(r.events, ioEvent{at: time.Now(), tag: tag, fn: frame[0], phase: "write"})
	r.mu.Unlock()
	return r.inner.Write(addr, frame)
}

func (r *recorder) Read(timeout time.Duration) ([]byte, error) {
	out, err := r.inner.Read(timeout)
	r.mu.Lock()
	r.events = append(r.events, ioEvent{at: time.Now(), tag: r.lastTag, fn: r.lastFn, phase: "read"})
	r.mu.Unlock()
	atomic.AddInt32(&r.inFlight, -1)
	return out, err
}

func (r *recorder) Close() error { return r.inner.Close() }

func (r *recorder) writes() []ioEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ioEvent
	for _, e := range r.events {
		if e.phase == "write" {
			out = append(out, e)
		}
	}
	return out
}

var target = Target{Type: 1, ID: 3}

func newTestDispatcher(t *testing.T, h transport.Handler, opts Options, options ...Option) (*Dispatcher, *recorder, *transport.Loopback) {
	t.Helper()
	lb := transport.NewLoopback(h)
	rec := &recorder{inner: lb}
	ch := NewChannel("bus-a", rec)
	d := New(testCodec(t), map[Target]*Channel{target: ch}, opts, options...)
	return d, rec, lb
}

// waitQueued polls until n envelopes are queued on the target's channel.
func waitQueued(t *testing.T, d *Dispatcher, n int) {
	t.Helper()
	ch, _ := d.Channel(target)
	require.Eventually(t, func() bool { return ch.queued() == n }, time.Second, time.Millisecond)
}

// ---- tests ----

func TestSendReceive_Success(t *testing.T) {
	d, _, _ := newTestDispatcher(t, echo, Options{Timeout: time.Second})

	var resp pingResponse
	code := d.SendReceive(context.Background(), target, pingRequest{Tag: 42}, &resp, User)

	assert.Equal(t, codec.Success, code)
	assert.Equal(t, codec.Success, resp.Code)
	assert.Equal(t, uint8(42), resp.Tag)
}

func TestSendReceive_DeviceCodePassedThrough(t *testing.T) {
	d, _, _ := newTestDispatcher(t, func(uint8, []byte) ([]byte, error) {
		return []byte{0x01}, nil
	}, Options{Timeout: time.Second})

	var resp pingResponse
	code := d.SendReceive(context.Background(), target, pingRequest{Tag: 9}, &resp, User)

	assert.Equal(t, codec.CompletionCode(1), code)
	assert.Equal(t, codec.CompletionCode(1), resp.Code)
	assert.Zero(t, resp.Tag)
}

func TestSendReceive_MutualExclusion(t *testing.T) {
	d, rec, lb := newTestDispatcher(t, echo, Options{Timeout: time.Second})
	lb.Latency = 2 * time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			prio := User
			if i%2 == 0 {
				prio = System
			}
			var resp pingResponse
			code := d.SendReceive(context.Background(), target, pingRequest{Tag: uint8(i)}, &resp, prio)
			assert.Equal(t, codec.Success, code)
			assert.Equal(t, uint8(i), resp.Tag, "response must belong to its own request")
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&rec.maxSeen))

	// write/read pairs never interleave
	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.events, 40)
	for i := 0; i < len(rec.events); i += 2 {
		assert.Equal(t, "write", rec.events[i].phase)
		assert.Equal(t, "read", rec.events[i+1].phase)
		assert.Equal(t, rec.events[i].tag, rec.events[i+1].tag)
	}
}

// blocker holds the first exchange until released.
type blocker struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlocker() *blocker {
	return &blocker{started: make(chan struct{}), release: make(chan struct{})}
}

func (b *blocker) handler(addr uint8, frame []byte) ([]byte, error) {
	first := false
	b.once.Do(func() { first = true })
	if first {
		close(b.started)
		<-b.release
	}
	return echo(addr, frame)
}

func TestSendReceive_PriorityOrder(t *testing.T) {
	b := newBlocker()
	d, rec, _ := newTestDispatcher(t, b.handler, Options{Timeout: 5 * time.Second})
	ctx := context.Background()

	var wg sync.WaitGroup
	call := func(tag uint8, prio Priority) {
		defer wg.Done()
		var resp pingResponse
		d.SendReceive(ctx, target, pingRequest{Tag: tag}, &resp, prio)
	}

	wg.Add(1)
	go call(1, User)
	<-b.started

	wg.Add(1)
	go call(2, User)
	waitQueued(t, d, 1)

	wg.Add(1)
	go call(3, System)
	waitQueued(t, d, 2)

	close(b.release)
	wg.Wait()

	w := rec.writes()
	require.Len(t, w, 3)
	assert.Equal(t, byte(1), w[0].tag)
	assert.Equal(t, byte(3), w[1].tag, "system is dispatched before the earlier user call")
	assert.Equal(t, byte(2), w[2].tag)
}

func TestSendReceive_FIFOWithinPriority(t *testing.T) {
	b := newBlocker()
	d, rec, _ := newTestDispatcher(t, b.handler, Options{Timeout: 5 * time.Second})
	ctx := context.Background()

	var wg sync.WaitGroup
	call := func(tag uint8) {
		defer wg.Done()
		var resp pingResponse
		d.SendReceive(ctx, target, pingRequest{Tag: tag}, &resp, System)
	}

	wg.Add(1)
	go call(10)
	<-b.started

	for i := 1; i <= 4; i++ {
		wg.Add(1)
		go call(uint8(10 + i))
		waitQueued(t, d, i)
	}

	close(b.release)
	wg.Wait()

	w := rec.writes()
	require.Len(t, w, 5)
	for i, e := range w {
		assert.Equal(t, byte(10+i), e.tag)
	}
}

func TestSendReceive_SettleDelayHoldsChannel(t *testing.T) {
	const settle = 150 * time.Millisecond
	d, rec, _ := newTestDispatcher(t, echo, Options{Timeout: time.Second})
	ctx := context.Background()

	start := time.Now()
	var off offResponse
	code := d.SendReceive(ctx, target, offRequest{settle: settle}, &off, User)
	offDone := time.Now()
	require.Equal(t, codec.Success, code)

	// the caller is not charged for the settle window
	assert.Less(t, offDone.Sub(start), settle)

	ch, _ := d.Channel(target)
	assert.True(t, ch.settling())

	var resp pingResponse
	code = d.SendReceive(ctx, target, pingRequest{Tag: 5}, &resp, System)
	require.Equal(t, codec.Success, code)

	w := rec.writes()
	require.Len(t, w, 2)
	assert.GreaterOrEqual(t, w[1].at.Sub(offDone), settle-5*time.Millisecond)
}

func TestSendReceive_NoSettleOnFailure(t *testing.T) {
	d, rec, _ := newTestDispatcher(t, func(addr uint8, frame []byte) ([]byte, error) {
		if codec.FunctionCode(frame[0]) == fnOff {
			return []byte{0x01}, nil
		}
		return echo(addr, frame)
	}, Options{Timeout: time.Second})
	ctx := context.Background()

	var off offResponse
	require.Equal(t, codec.CompletionCode(1), d.SendReceive(ctx, target, offRequest{settle: time.Second}, &off, User))

	done := time.Now()
	var resp pingResponse
	require.Equal(t, codec.Success, d.SendReceive(ctx, target, pingRequest{Tag: 1}, &resp, User))

	w := rec.writes()
	require.Len(t, w, 2)
	assert.Less(t, w[1].at.Sub(done), 500*time.Millisecond)
}

func TestSendReceive_TransportErrorBecomesUnspecified(t *testing.T) {
	var seen []Envelope
	d, _, _ := newTestDispatcher(t, func(uint8, []byte) ([]byte, error) {
		return nil, errors.New("bus fault")
	}, Options{Timeout: time.Second}, WithObserver(ObserverFunc(func(e Envelope) { seen = append(seen, e) })))

	var resp pingResponse
	code := d.SendReceive(context.Background(), target, pingRequest{Tag: 1}, &resp, User)

	assert.Equal(t, codec.UnspecifiedError, code)
	assert.Equal(t, codec.UnspecifiedError, resp.Code)
	require.Len(t, seen, 1)
	assert.Equal(t, Completed, seen[0].State)
	assert.EqualError(t, seen[0].Err, "bus fault")
}

func TestFinish_LogLevels(t *testing.T) {
	cases := []struct {
		name    string
		handler transport.Handler
		want    string
	}{
		{"transport error", func(uint8, []byte) ([]byte, error) { return nil, errors.New("bus fault") }, "error"},
		{"device code", func(uint8, []byte) ([]byte, error) { return []byte{byte(codec.NodeBusy)}, nil }, "warn"},
		{"success", echo, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			log := zerolog.New(&buf).Level(zerolog.DebugLevel)
			d, _, _ := newTestDispatcher(t, tc.handler, Options{Timeout: time.Second}, WithLogger(log))

			var resp pingResponse
			d.SendReceive(context.Background(), target, pingRequest{Tag: 1}, &resp, User)

			if tc.want == "" {
				assert.Zero(t, buf.Len(), buf.String())
				return
			}
			var line map[string]any
			require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
			assert.Equal(t, tc.want, line["level"])
		})
	}
}

func TestSendReceive_ReadTimeout(t *testing.T) {
	d, _, lb := newTestDispatcher(t, echo, Options{Timeout: 10 * time.Millisecond})
	lb.Latency = 100 * time.Millisecond

	var resp pingResponse
	code := d.SendReceive(context.Background(), target, pingRequest{Tag: 1}, &resp, System)
	assert.Equal(t, codec.Timeout, code)
	assert.Equal(t, codec.Timeout, resp.Code)

	// the channel is free again afterwards
	lb.Latency = 0
	assert.Equal(t, codec.Success, d.SendReceive(context.Background(), target, pingRequest{Tag: 2}, &resp, System))
}

func TestSendReceive_ShortFrameBecomesUnspecified(t *testing.T) {
	d, _, _ := newTestDispatcher(t, func(uint8, []byte) ([]byte, error) {
		return []byte{0x00, 0x01}, nil // value needs two bytes
	}, Options{Timeout: time.Second})

	var resp statusResponse
	code := d.SendReceive(context.Background(), target, statusRequest{}, &resp, User)
	assert.Equal(t, codec.UnspecifiedError, code)
}

type statusRequest struct{}

func (statusRequest) Function() codec.FunctionCode { return fnStatus }
func (statusRequest) EncodeFields(*codec.Writer)   {}

func TestSendReceive_RetriesTransportErrors(t *testing.T) {
	var calls int32
	d, _, _ := newTestDispatcher(t, func(addr uint8, frame []byte) ([]byte, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return nil, errors.New("crc error")
		}
		return echo(addr, frame)
	}, Options{Timeout: time.Second, Retries: 2})

	var seen Envelope
	d.observers = append(d.observers, ObserverFunc(func(e Envelope) { seen = e }))

	var resp pingResponse
	code := d.SendReceive(context.Background(), target, pingRequest{Tag: 8}, &resp, User)
	assert.Equal(t, codec.Success, code)
	assert.Equal(t, 3, seen.Attempts)
}

func TestSendReceive_QueueTimeout(t *testing.T) {
	b := newBlocker()
	var mu sync.Mutex
	var states []State
	d, _, _ := newTestDispatcher(t, b.handler, Options{Timeout: 5 * time.Second, QueueTimeout: 30 * time.Millisecond},
		WithObserver(ObserverFunc(func(e Envelope) {
			mu.Lock()
			states = append(states, e.State)
			mu.Unlock()
		})))

	done := make(chan struct{})
	go func() {
		defer close(done)
		var resp pingResponse
		d.SendReceive(context.Background(), target, pingRequest{Tag: 1}, &resp, User)
	}()
	<-b.started

	var resp pingResponse
	code := d.SendReceive(context.Background(), target, pingRequest{Tag: 2}, &resp, System)
	assert.Equal(t, codec.Timeout, code)

	ch, _ := d.Channel(target)
	assert.Equal(t, 0, ch.queued(), "timed out waiter leaves the queue")

	close(b.release)
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{TimedOut, Completed}, states)
}

func TestSendReceive_CallerCancelWhileQueued(t *testing.T) {
	b := newBlocker()
	d, _, _ := newTestDispatcher(t, b.handler, Options{Timeout: 5 * time.Second})

	done := make(chan struct{})
	go func() {
		defer close(done)
		var resp pingResponse
		d.SendReceive(context.Background(), target, pingRequest{Tag: 1}, &resp, User)
	}()
	<-b.started

	ctx, cancel := context.WithCancel(context.Background())
	res := make(chan codec.CompletionCode, 1)
	go func() {
		var resp pingResponse
		res <- d.SendReceive(ctx, target, pingRequest{Tag: 2}, &resp, User)
	}()
	waitQueued(t, d, 1)
	cancel()

	assert.Equal(t, codec.UnspecifiedError, <-res)
	close(b.release)
	<-done
}

func TestSendReceive_UnknownTargetAndMismatch(t *testing.T) {
	d, rec, _ := newTestDispatcher(t, echo, Options{Timeout: time.Second})
	ctx := context.Background()

	var resp pingResponse
	assert.Equal(t, codec.UnspecifiedError,
		d.SendReceive(ctx, Target{Type: 9, ID: 9}, pingRequest{}, &resp, User))

	var wrong statusResponse
	assert.Equal(t, codec.UnspecifiedError,
		d.SendReceive(ctx, target, pingRequest{}, &wrong, User))

	assert.Empty(t, rec.writes(), "nothing reaches the bus")
}

type panicTransport struct{}

func (panicTransport) Write(uint8, []byte) error          { panic("driver bug") }
func (panicTransport) Read(time.Duration) ([]byte, error) { return nil, nil }
func (panicTransport) Close() error                       { return nil }

func TestSendReceive_TransportPanicRecovered(t *testing.T) {
	ch := NewChannel("bad", panicTransport{})
	d := New(testCodec(t), map[Target]*Channel{target: ch}, Options{})

	var resp pingResponse
	code := d.SendReceive(context.Background(), target, pingRequest{}, &resp, User)
	assert.Equal(t, codec.UnspecifiedError, code)

	// channel released despite the panic
	assert.Equal(t, codec.UnspecifiedError, d.SendReceive(context.Background(), target, pingRequest{}, &resp, User))
}

func TestChannels_Independent(t *testing.T) {
	slow := func(addr uint8, frame []byte) ([]byte, error) {
		time.Sleep(60 * time.Millisecond)
		return echo(addr, frame)
	}
	a := NewChannel("a", transport.NewLoopback(slow))
	b := NewChannel("b", transport.NewLoopback(slow))
	ta, tb := Target{Type: 1, ID: 1}, Target{Type: 1, ID: 2}
	d := New(testCodec(t), map[Target]*Channel{ta: a, tb: b}, Options{Timeout: time.Second})

	start := time.Now()
	var wg sync.WaitGroup
	for _, tg := range []Target{ta, tb} {
		wg.Add(1)
		go func(tg Target) {
			defer wg.Done()
			var resp pingResponse
			assert.Equal(t, codec.Success, d.SendReceive(context.Background(), tg, pingRequest{}, &resp, User))
		}(tg)
	}
	wg.Wait()

	assert.Less(t, time.Since(start), 110*time.Millisecond)
}

func TestSequence_HoldsChannelAndSettlesInline(t *testing.T) {
	const settle = 80 * time.Millisecond
	d, rec, _ := newTestDispatcher(t, echo, Options{Timeout: time.Second})
	ctx := context.Background()

	var off offResponse
	var ping pingResponse
	start := time.Now()
	code := d.Sequence(ctx, target, User,
		Step{Request: offRequest{settle: settle}, Response: &off},
		Step{Request: pingRequest{Tag: 7}, Response: &ping},
	)
	require.Equal(t, codec.Success, code)
	assert.GreaterOrEqual(t, time.Since(start), settle)
	assert.Equal(t, uint8(7), ping.Tag)

	w := rec.writes()
	require.Len(t, w, 2)
	assert.GreaterOrEqual(t, w[1].at.Sub(w[0].at), settle)
}

func TestSequence_StopsAtFirstFailure(t *testing.T) {
	d, rec, _ := newTestDispatcher(t, func(addr uint8, frame []byte) ([]byte, error) {
		if codec.FunctionCode(frame[0]) == fnOff {
			return []byte{0xC0}, nil
		}
		return echo(addr, frame)
	}, Options{Timeout: time.Second})

	var off offResponse
	var ping pingResponse
	code := d.Sequence(context.Background(), target, User,
		Step{Request: offRequest{}, Response: &off},
		Step{Request: pingRequest{Tag: 7}, Response: &ping},
	)
	assert.Equal(t, codec.NodeBusy, code)
	assert.Equal(t, codec.NodeBusy, ping.Code, "skipped step must not look successful")
	assert.Len(t, rec.writes(), 1)
}
