// internal/dispatch/dispatcher.go
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tamzrod/rack-manager/internal/codec"
	"github.com/tamzrod/rack-manager/internal/transport"
)

var (
	ErrUnknownTarget    = errors.New("dispatch: no channel for target")
	ErrFunctionMismatch = errors.New("dispatch: response does not answer request")
	ErrNoSteps          = errors.New("dispatch: empty sequence")
	ErrPanic            = errors.New("dispatch: transport panic")
)

// Options bound every call. Zero values disable the bound.
type Options struct {
	// Timeout is the read timeout for one exchange.
	Timeout time.Duration
	// QueueTimeout bounds the wait for the channel.
	QueueTimeout time.Duration
	// Retries applies to transport failures only; timeouts and device
	// completion codes are never retried.
	Retries int
}

type Option func(*Dispatcher)

func WithLogger(l zerolog.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

func WithObserver(o Observer) Option {
	return func(d *Dispatcher) { d.observers = append(d.observers, o) }
}

// Dispatcher serializes device commands per channel and turns every
// transport or decode failure into a completion code.
type Dispatcher struct {
	codec     *codec.Codec
	routes    map[Target]*Channel
	opts      Options
	log       zerolog.Logger
	observers []Observer
}

// New builds a dispatcher over a fixed routing table.
func New(c *codec.Codec, routes map[Target]*Channel, opts Options, options ...Option) *Dispatcher {
	d := &Dispatcher{
		codec:  c,
		routes: make(map[Target]*Channel, len(routes)),
		opts:   opts,
		log:    zerolog.Nop(),
	}
	for t, ch := range routes {
		d.routes[t] = ch
	}
	for _, o := range options {
		o(d)
	}
	return d
}

// Channel returns the channel serving a target.
func (d *Dispatcher) Channel(t Target) (*Channel, bool) {
	ch, ok := d.routes[t]
	return ch, ok
}

// SendReceive runs one command and fills resp. The returned code always
// equals resp.Result().Code; the payload is only valid on Success.
func (d *Dispatcher) SendReceive(
	ctx context.Context,
	t Target,
	req codec.Request,
	resp codec.Response,
	prio Priority,
) codec.CompletionCode {
	return d.Sequence(ctx, t, prio, Step{Request: req, Response: resp})
}

// Sequence runs several exchanges on one channel without releasing it.
// A settle delay requested by a step is waited out before the next step.
// It stops at the first non-Success step; later responses get that code.
func (d *Dispatcher) Sequence(ctx context.Context, t Target, prio Priority, steps ...Step) codec.CompletionCode {
	env := Envelope{
		ID:          uuid.New(),
		Target:      t,
		Priority:    prio,
		State:       Idle,
		SubmittedAt: time.Now(),
	}
	for _, s := range steps {
		env.Functions = append(env.Functions, s.Request.Function())
	}

	code := d.run(ctx, &env, steps)

	env.Code = code
	env.FinishedAt = time.Now()
	d.finish(env)
	return code
}

func (d *Dispatcher) run(ctx context.Context, env *Envelope, steps []Step) codec.CompletionCode {
	if len(steps) == 0 {
		env.Err = ErrNoSteps
		return codec.UnspecifiedError
	}
	for _, s := range steps {
		if s.Request.Function() != s.Response.Function() {
			env.Err = fmt.Errorf("%w: request 0x%02x, response 0x%02x",
				ErrFunctionMismatch, byte(s.Request.Function()), byte(s.Response.Function()))
			return abort(steps, 0, codec.UnspecifiedError)
		}
	}

	ch, ok := d.routes[env.Target]
	if !ok {
		env.Err = fmt.Errorf("%w %s", ErrUnknownTarget, env.Target)
		return abort(steps, 0, codec.UnspecifiedError)
	}
	env.Channel = ch.name

	qctx := ctx
	if d.opts.QueueTimeout > 0 {
		var cancel context.CancelFunc
		qctx, cancel = context.WithTimeout(ctx, d.opts.QueueTimeout)
		defer cancel()
	}

	env.State = Queued
	if err := ch.acquire(qctx, env.Priority); err != nil {
		env.Err = err
		if errors.Is(err, context.DeadlineExceeded) {
			env.State = TimedOut
			return abort(steps, 0, codec.Timeout)
		}
		env.State = Cancelled
		return abort(steps, 0, codec.UnspecifiedError)
	}

	env.State = InFlight
	env.StartedAt = time.Now()

	code := codec.Success
	var settle time.Duration
	for i, s := range steps {
		if settle > 0 {
			// inside a sequence the channel is already ours: wait inline
			time.Sleep(settle)
			settle = 0
		}
		code = d.exchange(ch, env, s)
		if code != codec.Success {
			abort(steps, i+1, code)
			break
		}
		if st, ok := s.Request.(Settler); ok {
			settle = st.SettleDelay()
		}
	}

	ch.release(settle)
	env.State = Completed
	return code
}

// exchange runs one step on a held channel. Nothing escapes it but a code.
func (d *Dispatcher) exchange(ch *Channel, env *Envelope, s Step) (code codec.CompletionCode) {
	defer func() {
		if r := recover(); r != nil {
			env.Err = fmt.Errorf("%w: %v", ErrPanic, r)
			code = codec.UnspecifiedError
		}
		s.Response.Result().Code = code
	}()

	frame, err := d.codec.Encode(s.Request)
	if err != nil {
		env.Err = err
		return codec.UnspecifiedError
	}

	var raw []byte
	for attempt := 0; ; attempt++ {
		env.Attempts++
		raw, err = d.roundTrip(ch, env.Target.ID, frame)
		if err == nil {
			break
		}
		if errors.Is(err, transport.ErrTimeout) {
			env.Err = err
			return codec.Timeout
		}
		if attempt >= d.opts.Retries {
			env.Err = err
			return codec.UnspecifiedError
		}
		d.log.Debug().
			Str("channel", ch.name).
			Stringer("target", env.Target).
			Int("attempt", attempt+1).
			Err(err).
			Msg("retrying exchange")
	}

	if err := d.codec.Decode(raw, s.Response); err != nil {
		env.Err = err
		return codec.UnspecifiedError
	}
	return s.Response.Result().Code
}

func (d *Dispatcher) roundTrip(ch *Channel, addr uint8, frame []byte) ([]byte, error) {
	if err := ch.tr.Write(addr, frame); err != nil {
		return nil, err
	}
	return ch.tr.Read(d.opts.Timeout)
}

// finish logs the outcome and notifies observers. Bus failures (transport,
// decode, panic) log at error; every other non-Success outcome at warn.
func (d *Dispatcher) finish(env Envelope) {
	switch {
	case env.Err != nil:
		ev := d.log.Warn()
		if env.Attempts > 0 && env.Code != codec.Timeout {
			ev = d.log.Error()
		}
		ev.
			Str("id", env.ID.String()).
			Str("channel", env.Channel).
			Stringer("target", env.Target).
			Stringer("state", env.State).
			Stringer("code", env.Code).
			Err(env.Err).
			Msg("command failed")
	case env.Code != codec.Success:
		d.log.Warn().
			Str("id", env.ID.String()).
			Stringer("target", env.Target).
			Stringer("code", env.Code).
			Msg("device reported failure")
	default:
		d.log.Trace().
			Str("id", env.ID.String()).
			Stringer("target", env.Target).
			Dur("elapsed", env.Elapsed()).
			Msg("command ok")
	}

	for _, o := range d.observers {
		o.Observe(env)
	}
}

// abort stamps code on every response from index from onwards.
func abort(steps []Step, from int, code codec.CompletionCode) codec.CompletionCode {
	for _, s := range steps[from:] {
		s.Response.Result().Code = code
	}
	return code
}
