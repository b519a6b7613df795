// internal/dispatch/envelope.go
package dispatch

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tamzrod/rack-manager/internal/codec"
)

// DeviceType identifies a device family on the rack buses.
type DeviceType uint8

// Target addresses one device: its family and its address on the bus.
type Target struct {
	Type DeviceType
	ID   uint8
}

func (t Target) String() string { return fmt.Sprintf("%d/%d", t.Type, t.ID) }

// State is the lifecycle position of an envelope.
type State uint8

const (
	Idle State = iota
	Queued
	InFlight
	Completed
	Cancelled
	TimedOut
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Queued:
		return "queued"
	case InFlight:
		return "in-flight"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	case TimedOut:
		return "timed-out"
	default:
		return "unknown"
	}
}

// Envelope is one call through the dispatcher and its routing metadata.
// Observers receive a copy once the call has returned.
type Envelope struct {
	ID          uuid.UUID
	Target      Target
	Channel     string
	Functions   []codec.FunctionCode
	Priority    Priority
	State       State
	Code        codec.CompletionCode
	Attempts    int
	Err         error
	SubmittedAt time.Time
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Waited is how long the envelope waited for its channel.
func (e Envelope) Waited() time.Duration {
	if e.StartedAt.IsZero() {
		return e.FinishedAt.Sub(e.SubmittedAt)
	}
	return e.StartedAt.Sub(e.SubmittedAt)
}

// Elapsed is the whole call duration as seen by the caller.
func (e Envelope) Elapsed() time.Duration { return e.FinishedAt.Sub(e.SubmittedAt) }

// Observer receives every finished envelope, on the caller's goroutine.
// Implementations must not block.
type Observer interface {
	Observe(e Envelope)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(e Envelope)

func (f ObserverFunc) Observe(e Envelope) { f(e) }

// Step is one request/response exchange inside a call.
type Step struct {
	Request  codec.Request
	Response codec.Response
}

// Settler is implemented by requests that need the bus to rest after a
// successful completion before the next command may start.
type Settler interface {
	SettleDelay() time.Duration
}
