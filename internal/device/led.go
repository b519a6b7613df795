// internal/device/led.go
package device

import (
	"context"

	"github.com/tamzrod/rack-manager/internal/codec"
	"github.com/tamzrod/rack-manager/internal/dispatch"
	"github.com/tamzrod/rack-manager/internal/layout"
)

const (
	FnTurnOnLed    codec.FunctionCode = 0x20
	FnTurnOffLed   codec.FunctionCode = 0x21
	FnGetLedStatus codec.FunctionCode = 0x22
)

var ledLayouts = []*layout.Layout{
	layout.MustNew(FnTurnOnLed, layout.Request),
	layout.MustNew(FnTurnOnLed, layout.Response),
	layout.MustNew(FnTurnOffLed, layout.Request),
	layout.MustNew(FnTurnOffLed, layout.Response),
	layout.MustNew(FnGetLedStatus, layout.Request),
	layout.MustNew(FnGetLedStatus, layout.Response, layout.U8("state", 1)),
}

// LedState is the attention LED state. The zero value is NA.
type LedState uint8

const (
	LedNA LedState = iota
	LedOff
	LedOn
)

func (s LedState) String() string {
	switch s {
	case LedOff:
		return "off"
	case LedOn:
		return "on"
	default:
		return "na"
	}
}

type GetLedStatusResponse struct {
	codec.Completion
	State uint8
}

func (*GetLedStatusResponse) Function() codec.FunctionCode { return FnGetLedStatus }

func (r *GetLedStatusResponse) DecodeFields(rd *codec.Reader) error {
	r.State = rd.Uint8("state")
	return rd.Err()
}

// StatusLed is operator driven and runs at User priority.
type StatusLed struct {
	s Sender
	t dispatch.Target
}

func NewStatusLed(s Sender, id uint8) *StatusLed {
	return &StatusLed{s: s, t: dispatch.Target{Type: TypeStatusLed, ID: id}}
}

func (l *StatusLed) TurnOn(ctx context.Context) codec.CompletionCode {
	return command(ctx, l.s, l.t, FnTurnOnLed, dispatch.User)
}

func (l *StatusLed) TurnOff(ctx context.Context) codec.CompletionCode {
	return command(ctx, l.s, l.t, FnTurnOffLed, dispatch.User)
}

func (l *StatusLed) Status(ctx context.Context) (LedState, codec.CompletionCode) {
	var resp GetLedStatusResponse
	code := l.s.SendReceive(ctx, l.t, bare(FnGetLedStatus), &resp, dispatch.User)
	if code != codec.Success {
		return LedNA, code
	}
	switch resp.State {
	case 0:
		return LedOff, code
	case 1:
		return LedOn, code
	default:
		return LedNA, code
	}
}
