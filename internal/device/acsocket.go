// internal/device/acsocket.go
package device

import (
	"context"
	"time"

	"github.com/tamzrod/rack-manager/internal/codec"
	"github.com/tamzrod/rack-manager/internal/dispatch"
	"github.com/tamzrod/rack-manager/internal/layout"
)

const (
	FnTurnOnAcSocket    codec.FunctionCode = 0x40
	FnTurnOffAcSocket   codec.FunctionCode = 0x41
	FnGetAcSocketStatus codec.FunctionCode = 0x42
)

var acSocketLayouts = []*layout.Layout{
	layout.MustNew(FnTurnOnAcSocket, layout.Request),
	layout.MustNew(FnTurnOnAcSocket, layout.Response),
	layout.MustNew(FnTurnOffAcSocket, layout.Request),
	layout.MustNew(FnTurnOffAcSocket, layout.Response),
	layout.MustNew(FnGetAcSocketStatus, layout.Request),
	layout.MustNew(FnGetAcSocketStatus, layout.Response, layout.U8("state", 1)),
}

type TurnOnAcSocketRequest struct{}

func (TurnOnAcSocketRequest) Function() codec.FunctionCode { return FnTurnOnAcSocket }
func (TurnOnAcSocketRequest) EncodeFields(*codec.Writer)   {}

// TurnOffAcSocketRequest keeps the channel closed for Settle after a
// successful power-off so the voltage rails can drain.
type TurnOffAcSocketRequest struct {
	Settle time.Duration
}

func (TurnOffAcSocketRequest) Function() codec.FunctionCode { return FnTurnOffAcSocket }
func (TurnOffAcSocketRequest) EncodeFields(*codec.Writer)   {}
func (r TurnOffAcSocketRequest) SettleDelay() time.Duration { return r.Settle }

type AcSocketResponse struct {
	codec.Completion
	fn codec.FunctionCode
}

func (r *AcSocketResponse) Function() codec.FunctionCode   { return r.fn }
func (*AcSocketResponse) DecodeFields(*codec.Reader) error { return nil }

type GetAcSocketStatusResponse struct {
	codec.Completion
	State uint8
}

func (*GetAcSocketStatusResponse) Function() codec.FunctionCode { return FnGetAcSocketStatus }

func (r *GetAcSocketStatusResponse) DecodeFields(rd *codec.Reader) error {
	r.State = rd.Uint8("state")
	return rd.Err()
}

// AcSocket is an outlet on the rack power strip, driven at User priority.
type AcSocket struct {
	s      Sender
	t      dispatch.Target
	settle time.Duration
}

// NewAcSocket binds a socket; settle is the configured post power-off delay.
func NewAcSocket(s Sender, id uint8, settle time.Duration) *AcSocket {
	return &AcSocket{s: s, t: dispatch.Target{Type: TypeAcSocket, ID: id}, settle: settle}
}

func (a *AcSocket) TurnOn(ctx context.Context) codec.CompletionCode {
	resp := &AcSocketResponse{fn: FnTurnOnAcSocket}
	return a.s.SendReceive(ctx, a.t, TurnOnAcSocketRequest{}, resp, dispatch.User)
}

func (a *AcSocket) TurnOff(ctx context.Context) codec.CompletionCode {
	resp := &AcSocketResponse{fn: FnTurnOffAcSocket}
	return a.s.SendReceive(ctx, a.t, TurnOffAcSocketRequest{Settle: a.settle}, resp, dispatch.User)
}

func (a *AcSocket) Status(ctx context.Context) (PowerState, codec.CompletionCode) {
	var resp GetAcSocketStatusResponse
	code := a.s.SendReceive(ctx, a.t, bare(FnGetAcSocketStatus), &resp, dispatch.User)
	if code != codec.Success {
		return PowerNA, code
	}
	return powerFromWire(resp.State), code
}

// PowerCycle turns the socket off, waits out the settle delay and turns it
// back on, without letting another command onto the bus in between.
func (a *AcSocket) PowerCycle(ctx context.Context) codec.CompletionCode {
	return a.s.Sequence(ctx, a.t, dispatch.User,
		dispatch.Step{
			Request:  TurnOffAcSocketRequest{Settle: a.settle},
			Response: &AcSocketResponse{fn: FnTurnOffAcSocket},
		},
		dispatch.Step{
			Request:  TurnOnAcSocketRequest{},
			Response: &AcSocketResponse{fn: FnTurnOnAcSocket},
		},
	)
}
