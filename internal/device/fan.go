// internal/device/fan.go
package device

import (
	"context"

	"github.com/tamzrod/rack-manager/internal/codec"
	"github.com/tamzrod/rack-manager/internal/dispatch"
	"github.com/tamzrod/rack-manager/internal/layout"
)

const (
	FnSetFanSpeed codec.FunctionCode = 0x10
	FnGetFanSpeed codec.FunctionCode = 0x11
)

var fanLayouts = []*layout.Layout{
	layout.MustNew(FnSetFanSpeed, layout.Request, layout.U8("pwm", 0)),
	layout.MustNew(FnSetFanSpeed, layout.Response),
	layout.MustNew(FnGetFanSpeed, layout.Request),
	layout.MustNew(FnGetFanSpeed, layout.Response, layout.U16("rpm", 1)),
}

type SetFanSpeedRequest struct {
	PWM uint8 // duty cycle, percent
}

func (SetFanSpeedRequest) Function() codec.FunctionCode { return FnSetFanSpeed }

func (r SetFanSpeedRequest) EncodeFields(w *codec.Writer) { w.Uint8("pwm", r.PWM) }

type GetFanSpeedResponse struct {
	codec.Completion
	Rpm uint16
}

func (*GetFanSpeedResponse) Function() codec.FunctionCode { return FnGetFanSpeed }

func (r *GetFanSpeedResponse) DecodeFields(rd *codec.Reader) error {
	r.Rpm = rd.Uint16("rpm")
	return rd.Err()
}

// Fan commands run at System priority: cooling is latency critical.
type Fan struct {
	s Sender
	t dispatch.Target
}

func NewFan(s Sender, id uint8) *Fan {
	return &Fan{s: s, t: dispatch.Target{Type: TypeFan, ID: id}}
}

func (f *Fan) SetSpeed(ctx context.Context, pwm uint8) codec.CompletionCode {
	if pwm > 100 {
		pwm = 100
	}
	resp := &empty{fn: FnSetFanSpeed}
	return f.s.SendReceive(ctx, f.t, SetFanSpeedRequest{PWM: pwm}, resp, dispatch.System)
}

// Speed returns the fan RPM. On failure the RPM is 0 and only the code
// carries meaning.
func (f *Fan) Speed(ctx context.Context) (uint16, codec.CompletionCode) {
	var resp GetFanSpeedResponse
	code := f.s.SendReceive(ctx, f.t, bare(FnGetFanSpeed), &resp, dispatch.System)
	if code != codec.Success {
		return 0, code
	}
	return resp.Rpm, code
}

// Status reports whether the fan spins. A stalled fan (0 RPM) is a failure
// even when the controller answered with Success.
func (f *Fan) Status(ctx context.Context) (bool, codec.CompletionCode) {
	rpm, code := f.Speed(ctx)
	if code != codec.Success {
		return false, code
	}
	return rpm > 0, code
}
