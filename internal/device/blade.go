// internal/device/blade.go
package device

import (
	"context"

	"github.com/tamzrod/rack-manager/internal/codec"
	"github.com/tamzrod/rack-manager/internal/dispatch"
	"github.com/tamzrod/rack-manager/internal/layout"
)

const (
	FnSetBladePowerOn     codec.FunctionCode = 0x50
	FnSetBladePowerOff    codec.FunctionCode = 0x51
	FnGetBladePowerStatus codec.FunctionCode = 0x52
)

var bladeLayouts = []*layout.Layout{
	layout.MustNew(FnSetBladePowerOn, layout.Request, layout.U8("blade", 0)),
	layout.MustNew(FnSetBladePowerOn, layout.Response),
	layout.MustNew(FnSetBladePowerOff, layout.Request, layout.U8("blade", 0)),
	layout.MustNew(FnSetBladePowerOff, layout.Response),
	layout.MustNew(FnGetBladePowerStatus, layout.Request, layout.U8("blade", 0)),
	layout.MustNew(FnGetBladePowerStatus, layout.Response, layout.U8("status", 1)),
}

// Blade status byte.
const (
	bladePowered  = 1 << 0
	bladeEnabled  = 1 << 1
	bladeFault    = 1 << 2
	bladePresent  = 1 << 3
	bladeReserved = 0xF0
)

type BladeRequest struct {
	Fn    codec.FunctionCode
	Blade uint8
}

func (r BladeRequest) Function() codec.FunctionCode { return r.Fn }

func (r BladeRequest) EncodeFields(w *codec.Writer) { w.Uint8("blade", r.Blade) }

type GetBladePowerStatusResponse struct {
	codec.Completion
	Status uint8
}

func (*GetBladePowerStatusResponse) Function() codec.FunctionCode { return FnGetBladePowerStatus }

func (r *GetBladePowerStatusResponse) DecodeFields(rd *codec.Reader) error {
	r.Status = rd.Uint8("status")
	return rd.Err()
}

func (r *GetBladePowerStatusResponse) Powered() bool { return r.Status&bladePowered != 0 }
func (r *GetBladePowerStatusResponse) Enabled() bool { return r.Status&bladeEnabled != 0 }
func (r *GetBladePowerStatusResponse) Fault() bool   { return r.Status&bladeFault != 0 }
func (r *GetBladePowerStatusResponse) Present() bool { return r.Status&bladePresent != 0 }

// BladePowerSwitch gates the power-enable line of each blade slot.
type BladePowerSwitch struct {
	s Sender
	t dispatch.Target
}

func NewBladePowerSwitch(s Sender, id uint8) *BladePowerSwitch {
	return &BladePowerSwitch{s: s, t: dispatch.Target{Type: TypeBladePowerSwitch, ID: id}}
}

func (b *BladePowerSwitch) SetPowerOn(ctx context.Context, blade uint8) codec.CompletionCode {
	return b.s.SendReceive(ctx, b.t, BladeRequest{Fn: FnSetBladePowerOn, Blade: blade}, &empty{fn: FnSetBladePowerOn}, dispatch.User)
}

func (b *BladePowerSwitch) SetPowerOff(ctx context.Context, blade uint8) codec.CompletionCode {
	return b.s.SendReceive(ctx, b.t, BladeRequest{Fn: FnSetBladePowerOff, Blade: blade}, &empty{fn: FnSetBladePowerOff}, dispatch.User)
}

// PowerState reads the blade's power line. An absent blade, or a status
// byte with reserved bits set, is NA.
func (b *BladePowerSwitch) PowerState(ctx context.Context, blade uint8) (PowerState, codec.CompletionCode) {
	var resp GetBladePowerStatusResponse
	code := b.s.SendReceive(ctx, b.t, BladeRequest{Fn: FnGetBladePowerStatus, Blade: blade}, &resp, dispatch.User)
	if code != codec.Success {
		return PowerNA, code
	}
	if resp.Status&bladeReserved != 0 || !resp.Present() {
		return PowerNA, code
	}
	if resp.Powered() {
		return PowerOn, code
	}
	return PowerOff, code
}

// Healthy reports a present, enabled blade without a fault latched. A
// status byte with reserved bits set is never healthy.
func (b *BladePowerSwitch) Healthy(ctx context.Context, blade uint8) (bool, codec.CompletionCode) {
	var resp GetBladePowerStatusResponse
	code := b.s.SendReceive(ctx, b.t, BladeRequest{Fn: FnGetBladePowerStatus, Blade: blade}, &resp, dispatch.User)
	if code != codec.Success {
		return false, code
	}
	if resp.Status&bladeReserved != 0 {
		return false, code
	}
	return resp.Present() && resp.Enabled() && !resp.Fault(), code
}
