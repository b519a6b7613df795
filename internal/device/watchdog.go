// internal/device/watchdog.go
package device

import (
	"context"

	"github.com/tamzrod/rack-manager/internal/codec"
	"github.com/tamzrod/rack-manager/internal/dispatch"
	"github.com/tamzrod/rack-manager/internal/layout"
)

const (
	FnEnableWatchdog  codec.FunctionCode = 0x30
	FnDisableWatchdog codec.FunctionCode = 0x31
	FnResetWatchdog   codec.FunctionCode = 0x32
)

var watchdogLayouts = []*layout.Layout{
	layout.MustNew(FnEnableWatchdog, layout.Request, layout.U16("timeout_s", 0)),
	layout.MustNew(FnEnableWatchdog, layout.Response),
	layout.MustNew(FnDisableWatchdog, layout.Request),
	layout.MustNew(FnDisableWatchdog, layout.Response),
	layout.MustNew(FnResetWatchdog, layout.Request),
	layout.MustNew(FnResetWatchdog, layout.Response),
}

type EnableWatchdogRequest struct {
	TimeoutSeconds uint16
}

func (EnableWatchdogRequest) Function() codec.FunctionCode { return FnEnableWatchdog }

func (r EnableWatchdogRequest) EncodeFields(w *codec.Writer) { w.Uint16("timeout_s", r.TimeoutSeconds) }

// WatchDogTimer runs at System priority: a missed reset reboots the rack.
type WatchDogTimer struct {
	s Sender
	t dispatch.Target
}

func NewWatchDogTimer(s Sender, id uint8) *WatchDogTimer {
	return &WatchDogTimer{s: s, t: dispatch.Target{Type: TypeWatchDogTimer, ID: id}}
}

func (w *WatchDogTimer) Enable(ctx context.Context, timeoutSeconds uint16) codec.CompletionCode {
	resp := &empty{fn: FnEnableWatchdog}
	return w.s.SendReceive(ctx, w.t, EnableWatchdogRequest{TimeoutSeconds: timeoutSeconds}, resp, dispatch.System)
}

func (w *WatchDogTimer) Disable(ctx context.Context) codec.CompletionCode {
	return command(ctx, w.s, w.t, FnDisableWatchdog, dispatch.System)
}

func (w *WatchDogTimer) Reset(ctx context.Context) codec.CompletionCode {
	return command(ctx, w.s, w.t, FnResetWatchdog, dispatch.System)
}
