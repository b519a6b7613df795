// Package device holds the rack device drivers.
//
// A driver is data plus mapping: it declares the request/response layouts
// of its device family, sends commands through the dispatcher at the
// family's fixed priority, and turns completion codes and payload bytes
// into domain values. Drivers never trust a payload unless the completion
// code is Success, and map values they do not recognize to NA.
package device

import (
	"context"
	"fmt"

	"github.com/tamzrod/rack-manager/internal/codec"
	"github.com/tamzrod/rack-manager/internal/config"
	"github.com/tamzrod/rack-manager/internal/dispatch"
	"github.com/tamzrod/rack-manager/internal/layout"
)

// Device families on the rack buses.
const (
	TypeFan dispatch.DeviceType = iota + 1
	TypeStatusLed
	TypeWatchDogTimer
	TypeAcSocket
	TypeBladePowerSwitch
	TypeJbod
	TypeNodeManager
)

// ParseType maps a configured device type to its family.
func ParseType(s string) (dispatch.DeviceType, error) {
	switch s {
	case config.DeviceFan:
		return TypeFan, nil
	case config.DeviceLed:
		return TypeStatusLed, nil
	case config.DeviceWatchdog:
		return TypeWatchDogTimer, nil
	case config.DeviceAcSocket:
		return TypeAcSocket, nil
	case config.DeviceBladePower:
		return TypeBladePowerSwitch, nil
	case config.DeviceJbod:
		return TypeJbod, nil
	case config.DeviceNodeManager:
		return TypeNodeManager, nil
	default:
		return 0, fmt.Errorf("device: unknown type %q", s)
	}
}

// Sender is the part of the dispatcher drivers use.
type Sender interface {
	SendReceive(ctx context.Context, t dispatch.Target, req codec.Request, resp codec.Response, prio dispatch.Priority) codec.CompletionCode
	Sequence(ctx context.Context, t dispatch.Target, prio dispatch.Priority, steps ...dispatch.Step) codec.CompletionCode
}

// PowerState is the domain view of a power switch. The zero value is NA.
type PowerState uint8

const (
	PowerNA PowerState = iota
	PowerOff
	PowerOn
)

func (p PowerState) String() string {
	switch p {
	case PowerOff:
		return "off"
	case PowerOn:
		return "on"
	default:
		return "na"
	}
}

// powerFromWire maps a 0/1 status byte; anything else is NA.
func powerFromWire(b uint8) PowerState {
	switch b {
	case 0:
		return PowerOff
	case 1:
		return PowerOn
	default:
		return PowerNA
	}
}

// Layouts returns every layout the drivers use.
func Layouts() []*layout.Layout {
	var all []*layout.Layout
	all = append(all, fanLayouts...)
	all = append(all, ledLayouts...)
	all = append(all, watchdogLayouts...)
	all = append(all, acSocketLayouts...)
	all = append(all, bladeLayouts...)
	all = append(all, jbodLayouts...)
	all = append(all, nodeManagerLayouts...)
	return all
}

// Registry builds the shared, read-only layout registry.
func Registry() (*layout.Registry, error) {
	b := layout.NewBuilder()
	if err := b.AddAll(Layouts()...); err != nil {
		return nil, err
	}
	return b.Build(), nil
}

// empty is the response of commands that only report a completion code.
type empty struct {
	codec.Completion
	fn codec.FunctionCode
}

func (e *empty) Function() codec.FunctionCode     { return e.fn }
func (e *empty) DecodeFields(*codec.Reader) error { return nil }

// bare is a request without payload.
type bare codec.FunctionCode

func (b bare) Function() codec.FunctionCode { return codec.FunctionCode(b) }
func (bare) EncodeFields(*codec.Writer)     {}

// command sends a payload-free command and returns its code.
func command(ctx context.Context, s Sender, t dispatch.Target, fn codec.FunctionCode, prio dispatch.Priority) codec.CompletionCode {
	return s.SendReceive(ctx, t, bare(fn), &empty{fn: fn}, prio)
}
