// internal/poller/builder.go
package poller

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/tamzrod/rack-manager/internal/codec"
	"github.com/tamzrod/rack-manager/internal/config"
	"github.com/tamzrod/rack-manager/internal/device"
	"github.com/tamzrod/rack-manager/internal/status"
)

// MinWatchdogTimeout is the shortest hardware watchdog timeout the poller arms.
const MinWatchdogTimeout = 10 * time.Second

// Build constructs the poller of one bus from its enabled devices.
// It returns nil without error when the bus has nothing to probe.
func Build(busID string, interval time.Duration, devices []config.DeviceConfig, s device.Sender) (*Poller, error) {
	var probes []Probe
	for _, d := range devices {
		if d.Bus != busID || d.Disabled {
			continue
		}
		ps, err := ProbesFor(d, s, interval)
		if err != nil {
			return nil, err
		}
		probes = append(probes, ps...)
	}
	if len(probes) == 0 {
		return nil, nil
	}
	return New(Config{BusID: busID, Interval: interval, Probes: probes})
}

// ProbesFor maps one device to its health probes.
func ProbesFor(d config.DeviceConfig, s device.Sender, interval time.Duration) ([]Probe, error) {
	one := func(check func(ctx context.Context) status.Outcome) []Probe {
		return []Probe{{Device: d.Name, Check: check}}
	}

	switch d.Type {
	case config.DeviceFan:
		fan := device.NewFan(s, d.ID)
		return one(func(ctx context.Context) status.Outcome {
			spinning, code := fan.Status(ctx)
			return outcome(code, spinning)
		}), nil

	case config.DeviceLed:
		led := device.NewStatusLed(s, d.ID)
		return one(func(ctx context.Context) status.Outcome {
			st, code := led.Status(ctx)
			return outcome(code, st != device.LedNA)
		}), nil

	case config.DeviceWatchdog:
		return one(watchdogProbe(device.NewWatchDogTimer(s, d.ID), interval)), nil

	case config.DeviceAcSocket:
		// settle only matters for power-off, which the poller never sends
		ac := device.NewAcSocket(s, d.ID, 0)
		return one(func(ctx context.Context) status.Outcome {
			st, code := ac.Status(ctx)
			return outcome(code, st != device.PowerNA)
		}), nil

	case config.DeviceBladePower:
		sw := device.NewBladePowerSwitch(s, d.ID)
		blades := d.Blades
		if blades == 0 {
			blades = 1
		}
		return one(func(ctx context.Context) status.Outcome {
			for b := uint8(0); b < blades; b++ {
				ok, code := sw.Healthy(ctx, b)
				if code != codec.Success || !ok {
					return outcome(code, ok)
				}
			}
			return outcome(codec.Success, true)
		}), nil

	case config.DeviceJbod:
		j := device.NewJbod(s, d.ID)
		return one(func(ctx context.Context) status.Outcome {
			disks, code := j.DiskStatus(ctx)
			healthy := true
			for _, st := range disks {
				if st == device.DiskFailed || st == device.DiskNA {
					healthy = false
				}
			}
			return outcome(code, healthy)
		}), nil

	case config.DeviceNodeManager:
		nm := device.NewNodeManager(s, d.ID)
		return one(func(ctx context.Context) status.Outcome {
			temp, code := nm.CpuTemperature(ctx, 0)
			return outcome(code, temp != device.TemperatureNA)
		}), nil
	}
	return nil, fmt.Errorf("poller: no probe for device %q type %q", d.Name, d.Type)
}

// watchdogSeconds is the arming timeout for a poll interval: three missed
// cycles, at least MinWatchdogTimeout, at most what the command can carry.
func watchdogSeconds(interval time.Duration) uint16 {
	timeout := 3 * interval
	if timeout < MinWatchdogTimeout {
		timeout = MinWatchdogTimeout
	}
	secs := (timeout + time.Second - 1) / time.Second
	if secs > math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(secs)
}

// watchdogProbe arms the watchdog on first use and kicks it every cycle.
func watchdogProbe(wd *device.WatchDogTimer, interval time.Duration) func(ctx context.Context) status.Outcome {
	seconds := watchdogSeconds(interval)

	armed := false
	return func(ctx context.Context) status.Outcome {
		if !armed {
			if code := wd.Enable(ctx, seconds); code != codec.Success {
				return outcome(code, false)
			}
			armed = true
		}
		code := wd.Reset(ctx)
		if code == codec.InvalidCommand {
			// controller lost its arming, e.g. after a power loss
			armed = false
		}
		return outcome(code, true)
	}
}

func outcome(code codec.CompletionCode, healthy bool) status.Outcome {
	return status.Outcome{Code: uint8(code), Healthy: healthy}
}
