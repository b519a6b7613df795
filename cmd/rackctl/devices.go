// cmd/rackctl/devices.go
package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tamzrod/rack-manager/internal/device"
	"github.com/tamzrod/rack-manager/internal/rack"
)

// leaf builds a subcommand that runs fn against the rack.
func (a *app) leaf(use, short string, nargs int, fn func(ctx context.Context, cmd *cobra.Command, r *rack.Rack, args []string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(nargs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRack(cmd, func(ctx context.Context, r *rack.Rack) error {
				return fn(ctx, cmd, r, args)
			})
		},
	}
}

func parseUint(s, what string, bits int) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, bits)
	if err != nil {
		return 0, fmt.Errorf("bad %s %q: %w", what, s, err)
	}
	return v, nil
}

func (a *app) fanCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "fan", Short: "Fan controller commands"}
	cmd.AddCommand(
		a.leaf("speed NAME PWM", "Set fan duty cycle in percent", 2,
			func(ctx context.Context, _ *cobra.Command, r *rack.Rack, args []string) error {
				fan, err := r.Fan(args[0])
				if err != nil {
					return err
				}
				pwm, err := parseUint(args[1], "pwm", 8)
				if err != nil {
					return err
				}
				return codeErr(fan.SetSpeed(ctx, uint8(pwm)))
			}),
		a.leaf("status NAME", "Read fan speed", 1,
			func(ctx context.Context, cmd *cobra.Command, r *rack.Rack, args []string) error {
				fan, err := r.Fan(args[0])
				if err != nil {
					return err
				}
				rpm, code := fan.Speed(ctx)
				if err := codeErr(code); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d rpm (spinning=%v)\n", args[0], rpm, rpm > 0)
				return nil
			}),
	)
	return cmd
}

func (a *app) ledCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "led", Short: "Attention LED commands"}
	cmd.AddCommand(
		a.leaf("on NAME", "Turn the LED on", 1,
			func(ctx context.Context, _ *cobra.Command, r *rack.Rack, args []string) error {
				led, err := r.StatusLed(args[0])
				if err != nil {
					return err
				}
				return codeErr(led.TurnOn(ctx))
			}),
		a.leaf("off NAME", "Turn the LED off", 1,
			func(ctx context.Context, _ *cobra.Command, r *rack.Rack, args []string) error {
				led, err := r.StatusLed(args[0])
				if err != nil {
					return err
				}
				return codeErr(led.TurnOff(ctx))
			}),
		a.leaf("status NAME", "Read the LED state", 1,
			func(ctx context.Context, cmd *cobra.Command, r *rack.Rack, args []string) error {
				led, err := r.StatusLed(args[0])
				if err != nil {
					return err
				}
				st, code := led.Status(ctx)
				if err := codeErr(code); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], st)
				return nil
			}),
	)
	return cmd
}

func (a *app) watchdogCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "watchdog", Short: "Watchdog timer commands"}
	cmd.AddCommand(
		a.leaf("enable NAME SECONDS", "Arm the watchdog", 2,
			func(ctx context.Context, _ *cobra.Command, r *rack.Rack, args []string) error {
				wd, err := r.WatchDog(args[0])
				if err != nil {
					return err
				}
				secs, err := parseUint(args[1], "timeout", 16)
				if err != nil {
					return err
				}
				return codeErr(wd.Enable(ctx, uint16(secs)))
			}),
		a.leaf("disable NAME", "Disarm the watchdog", 1,
			func(ctx context.Context, _ *cobra.Command, r *rack.Rack, args []string) error {
				wd, err := r.WatchDog(args[0])
				if err != nil {
					return err
				}
				return codeErr(wd.Disable(ctx))
			}),
		a.leaf("reset NAME", "Kick the watchdog", 1,
			func(ctx context.Context, _ *cobra.Command, r *rack.Rack, args []string) error {
				wd, err := r.WatchDog(args[0])
				if err != nil {
					return err
				}
				return codeErr(wd.Reset(ctx))
			}),
	)
	return cmd
}

func (a *app) acCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "ac", Short: "AC power socket commands"}
	socket := func(fn func(ctx context.Context, ac *device.AcSocket) error) func(context.Context, *cobra.Command, *rack.Rack, []string) error {
		return func(ctx context.Context, _ *cobra.Command, r *rack.Rack, args []string) error {
			ac, err := r.AcSocket(args[0])
			if err != nil {
				return err
			}
			return fn(ctx, ac)
		}
	}
	cmd.AddCommand(
		a.leaf("on NAME", "Power the socket on", 1, socket(func(ctx context.Context, ac *device.AcSocket) error {
			return codeErr(ac.TurnOn(ctx))
		})),
		a.leaf("off NAME", "Power the socket off", 1, socket(func(ctx context.Context, ac *device.AcSocket) error {
			return codeErr(ac.TurnOff(ctx))
		})),
		a.leaf("cycle NAME", "Power-cycle the socket", 1, socket(func(ctx context.Context, ac *device.AcSocket) error {
			return codeErr(ac.PowerCycle(ctx))
		})),
		a.leaf("status NAME", "Read the socket state", 1,
			func(ctx context.Context, cmd *cobra.Command, r *rack.Rack, args []string) error {
				ac, err := r.AcSocket(args[0])
				if err != nil {
					return err
				}
				st, code := ac.Status(ctx)
				if err := codeErr(code); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], st)
				return nil
			}),
	)
	return cmd
}

func (a *app) bladeCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "blade", Short: "Blade power switch commands"}
	blade := func(fn func(ctx context.Context, cmd *cobra.Command, sw *device.BladePowerSwitch, n uint8) error) func(context.Context, *cobra.Command, *rack.Rack, []string) error {
		return func(ctx context.Context, cmd *cobra.Command, r *rack.Rack, args []string) error {
			sw, err := r.BladePower(args[0])
			if err != nil {
				return err
			}
			n, err := parseUint(args[1], "blade", 8)
			if err != nil {
				return err
			}
			return fn(ctx, cmd, sw, uint8(n))
		}
	}
	cmd.AddCommand(
		a.leaf("on NAME BLADE", "Enable blade power", 2,
			blade(func(ctx context.Context, _ *cobra.Command, sw *device.BladePowerSwitch, n uint8) error {
				return codeErr(sw.SetPowerOn(ctx, n))
			})),
		a.leaf("off NAME BLADE", "Disable blade power", 2,
			blade(func(ctx context.Context, _ *cobra.Command, sw *device.BladePowerSwitch, n uint8) error {
				return codeErr(sw.SetPowerOff(ctx, n))
			})),
		a.leaf("status NAME BLADE", "Read blade power state", 2,
			blade(func(ctx context.Context, cmd *cobra.Command, sw *device.BladePowerSwitch, n uint8) error {
				st, code := sw.PowerState(ctx, n)
				if err := codeErr(code); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "blade %d: %s\n", n, st)
				return nil
			})),
	)
	return cmd
}

func (a *app) jbodCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "jbod", Short: "Disk enclosure commands"}
	cmd.AddCommand(
		a.leaf("disks NAME", "List disk health", 1,
			func(ctx context.Context, cmd *cobra.Command, r *rack.Rack, args []string) error {
				j, err := r.Jbod(args[0])
				if err != nil {
					return err
				}
				disks, code := j.DiskStatus(ctx)
				if err := codeErr(code); err != nil {
					return err
				}
				for i, st := range disks {
					fmt.Fprintf(cmd.OutOrStdout(), "disk %d: %s\n", i, st)
				}
				return nil
			}),
		a.leaf("info NAME DISK", "Show one disk", 2,
			func(ctx context.Context, cmd *cobra.Command, r *rack.Rack, args []string) error {
				j, err := r.Jbod(args[0])
				if err != nil {
					return err
				}
				n, err := parseUint(args[1], "disk", 8)
				if err != nil {
					return err
				}
				info, code := j.DiskInfo(ctx, uint8(n))
				if err := codeErr(code); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "disk %d: %s %d GB %d C\n", n, info.Serial, info.SizeGB, info.TemperatureC)
				return nil
			}),
	)
	return cmd
}

func (a *app) nodeManagerCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "nm", Short: "Node Manager telemetry"}
	cmd.AddCommand(
		a.leaf("power NAME", "Global power statistics", 1,
			func(ctx context.Context, cmd *cobra.Command, r *rack.Rack, args []string) error {
				nm, err := r.NodeManager(args[0])
				if err != nil {
					return err
				}
				s, code := nm.Statistics(ctx, device.StatsGlobalPower, 0, 0)
				if err := codeErr(code); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "power W: cur=%d min=%d max=%d avg=%d over %s\n",
					s.Current, s.Minimum, s.Maximum, s.Average, s.Period)
				return nil
			}),
		a.leaf("temp NAME CPU", "CPU temperature", 2,
			func(ctx context.Context, cmd *cobra.Command, r *rack.Rack, args []string) error {
				nm, err := r.NodeManager(args[0])
				if err != nil {
					return err
				}
				cpu, err := parseUint(args[1], "cpu", 8)
				if err != nil {
					return err
				}
				temp, code := nm.CpuTemperature(ctx, uint8(cpu))
				if err := codeErr(code); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cpu %d: %d C\n", cpu, temp)
				return nil
			}),
	)
	return cmd
}
