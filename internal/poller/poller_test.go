// internal/poller/poller_test.go
package poller

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/tamzrod/rack-manager/internal/codec"
	"github.com/tamzrod/rack-manager/internal/config"
	"github.com/tamzrod/rack-manager/internal/device"
	"github.com/tamzrod/rack-manager/internal/dispatch"
	"github.com/tamzrod/rack-manager/internal/status"
	"github.com/tamzrod/rack-manager/internal/transport"
)

func okCheck(context.Context) status.Outcome   { return status.Outcome{Healthy: true} }
func failCheck(context.Context) status.Outcome { return status.Outcome{Code: 0xC3} }

func TestNew_RejectsEmpty(t *testing.T) {
	if _, err := New(Config{BusID: "b", Interval: time.Second}); err == nil {
		t.Fatalf("expected error without probes")
	}
	if _, err := New(Config{BusID: "b", Probes: []Probe{{Device: "d", Check: okCheck}}}); err == nil {
		t.Fatalf("expected error without interval")
	}
}

func TestPollOnce_Success(t *testing.T) {
	p, err := New(Config{
		BusID:    "bus1",
		Interval: time.Second,
		Probes: []Probe{
			{Device: "FAN-1", Check: okCheck},
			{Device: "AC-1", Check: okCheck},
		},
	})
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}

	res := p.PollOnce(context.Background())
	if res.Err != nil {
		t.Fatalf("PollOnce err=%v", res.Err)
	}
	if len(res.Probes) != 2 {
		t.Fatalf("expected 2 probes, got %d", len(res.Probes))
	}
}

func TestPollOnce_FailureStillRunsEveryProbe(t *testing.T) {
	p, err := New(Config{
		BusID:    "bus1",
		Interval: time.Second,
		Probes: []Probe{
			{Device: "FAN-1", Check: failCheck},
			{Device: "AC-1", Check: okCheck},
		},
	})
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}

	res := p.PollOnce(context.Background())
	if res.Err == nil {
		t.Fatalf("expected error, got nil")
	}
	if len(res.Probes) != 2 {
		t.Fatalf("expected 2 probe results, got %d", len(res.Probes))
	}
	if !res.Probes[1].Outcome.OK() {
		t.Fatalf("second probe should be ok")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	p, err := New(Config{
		BusID:    "bus1",
		Interval: 10 * time.Millisecond,
		Probes:   []Probe{{Device: "FAN-1", Check: okCheck}},
	})
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan PollResult)
	done := make(chan struct{})
	go func() {
		p.Run(ctx, out)
		close(done)
	}()

	select {
	case <-out:
	case <-time.After(time.Second):
		t.Fatalf("no poll result")
	}

	// nobody reads out anymore: Run must not block forever
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

func TestRun_FirstCycleIsImmediate(t *testing.T) {
	p, err := New(Config{
		BusID:    "bus1",
		Interval: time.Hour,
		Probes:   []Probe{{Device: "FAN-1", Check: okCheck}},
	})
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan PollResult, 1)
	go p.Run(ctx, out)

	select {
	case res := <-out:
		if res.BusID != "bus1" || len(res.Probes) != 1 {
			t.Fatalf("unexpected result %+v", res)
		}
	case <-time.After(time.Second):
		t.Fatalf("first cycle waited for the ticker")
	}
}

// ---- probes against the simulated rack ----

func simSender(t *testing.T, sim *device.Simulator, devs []config.DeviceConfig) device.Sender {
	t.Helper()
	reg, err := device.Registry()
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	ch := dispatch.NewChannel("bus1", transport.NewLoopback(sim.Handle))
	routes := map[dispatch.Target]*dispatch.Channel{}
	for _, d := range devs {
		typ, err := device.ParseType(d.Type)
		if err != nil {
			t.Fatalf("type: %v", err)
		}
		routes[dispatch.Target{Type: typ, ID: d.ID}] = ch
	}
	return dispatch.New(codec.New(reg), routes, dispatch.Options{Timeout: time.Second})
}

func TestBuild_ProbesSimulatedRack(t *testing.T) {
	devs := []config.DeviceConfig{
		{Name: "FAN-1", Type: config.DeviceFan, ID: 1, Bus: "bus1"},
		{Name: "WDT", Type: config.DeviceWatchdog, ID: 1, Bus: "bus1"},
		{Name: "AC-1", Type: config.DeviceAcSocket, ID: 1, Bus: "bus1"},
		{Name: "BLADES", Type: config.DeviceBladePower, ID: 1, Bus: "bus1", Blades: 2},
		{Name: "JBOD", Type: config.DeviceJbod, ID: 1, Bus: "bus1"},
		{Name: "NM", Type: config.DeviceNodeManager, ID: 1, Bus: "bus1"},
		{Name: "LED-1", Type: config.DeviceLed, ID: 1, Bus: "bus1", Disabled: true},
		{Name: "OTHER", Type: config.DeviceFan, ID: 2, Bus: "bus2"},
	}
	sim := device.NewSimulator()
	sim.SetDisks(1, 0, 0)
	s := simSender(t, sim, devs)

	p, err := Build("bus1", time.Second, devs, s)
	if err != nil {
		t.Fatalf("Build err=%v", err)
	}

	// fan is stopped until someone sets a speed
	res := p.PollOnce(context.Background())
	if len(res.Probes) != 6 {
		t.Fatalf("expected 6 probes, got %d", len(res.Probes))
	}
	if res.Err == nil || res.Probes[0].Device != "FAN-1" || res.Probes[0].Outcome.Healthy {
		t.Fatalf("stalled fan should fail the cycle: %+v", res.Probes[0])
	}
	for _, pr := range res.Probes[1:] {
		if !pr.Outcome.OK() {
			t.Fatalf("probe %s failed: %+v", pr.Device, pr.Outcome)
		}
	}

	if code := device.NewFan(s, 1).SetSpeed(context.Background(), 40); code != codec.Success {
		t.Fatalf("set speed: %v", code)
	}
	if res := p.PollOnce(context.Background()); res.Err != nil {
		t.Fatalf("second cycle err=%v", res.Err)
	}
}

func TestBuild_FailedDiskIsUnhealthy(t *testing.T) {
	devs := []config.DeviceConfig{{Name: "JBOD", Type: config.DeviceJbod, ID: 4, Bus: "bus1"}}
	sim := device.NewSimulator()
	sim.SetDisks(4, 0, 1)

	p, err := Build("bus1", time.Second, devs, simSender(t, sim, devs))
	if err != nil {
		t.Fatalf("Build err=%v", err)
	}
	res := p.PollOnce(context.Background())
	o := res.Probes[0].Outcome
	if o.Code != 0 || o.Healthy {
		t.Fatalf("expected unhealthy success, got %+v", o)
	}
}

func TestBuild_NothingToProbe(t *testing.T) {
	p, err := Build("bus9", time.Second, nil, nil)
	if err != nil || p != nil {
		t.Fatalf("expected nil poller, got %v %v", p, err)
	}
}

func TestWatchdogSeconds(t *testing.T) {
	cases := []struct {
		interval time.Duration
		want     uint16
	}{
		{time.Second, 10},
		{5 * time.Second, 15},
		{1500 * time.Millisecond, 10},
		{7*time.Second + 100*time.Millisecond, 22},
		{10 * time.Hour, math.MaxUint16},
	}
	for _, tc := range cases {
		if got := watchdogSeconds(tc.interval); got != tc.want {
			t.Fatalf("watchdogSeconds(%v)=%d want %d", tc.interval, got, tc.want)
		}
	}
}
