// internal/poller/poller.go
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Config is the minimal runtime config the poller needs.
type Config struct {
	BusID    string
	Interval time.Duration
	Probes   []Probe
}

// Poller is a dumb, clock-driven prober for the devices of one bus.
type Poller struct {
	cfg Config
}

// New creates a poller with immutable config.
func New(cfg Config) (*Poller, error) {
	if cfg.BusID == "" {
		return nil, errors.New("poller: bus id required")
	}
	if cfg.Interval <= 0 {
		return nil, errors.New("poller: interval must be > 0")
	}
	if len(cfg.Probes) == 0 {
		return nil, errors.New("poller: at least one probe required")
	}
	for _, p := range cfg.Probes {
		if p.Device == "" || p.Check == nil {
			return nil, errors.New("poller: probe needs a device and a check")
		}
	}
	return &Poller{cfg: cfg}, nil
}

// PollOnce performs exactly one poll cycle.
// Every probe runs; the cycle fails if any of them failed.
func (p *Poller) PollOnce(ctx context.Context) PollResult {
	res := PollResult{
		BusID:  p.cfg.BusID,
		At:     time.Now(),
		Probes: make([]ProbeResult, 0, len(p.cfg.Probes)),
	}

	for _, pr := range p.cfg.Probes {
		if ctx.Err() != nil {
			res.Err = ctx.Err()
			return res
		}
		o := pr.Check(ctx)
		res.Probes = append(res.Probes, ProbeResult{Device: pr.Device, Outcome: o})
		if !o.OK() && res.Err == nil {
			res.Err = fmt.Errorf("poller: device %q failed (code 0x%02x)", pr.Device, o.Code)
		}
	}

	return res
}
