// internal/poller/runner.go
package poller

import (
	"context"
	"time"
)

// Run probes once immediately, then on every tick, and emits each
// PollResult on out. Cycles never overlap; a slow cycle delays the next.
func (p *Poller) Run(ctx context.Context, out chan<- PollResult) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		if !p.emit(ctx, out) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// emit runs one cycle and hands the result over. It reports false once
// ctx is done.
func (p *Poller) emit(ctx context.Context, out chan<- PollResult) bool {
	res := p.PollOnce(ctx)
	if ctx.Err() != nil {
		return false
	}
	select {
	case out <- res:
		return true
	case <-ctx.Done():
		return false
	}
}
