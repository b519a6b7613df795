// internal/status/tracker.go
package status

import (
	"context"
	"sync"
	"time"
)

// Tracker folds probe outcomes into one Snapshot per device and counts
// seconds in error on a 1 Hz clock. Safe for concurrent use.
type Tracker struct {
	mu         sync.Mutex
	staleAfter time.Duration
	now        func() time.Time
	devices    map[string]*entry
}

type entry struct {
	snap     Snapshot
	lastSeen time.Time
	disabled bool
}

// NewTracker builds a tracker. A device that stays OK without a new
// outcome for staleAfter turns Stale; zero disables staleness.
func NewTracker(staleAfter time.Duration) *Tracker {
	return &Tracker{
		staleAfter: staleAfter,
		now:        time.Now,
		devices:    make(map[string]*entry),
	}
}

// Track registers a device in the Unknown state, or Disabled.
func (t *Tracker) Track(name string, disabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := &entry{disabled: disabled, lastSeen: t.now()}
	if disabled {
		e.snap.Health = HealthDisabled
	}
	t.devices[name] = e
}

// Record applies one probe outcome and reports whether the snapshot changed.
// seconds_in_error only moves on Tick, except for the reset on recovery.
func (t *Tracker) Record(name string, o Outcome) (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.devices[name]
	if !ok || e.disabled {
		return Snapshot{}, false
	}
	e.lastSeen = t.now()

	prev := e.snap
	if o.OK() {
		e.snap = Snapshot{Health: HealthOK}
	} else {
		e.snap.Health = HealthError
		e.snap.LastErrorCode = o.errorCode()
	}
	return e.snap, e.snap != prev
}

// Tick advances the 1 Hz clock: OK devices without fresh outcomes go
// Stale, and every device not OK accrues one second in error.
func (t *Tracker) Tick() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for _, e := range t.devices {
		if e.disabled {
			continue
		}
		if e.snap.Health == HealthOK && t.staleAfter > 0 && now.Sub(e.lastSeen) > t.staleAfter {
			e.snap.Health = HealthStale
		}
		if e.snap.Health != HealthOK && e.snap.SecondsInError < SecondsInErrorMax {
			e.snap.SecondsInError++
		}
	}
}

// Snapshot returns the current state of one device.
func (t *Tracker) Snapshot(name string) (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.devices[name]
	if !ok {
		return Snapshot{}, false
	}
	return e.snap, true
}

// Run ticks once per second until ctx is done. after, if set, runs after
// every tick.
func (t *Tracker) Run(ctx context.Context, after func()) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Tick()
			if after != nil {
				after()
			}
		}
	}
}
