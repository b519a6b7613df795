// internal/poller/types.go
package poller

import (
	"context"
	"time"

	"github.com/tamzrod/rack-manager/internal/status"
)

// Probe is one health command against one device.
// Check must bound itself; the dispatcher does that for driver calls.
type Probe struct {
	Device string
	Check  func(ctx context.Context) status.Outcome
}

// ProbeResult is the outcome of a single probe.
type ProbeResult struct {
	Device  string
	Outcome status.Outcome
}

// PollResult is a snapshot produced by one poll cycle.
type PollResult struct {
	BusID string
	At    time.Time

	// Probes holds one result per configured probe, in order.
	Probes []ProbeResult
	Err    error // non-nil means at least one probe failed
}
