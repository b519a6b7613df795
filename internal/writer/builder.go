// internal/writer/builder.go
package writer

import (
	"github.com/rs/zerolog"

	"github.com/tamzrod/rack-manager/internal/config"
	"github.com/tamzrod/rack-manager/internal/status"
	wmodbus "github.com/tamzrod/rack-manager/internal/writer/modbus"
)

// BuildPlans returns the status plan of every device with a status slot.
// Assumes config has already passed validation.
func BuildPlans(r config.RackConfig) []StatusPlan {
	var plans []StatusPlan
	for _, d := range r.Devices {
		if d.StatusSlot == nil {
			continue
		}
		plans = append(plans, StatusPlan{
			Endpoint:   r.StatusMemory.Endpoint,
			UnitID:     r.StatusMemory.UnitID,
			BaseSlot:   *d.StatusSlot,
			DeviceName: d.Name,
		})
	}
	return plans
}

// Build wires the status memory client and one writer per status block.
// It returns a nil publisher when status memory is not configured.
func Build(r config.RackConfig, tr *status.Tracker, log zerolog.Logger) (*Publisher, func() error, error) {
	noop := func() error { return nil }

	plans := BuildPlans(r)
	if r.StatusMemory.Endpoint == "" || len(plans) == 0 {
		return nil, noop, nil
	}

	cli, err := wmodbus.Dial(r.StatusMemory)
	if err != nil {
		return nil, noop, err
	}

	pub := NewPublisher(tr, log.With().Str("endpoint", r.StatusMemory.Endpoint).Logger())
	for _, plan := range plans {
		pub.Add(plan.DeviceName, NewDeviceStatusWriter(plan, cli))
	}
	return pub, cli.Close, nil
}
