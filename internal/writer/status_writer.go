// internal/writer/status_writer.go
package writer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tamzrod/rack-manager/internal/status"
)

// StatusWriter is the delivery-only contract for device status.
// It receives a snapshot and writes it verbatim.
// No logic, no interpretation.
type StatusWriter interface {
	WriteStatus(s status.Snapshot) error
}

// DeviceStatusWriter writes one device's block into holding registers.
type DeviceStatusWriter struct {
	plan StatusPlan
	cli  endpointClient

	needFull bool
	last     status.Snapshot
}

// NewDeviceStatusWriter builds the writer of one device block.
func NewDeviceStatusWriter(plan StatusPlan, cli endpointClient) *DeviceStatusWriter {
	return &DeviceStatusWriter{
		plan:     plan,
		cli:      cli,
		needFull: true, // full re-assert on first successful write
		last:     status.Snapshot{Health: status.HealthUnknown},
	}
}

// WriteStatus delivers a device status snapshot into status memory.
// On any write failure, the next successful call will re-assert the full block.
func (sw *DeviceStatusWriter) WriteStatus(s status.Snapshot) error {
	if sw.cli == nil {
		return fmt.Errorf("status writer: missing client for endpoint %s", sw.plan.Endpoint)
	}

	baseAddr := sw.baseAddr()

	// ------------------------------------------------------------
	// Full block write (identity re-assert)
	// ------------------------------------------------------------
	if sw.needFull {
		regs := status.Encode(s, sw.plan.DeviceName)

		if err := sw.cli.WriteRegisters(sw.plan.UnitID, baseAddr, regs); err != nil {
			return fmt.Errorf("status writer: full block write failed: %w", err)
		}

		sw.needFull = false
		sw.last = s
		return nil
	}

	var errs []string

	write := func(slot uint16, label string, cur, next uint16, commit func()) {
		if cur == next {
			return
		}
		if err := sw.cli.WriteRegisters(sw.plan.UnitID, baseAddr+slot, []uint16{next}); err != nil {
			errs = append(errs, fmt.Sprintf("slot%d %s write failed: %v", slot, label, err))
			return
		}
		commit()
	}

	write(status.SlotHealthCode, "health", sw.last.Health, s.Health,
		func() { sw.last.Health = s.Health })
	write(status.SlotLastErrorCode, "last_error", sw.last.LastErrorCode, s.LastErrorCode,
		func() { sw.last.LastErrorCode = s.LastErrorCode })
	write(status.SlotSecondsInError, "seconds", sw.last.SecondsInError, s.SecondsInError,
		func() { sw.last.SecondsInError = s.SecondsInError })

	if len(errs) > 0 {
		// Any partial failure introduces doubt: re-assert on next success.
		sw.needFull = true
		return errors.New("status writer: " + strings.Join(errs, " | "))
	}

	return nil
}

func (sw *DeviceStatusWriter) baseAddr() uint16 {
	// Each device owns a fixed SlotsPerDevice block.
	return sw.plan.BaseSlot * status.SlotsPerDevice
}
