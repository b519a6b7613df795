// internal/config/validate.go
package config

import (
	"fmt"
)

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil config")
	}
	r := cfg.Rack

	// ------------------------------------------------------------
	// TIMING
	// ------------------------------------------------------------

	if r.Settle.PowerOffMs < 0 {
		return fmt.Errorf("settle.power_off_ms must be >= 0, got %d", r.Settle.PowerOffMs)
	}
	if r.Dispatch.TimeoutMs < 0 || r.Dispatch.QueueTimeoutMs < 0 {
		return fmt.Errorf("dispatch timeouts must be >= 0")
	}
	if r.Dispatch.Retries < 0 || r.Dispatch.Retries > 5 {
		return fmt.Errorf("dispatch.retries must be within 0..5, got %d", r.Dispatch.Retries)
	}
	if r.Poll.IntervalMs < 0 {
		return fmt.Errorf("poll.interval_ms must be >= 0, got %d", r.Poll.IntervalMs)
	}

	// ------------------------------------------------------------
	// BUSES
	// ------------------------------------------------------------

	buses := make(map[string]BusConfig, len(r.Buses))
	for _, b := range r.Buses {
		if b.ID == "" {
			return fmt.Errorf("bus: id required")
		}
		if _, dup := buses[b.ID]; dup {
			return fmt.Errorf("bus %q: duplicate id", b.ID)
		}
		switch b.Kind {
		case BusModbusRTU, BusSerial:
			if b.Address == "" {
				return fmt.Errorf("bus %q: address (serial device) required", b.ID)
			}
			switch b.Parity {
			case "", "N", "E", "O":
			default:
				return fmt.Errorf("bus %q: parity must be N, E or O, got %q", b.ID, b.Parity)
			}
		case BusModbusTCP:
			if b.Address == "" {
				return fmt.Errorf("bus %q: address (host:port) required", b.ID)
			}
		case BusSim:
		default:
			return fmt.Errorf("bus %q: unknown kind %q", b.ID, b.Kind)
		}
		if b.TimeoutMs < 0 {
			return fmt.Errorf("bus %q: timeout_ms must be >= 0", b.ID)
		}
		buses[b.ID] = b
	}

	// ------------------------------------------------------------
	// DEVICES
	// ------------------------------------------------------------

	// key = name as stored after truncation
	names := make(map[string]string)
	// key = type | id
	owners := make(map[string]string)
	// key = status_slot
	slots := make(map[uint16]string)

	for _, d := range r.Devices {
		if d.Name == "" {
			return fmt.Errorf("device: name required")
		}

		// device name sanity (ASCII only)
		for i := 0; i < len(d.Name); i++ {
			if d.Name[i] > 0x7F {
				return fmt.Errorf("device %q: name must contain ASCII characters only", d.Name)
			}
		}

		short := d.Name
		if len(short) > DeviceNameMaxChars {
			short = short[:DeviceNameMaxChars]
		}
		if prev, exists := names[short]; exists {
			return fmt.Errorf("device name collision: %q and %q both resolve to %q", prev, d.Name, short)
		}
		names[short] = d.Name

		switch d.Type {
		case DeviceFan, DeviceLed, DeviceWatchdog, DeviceAcSocket,
			DeviceBladePower, DeviceJbod, DeviceNodeManager:
		default:
			return fmt.Errorf("device %q: unknown type %q", d.Name, d.Type)
		}

		if d.Blades != 0 && d.Type != DeviceBladePower {
			return fmt.Errorf("device %q: blades is only valid for %s", d.Name, DeviceBladePower)
		}

		if _, ok := buses[d.Bus]; !ok {
			return fmt.Errorf("device %q: bus %q is not defined", d.Name, d.Bus)
		}

		key := fmt.Sprintf("%s|%d", d.Type, d.ID)
		if prev, exists := owners[key]; exists {
			return fmt.Errorf(
				"device address collision: type=%s id=%d used by %q and %q",
				d.Type, d.ID, prev, d.Name,
			)
		}
		owners[key] = d.Name

		// status is opt-in
		if d.StatusSlot == nil {
			continue
		}
		if r.StatusMemory.Endpoint == "" {
			return fmt.Errorf("device %q: status_slot is set but status_memory.endpoint is empty", d.Name)
		}
		if prev, exists := slots[*d.StatusSlot]; exists {
			return fmt.Errorf(
				"status_slot collision: slot=%d used by devices %q and %q",
				*d.StatusSlot, prev, d.Name,
			)
		}
		slots[*d.StatusSlot] = d.Name
	}

	return nil
}
