// internal/config/normalize.go
package config

import "time"

// Defaults applied by Normalize when a value is left at zero.
const (
	DefaultTimeoutMs      = 1000
	DefaultQueueTimeoutMs = 5000
	DefaultPollIntervalMs = 1000
	DefaultBaudRate       = 19200
	DefaultStatusTimeout  = 2000

	// DeviceNameMaxChars matches the status block name slots.
	DeviceNameMaxChars = 16
)

// Normalize applies post-validation normalization.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}
	r := &cfg.Rack

	if r.Dispatch.TimeoutMs == 0 {
		r.Dispatch.TimeoutMs = DefaultTimeoutMs
	}
	if r.Dispatch.QueueTimeoutMs == 0 {
		r.Dispatch.QueueTimeoutMs = DefaultQueueTimeoutMs
	}
	if r.Poll.IntervalMs == 0 {
		r.Poll.IntervalMs = DefaultPollIntervalMs
	}
	if r.StatusMemory.TimeoutMs == 0 {
		r.StatusMemory.TimeoutMs = DefaultStatusTimeout
	}

	for bi := range r.Buses {
		b := &r.Buses[bi]
		if b.TimeoutMs == 0 {
			b.TimeoutMs = r.Dispatch.TimeoutMs
		}
		if b.Kind != BusModbusRTU && b.Kind != BusSerial {
			continue
		}
		if b.BaudRate == 0 {
			b.BaudRate = DefaultBaudRate
		}
		if b.DataBits == 0 {
			b.DataBits = 8
		}
		if b.StopBits == 0 {
			b.StopBits = 1
		}
		if b.Parity == "" {
			b.Parity = "N"
		}
	}

	for di := range r.Devices {
		d := &r.Devices[di]

		// Truncate to what the status block can hold.
		if len(d.Name) > DeviceNameMaxChars {
			d.Name = d.Name[:DeviceNameMaxChars]
		}
		if d.Type == DeviceBladePower && d.Blades == 0 {
			d.Blades = 1
		}
	}
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func (r RackConfig) PowerOffSettle() time.Duration  { return ms(r.Settle.PowerOffMs) }
func (r RackConfig) CommandTimeout() time.Duration  { return ms(r.Dispatch.TimeoutMs) }
func (r RackConfig) QueueTimeout() time.Duration    { return ms(r.Dispatch.QueueTimeoutMs) }
func (r RackConfig) PollInterval() time.Duration    { return ms(r.Poll.IntervalMs) }
func (b BusConfig) Timeout() time.Duration          { return ms(b.TimeoutMs) }
func (s StatusMemoryConfig) Timeout() time.Duration { return ms(s.TimeoutMs) }
