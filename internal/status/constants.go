// internal/status/constants.go
package status

// Device Status Block layout constants.
// These values define the status memory protocol and MUST NOT be configurable.

// ---- BLOCK GEOMETRY ----

// SlotsPerDevice is the fixed number of logical slots per device.
const SlotsPerDevice = 20

// ---- SLOT INDICES ----

const (
	SlotHealthCode     = 0 // HealthXxx
	SlotLastErrorCode  = 1 // completion code of the last failed probe
	SlotSecondsInError = 2 // saturates at SecondsInErrorMax

	// Slots 3 to 10 are reserved and always written as zero.
	SlotReservedStart = 3
	SlotReservedEnd   = 10
)

// ---- DEVICE NAME ----

// SlotDeviceNameStart is the first slot used for the device name.
// Device name is always placed at the END of the status block.
const SlotDeviceNameStart = 11

// SlotDeviceNameSlots is the number of slots reserved for the device name.
const SlotDeviceNameSlots = 8

// SlotDeviceNameEnd is the last slot used for the device name (inclusive).
const SlotDeviceNameEnd = SlotDeviceNameStart + SlotDeviceNameSlots - 1

// ---- LIMITS ----

// DeviceNameMaxChars is the maximum number of ASCII characters stored for device name.
const DeviceNameMaxChars = 16

// SecondsInErrorMax is where the error counter saturates.
const SecondsInErrorMax = 65535

// ---- HEALTH CODES ----

// Values of SlotHealthCode.
const (
	HealthUnknown  uint16 = iota // boot, no probe yet
	HealthOK                     // last probe succeeded
	HealthError                  // last probe failed
	HealthStale                  // no probe result for too long
	HealthDisabled               // excluded from probing
)

// ---- ERROR CODES ----

// Completion codes occupy the low byte of SlotLastErrorCode.
// ErrorUnhealthy marks a device that answered Success but reported a fault
// in its payload (stalled fan, failed disk, unknown state).
const ErrorUnhealthy uint16 = 0x0100
