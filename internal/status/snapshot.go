// internal/status/snapshot.go
package status

// Snapshot represents exactly what the writer is allowed to deliver.
// It contains no logic and no memory of the past beyond current state.
type Snapshot struct {
	Health         uint16
	LastErrorCode  uint16
	SecondsInError uint16
}

// Outcome is the result of one health probe.
type Outcome struct {
	// Code is the completion code of the probe command.
	Code uint8
	// Healthy is false when the device answered Success but its payload
	// reports a fault.
	Healthy bool
}

func (o Outcome) OK() bool { return o.Code == 0 && o.Healthy }

// errorCode is what SlotLastErrorCode carries for a failed outcome.
func (o Outcome) errorCode() uint16 {
	if o.Code != 0 {
		return uint16(o.Code)
	}
	return ErrorUnhealthy
}
