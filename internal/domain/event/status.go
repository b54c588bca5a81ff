package event

// DispatchStatus is the delivery state of an event record
type DispatchStatus string

const (
	StatusPending    DispatchStatus = "pending"
	StatusDispatched DispatchStatus = "dispatched"
	StatusFailed     DispatchStatus = "failed"
)

// String returns the string representation of the status
func (s DispatchStatus) String() string {
	return string(s)
}

// IsValid checks if the status is one of the defined constants
func (s DispatchStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusDispatched, StatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the dispatcher will no longer touch the record.
func (s DispatchStatus) IsTerminal() bool {
	return s == StatusDispatched || s == StatusFailed
}
