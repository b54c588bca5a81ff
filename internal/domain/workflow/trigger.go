package workflow

// Trigger represents an event that can cause an instance state transition
type Trigger string

const (
	TriggerComplete Trigger = "complete"
	TriggerReject   Trigger = "reject"
	TriggerCancel   Trigger = "cancel"
	TriggerFail     Trigger = "fail"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}

// TaskTrigger represents an event that can cause a task state transition
type TaskTrigger string

const (
	TaskTriggerApprove  TaskTrigger = "approve"
	TaskTriggerReject   TaskTrigger = "reject"
	TaskTriggerEscalate TaskTrigger = "escalate"
	TaskTriggerExpire   TaskTrigger = "expire"
)

// String returns the string representation of the trigger
func (t TaskTrigger) String() string {
	return string(t)
}
