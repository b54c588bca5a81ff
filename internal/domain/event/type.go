package event

import "strings"

// Type identifies the type of domain event
type Type string

// Events emitted by the workflow engine. Business mutations publish their
// own types (for example "leave.requested").
const (
	TypeInstanceStarted   Type = "workflow.instance.started"
	TypeInstanceCompleted Type = "workflow.instance.completed"
	TypeInstanceRejected  Type = "workflow.instance.rejected"
	TypeInstanceCancelled Type = "workflow.instance.cancelled"
	TypeInstanceFailed    Type = "workflow.instance.failed"
	TypeTaskCreated       Type = "workflow.task.created"
	TypeTaskDecided       Type = "workflow.task.decided"
	TypeTaskEscalated     Type = "workflow.task.escalated"
	TypeDeadLettered      Type = "outbox.event.dead_lettered"
)

// AggregateWorkflowInstance is the aggregate type used for engine events.
const AggregateWorkflowInstance = "workflow_instance"

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid reports whether the type is usable as a routing key: non-empty,
// no whitespace.
func (t Type) IsValid() bool {
	s := string(t)
	if s == "" {
		return false
	}
	return !strings.ContainsAny(s, " \t\r\n")
}

// IsWorkflow reports whether the type is one emitted by the workflow engine.
func (t Type) IsWorkflow() bool {
	switch t {
	case TypeInstanceStarted,
		TypeInstanceCompleted,
		TypeInstanceRejected,
		TypeInstanceCancelled,
		TypeInstanceFailed,
		TypeTaskCreated,
		TypeTaskDecided,
		TypeTaskEscalated:
		return true
	default:
		return false
	}
}
