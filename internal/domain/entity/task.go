package entity

import (
	"time"

	"github.com/Ashour158/People-sub002/internal/domain/workflow"
)

// Task is one approver's share of an approval node. Tasks are created when
// an instance enters the node and are resolved by a decision, an
// escalation, or expiry when the node exits.
type Task struct {
	ID         string             `json:"id"`
	InstanceID string             `json:"instance_id"`
	NodeID     string             `json:"node_id"`
	ApproverID string             `json:"approver_id"`
	Status     workflow.TaskState `json:"status"`

	// Comment carries the approver's comment or the escalation reason
	Comment string `json:"decision_comment,omitempty"`

	// DecidedBy is the approver, or "system" for escalation outcomes
	DecidedBy string `json:"decided_by,omitempty"`

	// EscalatedFrom links a reassigned task to the task it replaced
	EscalatedFrom string `json:"escalated_from,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	DecidedAt *time.Time `json:"decided_at,omitempty"`
	DueAt     *time.Time `json:"due_at,omitempty"`
}

// IsPending returns true while the task awaits a decision
func (t *Task) IsPending() bool {
	return t.Status == workflow.TaskPending
}

// IsOverdue reports whether a pending task has passed its due time
func (t *Task) IsOverdue(now time.Time) bool {
	return t.IsPending() && t.DueAt != nil && !t.DueAt.After(now)
}

// Decision is an approver's verdict on a task
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// IsValid checks if the decision is one of the defined constants
func (d Decision) IsValid() bool {
	return d == DecisionApprove || d == DecisionReject
}

// TaskState returns the task state a decision moves a pending task to
func (d Decision) TaskState() workflow.TaskState {
	if d == DecisionApprove {
		return workflow.TaskApproved
	}
	return workflow.TaskRejected
}

// SystemActor is recorded as the decider of escalation outcomes
const SystemActor = "system"
