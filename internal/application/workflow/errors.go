package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a definition, instance or task does not exist
	ErrNotFound = errors.New("not found")

	// ErrTaskNotPending is returned when deciding a task that is already resolved
	ErrTaskNotPending = errors.New("task is not pending")

	// ErrApproverMismatch is returned when the deciding user is not the task's approver
	ErrApproverMismatch = errors.New("approver does not own task")

	// ErrDefinitionInactive is returned when starting a superseded definition version
	ErrDefinitionInactive = errors.New("definition version is not active")

	// ErrInvalidDecision is returned for decisions other than approve or reject
	ErrInvalidDecision = errors.New("invalid decision")

	// ErrConcurrentUpdate is returned when an instance changed underneath an
	// operation; the operation is retried from a fresh read.
	ErrConcurrentUpdate = errors.New("instance was modified concurrently")
)

// InstanceEvaluationError is a runtime failure while advancing an instance,
// such as a condition that cannot be evaluated against the instance context.
// The instance is moved to the error state with its context intact.
type InstanceEvaluationError struct {
	InstanceID string
	NodeID     string
	Err        error
}

func (e *InstanceEvaluationError) Error() string {
	return fmt.Sprintf("instance %s failed at node %s: %v", e.InstanceID, e.NodeID, e.Err)
}

func (e *InstanceEvaluationError) Unwrap() error {
	return e.Err
}
