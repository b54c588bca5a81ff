package workflow

import (
	"context"

	"github.com/Ashour158/People-sub002/internal/domain/entity"
	"github.com/Ashour158/People-sub002/internal/domain/event"
	domainwf "github.com/Ashour158/People-sub002/internal/domain/workflow"
)

// WorkflowEngine runs workflow instances. Every operation runs in its own
// transaction, and lifecycle events are written to the outbox in that same
// transaction.
type WorkflowEngine interface {
	// StartWorkflow creates an instance and advances it until it suspends on
	// an approval node or terminates
	StartWorkflow(ctx context.Context, req StartRequest) (*entity.Instance, error)

	// DecideTask records an approver's decision and re-evaluates the node.
	// The caller is responsible for authorizing the approver.
	DecideTask(ctx context.Context, taskID, approverID string, decision entity.Decision, comment string) (domainwf.State, error)

	// EscalateTask applies the node's escalation policy to an overdue task.
	// It reports false when the task was no longer pending.
	EscalateTask(ctx context.Context, taskID string) (bool, error)

	// CancelInstance cancels a running instance. Cancelling a finished
	// instance is a no-op that returns its final state.
	CancelInstance(ctx context.Context, instanceID, reason string) (domainwf.State, error)

	// GetInstanceState returns the read model of one instance
	GetInstanceState(ctx context.Context, instanceID string) (*InstanceState, error)

	// ListInstances returns instances matching the filter, newest first
	ListInstances(ctx context.Context, filter entity.InstanceFilter) ([]*entity.Instance, error)
}

// StartRequest identifies the definition and entity for a new instance.
// DefinitionID selects an exact version; otherwise DefinitionName selects
// the active version.
type StartRequest struct {
	DefinitionID   string                 `json:"definition_id,omitempty"`
	DefinitionName string                 `json:"definition_name,omitempty"`
	EntityType     string                 `json:"entity_type"`
	EntityID       string                 `json:"entity_id"`
	Context        map[string]interface{} `json:"context,omitempty"`

	// TriggerKey makes the start idempotent for the entity
	TriggerKey string `json:"trigger_key,omitempty"`
}

// InstanceState is the read model returned for one instance
type InstanceState struct {
	Instance    *entity.Instance `json:"instance"`
	Status      domainwf.State   `json:"status"`
	CurrentNode string           `json:"current_node"`
	Tasks       []*entity.Task   `json:"tasks"`
}

// EventPublisher appends lifecycle events inside the current transaction
type EventPublisher interface {
	Publish(ctx context.Context, aggregateType, aggregateID string, eventType event.Type, payload map[string]interface{}) (string, error)
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
