package port

import (
	"context"
	"errors"
	"time"

	"github.com/Ashour158/People-sub002/internal/domain/entity"
	"github.com/Ashour158/People-sub002/internal/domain/event"
	"github.com/Ashour158/People-sub002/internal/domain/workflow"
)

var (
	// ErrDuplicate is returned when an insert violates a unique constraint
	ErrDuplicate = errors.New("duplicate record")

	// ErrNoTransaction is returned by operations that must join the caller's transaction
	ErrNoTransaction = errors.New("no transaction in context")

	// ErrTransactionConflict wraps a database error that aborted a transaction
	// which may succeed when retried, such as a deadlock
	ErrTransactionConflict = errors.New("transaction conflict")
)

// EventRepository persists outbox records. Dispatch bookkeeping methods are
// conditional updates that report whether the row was still owned by the
// caller.
type EventRepository interface {
	// Append inserts the record and assigns its sequence within the aggregate.
	// It must run inside the caller's transaction.
	Append(ctx context.Context, rec *event.Record) error

	// ListDispatchable returns due pending records whose aggregate has no
	// earlier pending record that is claimed or not yet due, ordered by
	// (aggregate, sequence, created_at).
	ListDispatchable(ctx context.Context, now time.Time, limit int) ([]*event.Record, error)

	// Claim leases a pending record to owner until the given time
	Claim(ctx context.Context, id, owner string, now, until time.Time) (bool, error)

	MarkDispatched(ctx context.Context, id, owner string, at time.Time) (bool, error)
	MarkRetry(ctx context.Context, id, owner string, attempts int, next time.Time, lastErr string) (bool, error)
	MarkFailed(ctx context.Context, id, owner string, attempts int, lastErr string) (bool, error)

	GetByID(ctx context.Context, id string) (*event.Record, error)
	ListByStatus(ctx context.Context, status event.DispatchStatus, limit, offset int) ([]*event.Record, error)
	ListByAggregate(ctx context.Context, aggregateType, aggregateID string) ([]*event.Record, error)

	// Requeue moves a failed record back to pending with a fresh attempt budget
	Requeue(ctx context.Context, id string, now time.Time) (bool, error)
}

// DefinitionRepository persists workflow definitions. Stored definitions are
// never modified apart from the active flag.
type DefinitionRepository interface {
	Create(ctx context.Context, def *workflow.Definition) error
	GetByID(ctx context.Context, id string) (*workflow.Definition, error)

	// GetActiveByName returns the active version for a name
	GetActiveByName(ctx context.Context, name string) (*workflow.Definition, error)

	// LatestVersion returns the highest stored version for a name, 0 if none
	LatestVersion(ctx context.Context, name string) (int, error)

	// DeactivateAll clears the active flag on every version of a name
	DeactivateAll(ctx context.Context, name string) error

	List(ctx context.Context, limit, offset int) ([]*workflow.Definition, error)
}

// InstanceRepository persists workflow instances
type InstanceRepository interface {
	// Create inserts an instance, returning ErrDuplicate when the trigger key
	// was already used for the entity
	Create(ctx context.Context, inst *entity.Instance) error

	GetByID(ctx context.Context, id string) (*entity.Instance, error)

	// GetForUpdate reads an instance and locks its row until the caller's
	// transaction ends. It returns ErrNoTransaction outside a transaction.
	GetForUpdate(ctx context.Context, id string) (*entity.Instance, error)

	GetByTrigger(ctx context.Context, entityType, entityID, triggerKey string) (*entity.Instance, error)

	// Update writes node, status, context, error reason and end time when the
	// stored instance is still running at expectedRevision. On success the
	// instance's Revision is advanced.
	Update(ctx context.Context, inst *entity.Instance, expectedRevision int64) (bool, error)

	List(ctx context.Context, filter entity.InstanceFilter) ([]*entity.Instance, error)
}

// TaskRepository persists approval tasks
type TaskRepository interface {
	// CreateIfAbsent inserts a pending task unless the approver already holds
	// a pending task for the same instance and node. It reports whether a row
	// was inserted.
	CreateIfAbsent(ctx context.Context, task *entity.Task) (bool, error)

	GetByID(ctx context.Context, id string) (*entity.Task, error)
	ListByInstance(ctx context.Context, instanceID string) ([]*entity.Task, error)
	ListByNode(ctx context.Context, instanceID, nodeID string) ([]*entity.Task, error)

	// Transition moves a task from one state to another when it is still in
	// the expected state.
	Transition(ctx context.Context, id string, from, to workflow.TaskState, by, comment string, at time.Time) (bool, error)

	// ExpirePending marks every pending task of the instance expired
	ExpirePending(ctx context.Context, instanceID string, at time.Time) (int64, error)

	// ListOverdue returns pending tasks with due_at <= now, oldest first
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]*entity.Task, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
