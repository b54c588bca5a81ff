package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Ashour158/People-sub002/internal/application/port"
	"github.com/Ashour158/People-sub002/internal/domain/entity"
	"github.com/Ashour158/People-sub002/internal/domain/workflow"
	"github.com/Ashour158/People-sub002/internal/infrastructure/persistence/sqldb"
)

const taskColumns = `id, instance_id, node_id, approver_id, status, decision_comment, decided_by,
	escalated_from, created_at, decided_at, due_at`

// TaskRepository implements port.TaskRepository
type TaskRepository struct {
	base
	logger *zap.Logger
}

// NewTaskRepository creates a new task repository
func NewTaskRepository(db *sqldb.DB, logger *zap.Logger) port.TaskRepository {
	return &TaskRepository{
		base:   base{db: db},
		logger: logger,
	}
}

// CreateIfAbsent inserts the task unless the approver already holds one at
// the same node of the instance
func (r *TaskRepository) CreateIfAbsent(ctx context.Context, task *entity.Task) (bool, error) {
	query := `
		INSERT INTO approval_tasks (
			id, instance_id, node_id, approver_id, status, decision_comment, decided_by,
			escalated_from, created_at, decided_at, due_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (instance_id, node_id, approver_id) WHERE status = 'pending' DO NOTHING
	`
	res, err := r.exec(ctx, query,
		task.ID,
		task.InstanceID,
		task.NodeID,
		task.ApproverID,
		string(task.Status),
		nullString(task.Comment),
		nullString(task.DecidedBy),
		nullString(task.EscalatedFrom),
		task.CreatedAt.UTC(),
		nullTime(task.DecidedAt),
		nullTime(task.DueAt),
	)
	if err != nil {
		r.logger.Error("Failed to create task",
			zap.String("instance_id", task.InstanceID),
			zap.String("node_id", task.NodeID),
			zap.String("approver_id", task.ApproverID),
			zap.Error(err))
		return false, fmt.Errorf("failed to create task: %w", err)
	}
	return affected(res)
}

// GetByID retrieves a task by ID
func (r *TaskRepository) GetByID(ctx context.Context, id string) (*entity.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM approval_tasks WHERE id = ?`
	task, err := scanTask(r.queryRow(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

// ListByInstance retrieves every task of an instance in creation order
func (r *TaskRepository) ListByInstance(ctx context.Context, instanceID string) ([]*entity.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM approval_tasks WHERE instance_id = ? ORDER BY created_at, approver_id`
	return r.list(ctx, query, instanceID)
}

// ListByNode retrieves the tasks of one approval node of an instance
func (r *TaskRepository) ListByNode(ctx context.Context, instanceID, nodeID string) ([]*entity.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM approval_tasks
		WHERE instance_id = ? AND node_id = ?
		ORDER BY created_at, approver_id
	`
	return r.list(ctx, query, instanceID, nodeID)
}

// Transition moves a task between states when it is still in the expected one
func (r *TaskRepository) Transition(ctx context.Context, id string, from, to workflow.TaskState, by, comment string, at time.Time) (bool, error) {
	query := `
		UPDATE approval_tasks
		SET status = ?, decided_by = ?, decision_comment = ?, decided_at = ?
		WHERE id = ? AND status = ?
	`
	res, err := r.exec(ctx, query, string(to), nullString(by), nullString(comment), at.UTC(), id, string(from))
	if err != nil {
		return false, fmt.Errorf("failed to transition task: %w", err)
	}
	return affected(res)
}

// ExpirePending marks every pending task of the instance expired
func (r *TaskRepository) ExpirePending(ctx context.Context, instanceID string, at time.Time) (int64, error) {
	query := `
		UPDATE approval_tasks
		SET status = ?, decided_at = ?
		WHERE instance_id = ? AND status = ?
	`
	res, err := r.exec(ctx, query, string(workflow.TaskExpired), at.UTC(), instanceID, string(workflow.TaskPending))
	if err != nil {
		return 0, fmt.Errorf("failed to expire tasks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return n, nil
}

// ListOverdue retrieves pending tasks past their due time, oldest first
func (r *TaskRepository) ListOverdue(ctx context.Context, now time.Time, limit int) ([]*entity.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM approval_tasks
		WHERE status = ? AND due_at IS NOT NULL AND due_at <= ?
		ORDER BY due_at, id
		LIMIT ?
	`
	return r.list(ctx, query, string(workflow.TaskPending), now.UTC(), limit)
}

func (r *TaskRepository) list(ctx context.Context, query string, args ...interface{}) ([]*entity.Task, error) {
	rows, err := r.query(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list tasks", zap.Error(err))
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*entity.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func scanTask(s scanner) (*entity.Task, error) {
	var task entity.Task
	var status string
	var comment, decidedBy, escalatedFrom sql.NullString
	var decidedAt, dueAt sql.NullTime

	err := s.Scan(
		&task.ID,
		&task.InstanceID,
		&task.NodeID,
		&task.ApproverID,
		&status,
		&comment,
		&decidedBy,
		&escalatedFrom,
		&task.CreatedAt,
		&decidedAt,
		&dueAt,
	)
	if err != nil {
		return nil, err
	}

	task.Status = workflow.TaskState(status)
	task.Comment = comment.String
	task.DecidedBy = decidedBy.String
	task.EscalatedFrom = escalatedFrom.String
	task.CreatedAt = task.CreatedAt.UTC()
	task.DecidedAt = timePtr(decidedAt)
	task.DueAt = timePtr(dueAt)
	return &task, nil
}

// Verify interface compliance
var _ port.TaskRepository = (*TaskRepository)(nil)
