package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Ashour158/People-sub002/internal/application/port"
	"github.com/Ashour158/People-sub002/internal/domain/entity"
	"github.com/Ashour158/People-sub002/internal/domain/workflow"
	"github.com/Ashour158/People-sub002/internal/infrastructure/persistence/sqldb"
	"github.com/Ashour158/People-sub002/pkg/database"
)

const instanceColumns = `id, definition_id, definition_name, definition_version, entity_type, entity_id,
	trigger_key, current_node_id, status, context, reason, revision, started_at, ended_at, updated_at`

// InstanceRepository implements port.InstanceRepository
type InstanceRepository struct {
	base
	logger *zap.Logger
}

// NewInstanceRepository creates a new instance repository
func NewInstanceRepository(db *sqldb.DB, logger *zap.Logger) port.InstanceRepository {
	return &InstanceRepository{
		base:   base{db: db},
		logger: logger,
	}
}

// Create inserts a new workflow instance
func (r *InstanceRepository) Create(ctx context.Context, inst *entity.Instance) error {
	contextJSON, err := marshalJSON(inst.Context)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO workflow_instances (
			id, definition_id, definition_name, definition_version, entity_type, entity_id,
			trigger_key, current_node_id, status, context, reason, revision, started_at, ended_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.exec(ctx, query,
		inst.ID,
		inst.DefinitionID,
		inst.DefinitionName,
		inst.DefinitionVersion,
		inst.EntityType,
		inst.EntityID,
		nullString(inst.TriggerKey),
		inst.CurrentNodeID,
		string(inst.Status),
		contextJSON,
		nullString(inst.Reason),
		inst.Revision,
		inst.StartedAt.UTC(),
		nullTime(inst.EndedAt),
		inst.UpdatedAt.UTC(),
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return port.ErrDuplicate
		}
		r.logger.Error("Failed to create instance",
			zap.String("entity_type", inst.EntityType),
			zap.String("entity_id", inst.EntityID),
			zap.Error(err))
		return fmt.Errorf("failed to create instance: %w", err)
	}
	return nil
}

// GetByID retrieves an instance by ID
func (r *InstanceRepository) GetByID(ctx context.Context, id string) (*entity.Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM workflow_instances WHERE id = ?`
	return r.get(ctx, query, id)
}

// GetForUpdate retrieves an instance and holds its row lock for the rest of
// the transaction. Sqlite serializes writers, so only postgres needs the lock
// clause.
func (r *InstanceRepository) GetForUpdate(ctx context.Context, id string) (*entity.Instance, error) {
	if !sqldb.InTransaction(ctx) {
		return nil, port.ErrNoTransaction
	}
	query := `SELECT ` + instanceColumns + ` FROM workflow_instances WHERE id = ?`
	if r.postgres() {
		query += ` FOR UPDATE`
	}
	return r.get(ctx, query, id)
}

// GetByTrigger retrieves the instance started for an entity by a trigger key
func (r *InstanceRepository) GetByTrigger(ctx context.Context, entityType, entityID, triggerKey string) (*entity.Instance, error) {
	if triggerKey == "" {
		return nil, nil
	}
	query := `
		SELECT ` + instanceColumns + `
		FROM workflow_instances
		WHERE entity_type = ? AND entity_id = ? AND trigger_key = ?
	`
	return r.get(ctx, query, entityType, entityID, triggerKey)
}

// Update writes the mutable fields when the stored row is still running at
// the expected revision
func (r *InstanceRepository) Update(ctx context.Context, inst *entity.Instance, expectedRevision int64) (bool, error) {
	contextJSON, err := marshalJSON(inst.Context)
	if err != nil {
		return false, err
	}

	next := expectedRevision + 1
	query := `
		UPDATE workflow_instances
		SET current_node_id = ?, status = ?, context = ?, reason = ?, ended_at = ?,
			updated_at = ?, revision = ?
		WHERE id = ? AND status = 'running' AND revision = ?
	`
	res, err := r.exec(ctx, query,
		inst.CurrentNodeID,
		string(inst.Status),
		contextJSON,
		nullString(inst.Reason),
		nullTime(inst.EndedAt),
		inst.UpdatedAt.UTC(),
		next,
		inst.ID,
		expectedRevision,
	)
	if err != nil {
		r.logger.Error("Failed to update instance", zap.String("instance_id", inst.ID), zap.Error(err))
		return false, fmt.Errorf("failed to update instance: %w", err)
	}

	ok, err := affected(res)
	if err != nil || !ok {
		return false, err
	}
	inst.Revision = next
	return true, nil
}

// List retrieves instances matching the filter, newest first
func (r *InstanceRepository) List(ctx context.Context, filter entity.InstanceFilter) ([]*entity.Instance, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.EntityType != "" {
		where = append(where, "entity_type = ?")
		args = append(args, filter.EntityType)
	}
	if filter.EntityID != "" {
		where = append(where, "entity_id = ?")
		args = append(args, filter.EntityID)
	}

	query := `SELECT ` + instanceColumns + ` FROM workflow_instances`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY started_at DESC, id LIMIT ? OFFSET ?`

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)

	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	var instances []*entity.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

func (r *InstanceRepository) get(ctx context.Context, query string, args ...interface{}) (*entity.Instance, error) {
	inst, err := scanInstance(r.queryRow(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}
	return inst, nil
}

func scanInstance(s scanner) (*entity.Instance, error) {
	var inst entity.Instance
	var status, contextJSON string
	var triggerKey, reason sql.NullString
	var endedAt sql.NullTime

	err := s.Scan(
		&inst.ID,
		&inst.DefinitionID,
		&inst.DefinitionName,
		&inst.DefinitionVersion,
		&inst.EntityType,
		&inst.EntityID,
		&triggerKey,
		&inst.CurrentNodeID,
		&status,
		&contextJSON,
		&reason,
		&inst.Revision,
		&inst.StartedAt,
		&endedAt,
		&inst.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	inst.TriggerKey = triggerKey.String
	inst.Status = workflow.State(status)
	inst.Reason = reason.String
	inst.StartedAt = inst.StartedAt.UTC()
	inst.UpdatedAt = inst.UpdatedAt.UTC()
	inst.EndedAt = timePtr(endedAt)
	if inst.Context, err = unmarshalMap(contextJSON); err != nil {
		return nil, err
	}
	return &inst, nil
}

// Verify interface compliance
var _ port.InstanceRepository = (*InstanceRepository)(nil)
