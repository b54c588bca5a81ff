package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Ashour158/People-sub002/internal/application/port"
	"github.com/Ashour158/People-sub002/internal/domain/event"
	"github.com/Ashour158/People-sub002/internal/infrastructure/persistence/sqldb"
	"github.com/Ashour158/People-sub002/pkg/database"
)

const eventColumns = `id, aggregate_type, aggregate_id, event_type, payload, sequence_in_aggregate,
	created_at, dispatch_status, attempt_count, next_attempt_at, last_error, dispatched_at,
	claimed_by, claimed_until`

// EventRepository implements port.EventRepository
type EventRepository struct {
	base
	logger *zap.Logger
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *sqldb.DB, logger *zap.Logger) port.EventRepository {
	return &EventRepository{
		base:   base{db: db},
		logger: logger,
	}
}

// Append inserts the record with the next sequence number of its aggregate.
// It only runs inside the caller's transaction.
func (r *EventRepository) Append(ctx context.Context, rec *event.Record) error {
	if !sqldb.InTransaction(ctx) {
		return port.ErrNoTransaction
	}

	payload, err := marshalJSON(rec.Payload)
	if err != nil {
		return err
	}

	if r.postgres() {
		// Serialize appends per aggregate so the next sequence cannot race.
		if _, err := r.exec(ctx, "SELECT pg_advisory_xact_lock(hashtext(?))", rec.AggregateKey()); err != nil {
			return fmt.Errorf("failed to lock aggregate: %w", err)
		}
	}

	var seq int64
	err = r.queryRow(ctx, `
		SELECT COALESCE(MAX(sequence_in_aggregate), 0) + 1
		FROM outbox_events
		WHERE aggregate_type = ? AND aggregate_id = ?
	`, rec.AggregateType, rec.AggregateID).Scan(&seq)
	if err != nil {
		return fmt.Errorf("failed to assign event sequence: %w", err)
	}

	query := `
		INSERT INTO outbox_events (
			id, aggregate_type, aggregate_id, event_type, payload, sequence_in_aggregate,
			created_at, dispatch_status, attempt_count, next_attempt_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?)
	`
	_, err = r.exec(ctx, query,
		rec.ID,
		rec.AggregateType,
		rec.AggregateID,
		string(rec.Type),
		payload,
		seq,
		rec.CreatedAt.UTC(),
		string(event.StatusPending),
		rec.NextAttemptAt.UTC(),
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return port.ErrDuplicate
		}
		r.logger.Error("Failed to append event", zap.String("event_id", rec.ID), zap.Error(err))
		return fmt.Errorf("failed to append event: %w", err)
	}

	rec.Sequence = seq
	rec.Status = event.StatusPending
	return nil
}

// ListDispatchable returns due, unclaimed pending records whose aggregate
// has no earlier pending record that is claimed or backing off
func (r *EventRepository) ListDispatchable(ctx context.Context, now time.Time, limit int) ([]*event.Record, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM outbox_events e
		WHERE e.dispatch_status = 'pending'
			AND e.next_attempt_at <= ?
			AND (e.claimed_until IS NULL OR e.claimed_until < ?)
			AND NOT EXISTS (
				SELECT 1 FROM outbox_events p
				WHERE p.aggregate_type = e.aggregate_type
					AND p.aggregate_id = e.aggregate_id
					AND p.dispatch_status = 'pending'
					AND p.sequence_in_aggregate < e.sequence_in_aggregate
					AND (p.next_attempt_at > ? OR (p.claimed_until IS NOT NULL AND p.claimed_until >= ?))
			)
		ORDER BY e.aggregate_type, e.aggregate_id, e.sequence_in_aggregate, e.created_at
		LIMIT ?
	`
	now = now.UTC()
	return r.list(ctx, query, now, now, now, now, limit)
}

// Claim leases a pending record to owner
func (r *EventRepository) Claim(ctx context.Context, id, owner string, now, until time.Time) (bool, error) {
	query := `
		UPDATE outbox_events
		SET claimed_by = ?, claimed_until = ?
		WHERE id = ? AND dispatch_status = 'pending'
			AND (claimed_until IS NULL OR claimed_until < ?)
	`
	res, err := r.exec(ctx, query, owner, until.UTC(), id, now.UTC())
	if err != nil {
		return false, fmt.Errorf("failed to claim event: %w", err)
	}
	return affected(res)
}

// MarkDispatched records a successful delivery by the lease owner
func (r *EventRepository) MarkDispatched(ctx context.Context, id, owner string, at time.Time) (bool, error) {
	query := `
		UPDATE outbox_events
		SET dispatch_status = 'dispatched', dispatched_at = ?, claimed_by = NULL, claimed_until = NULL
		WHERE id = ? AND dispatch_status = 'pending' AND claimed_by = ?
	`
	res, err := r.exec(ctx, query, at.UTC(), id, owner)
	if err != nil {
		return false, fmt.Errorf("failed to mark event dispatched: %w", err)
	}
	return affected(res)
}

// MarkRetry schedules the next attempt and releases the lease
func (r *EventRepository) MarkRetry(ctx context.Context, id, owner string, attempts int, next time.Time, lastErr string) (bool, error) {
	query := `
		UPDATE outbox_events
		SET attempt_count = ?, next_attempt_at = ?, last_error = ?, claimed_by = NULL, claimed_until = NULL
		WHERE id = ? AND dispatch_status = 'pending' AND claimed_by = ?
	`
	res, err := r.exec(ctx, query, attempts, next.UTC(), lastErr, id, owner)
	if err != nil {
		return false, fmt.Errorf("failed to schedule event retry: %w", err)
	}
	return affected(res)
}

// MarkFailed dead-letters the record
func (r *EventRepository) MarkFailed(ctx context.Context, id, owner string, attempts int, lastErr string) (bool, error) {
	query := `
		UPDATE outbox_events
		SET dispatch_status = 'failed', attempt_count = ?, last_error = ?, claimed_by = NULL, claimed_until = NULL
		WHERE id = ? AND dispatch_status = 'pending' AND claimed_by = ?
	`
	res, err := r.exec(ctx, query, attempts, lastErr, id, owner)
	if err != nil {
		return false, fmt.Errorf("failed to dead-letter event: %w", err)
	}
	return affected(res)
}

// GetByID retrieves a record, nil when it does not exist
func (r *EventRepository) GetByID(ctx context.Context, id string) (*event.Record, error) {
	query := `SELECT ` + eventColumns + ` FROM outbox_events WHERE id = ?`
	rec, err := scanEvent(r.queryRow(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return rec, nil
}

// ListByStatus lists records in a dispatch status, oldest first
func (r *EventRepository) ListByStatus(ctx context.Context, status event.DispatchStatus, limit, offset int) ([]*event.Record, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM outbox_events
		WHERE dispatch_status = ?
		ORDER BY created_at, aggregate_type, aggregate_id, sequence_in_aggregate
		LIMIT ? OFFSET ?
	`
	return r.list(ctx, query, string(status), limit, offset)
}

// ListByAggregate lists the records of one aggregate in sequence order
func (r *EventRepository) ListByAggregate(ctx context.Context, aggregateType, aggregateID string) ([]*event.Record, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM outbox_events
		WHERE aggregate_type = ? AND aggregate_id = ?
		ORDER BY sequence_in_aggregate
	`
	return r.list(ctx, query, aggregateType, aggregateID)
}

// Requeue returns a dead-lettered record to pending with a fresh budget
func (r *EventRepository) Requeue(ctx context.Context, id string, now time.Time) (bool, error) {
	query := `
		UPDATE outbox_events
		SET dispatch_status = 'pending', attempt_count = 0, next_attempt_at = ?,
			claimed_by = NULL, claimed_until = NULL
		WHERE id = ? AND dispatch_status = 'failed'
	`
	res, err := r.exec(ctx, query, now.UTC(), id)
	if err != nil {
		return false, fmt.Errorf("failed to requeue event: %w", err)
	}
	return affected(res)
}

func (r *EventRepository) list(ctx context.Context, query string, args ...interface{}) ([]*event.Record, error) {
	rows, err := r.query(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list events", zap.Error(err))
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var records []*event.Record
	for rows.Next() {
		rec, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanEvent(s scanner) (*event.Record, error) {
	var rec event.Record
	var eventType, status, payload string
	var lastError, claimedBy sql.NullString
	var dispatchedAt, claimedUntil sql.NullTime

	err := s.Scan(
		&rec.ID,
		&rec.AggregateType,
		&rec.AggregateID,
		&eventType,
		&payload,
		&rec.Sequence,
		&rec.CreatedAt,
		&status,
		&rec.AttemptCount,
		&rec.NextAttemptAt,
		&lastError,
		&dispatchedAt,
		&claimedBy,
		&claimedUntil,
	)
	if err != nil {
		return nil, err
	}

	rec.Type = event.Type(eventType)
	rec.Status = event.DispatchStatus(status)
	rec.LastError = lastError.String
	rec.ClaimedBy = claimedBy.String
	rec.DispatchedAt = timePtr(dispatchedAt)
	rec.ClaimedUntil = timePtr(claimedUntil)
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.NextAttemptAt = rec.NextAttemptAt.UTC()
	if rec.Payload, err = unmarshalMap(payload); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Verify interface compliance
var _ port.EventRepository = (*EventRepository)(nil)
