package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Ashour158/People-sub002/internal/application/port"
	"github.com/Ashour158/People-sub002/internal/application/workflow"
	"github.com/Ashour158/People-sub002/internal/domain/event"
)

// ErrNotDeadLettered is returned when requeueing a record that has not failed
var ErrNotDeadLettered = errors.New("event is not dead-lettered")

// OutboxService exposes outbox records to operators
type OutboxService interface {
	GetEvent(ctx context.Context, id string) (*event.Record, error)
	ListByStatus(ctx context.Context, status event.DispatchStatus, limit, offset int) ([]*event.Record, error)
	ListByAggregate(ctx context.Context, aggregateType, aggregateID string) ([]*event.Record, error)

	// Requeue returns a dead-lettered record to the dispatcher with a fresh
	// attempt budget
	Requeue(ctx context.Context, id string) error
}

type outboxServiceImpl struct {
	events port.EventRepository
	logger Logger
	now    func() time.Time
}

// NewOutboxService creates a new OutboxService
func NewOutboxService(events port.EventRepository, logger Logger) OutboxService {
	return &outboxServiceImpl{
		events: events,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *outboxServiceImpl) GetEvent(ctx context.Context, id string) (*event.Record, error) {
	rec, err := s.events.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	if rec == nil {
		return nil, fmt.Errorf("event %s: %w", id, workflow.ErrNotFound)
	}
	return rec, nil
}

func (s *outboxServiceImpl) ListByStatus(ctx context.Context, status event.DispatchStatus, limit, offset int) ([]*event.Record, error) {
	if !status.IsValid() {
		return nil, fmt.Errorf("unknown dispatch status %q", status)
	}
	if limit <= 0 {
		limit = 50
	}
	return s.events.ListByStatus(ctx, status, limit, offset)
}

func (s *outboxServiceImpl) ListByAggregate(ctx context.Context, aggregateType, aggregateID string) ([]*event.Record, error) {
	return s.events.ListByAggregate(ctx, aggregateType, aggregateID)
}

func (s *outboxServiceImpl) Requeue(ctx context.Context, id string) error {
	ok, err := s.events.Requeue(ctx, id, s.now())
	if err != nil {
		return fmt.Errorf("requeue event: %w", err)
	}
	if !ok {
		if _, err := s.GetEvent(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("event %s: %w", id, ErrNotDeadLettered)
	}
	s.logger.Info("Dead-lettered event requeued", "event_id", id)
	return nil
}
