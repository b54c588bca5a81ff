package outbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/Ashour158/People-sub002/internal/application/port"
	"github.com/Ashour158/People-sub002/internal/domain/event"
)

// ErrInvalidEvent is returned for events missing an aggregate or a usable type
var ErrInvalidEvent = errors.New("invalid event")

// Publisher appends events to the outbox. Publish must be called with the
// context of an open transaction so the event commits or rolls back with
// the business write that caused it.
type Publisher struct {
	events port.EventRepository
}

// NewPublisher creates a publisher over an event repository
func NewPublisher(events port.EventRepository) *Publisher {
	return &Publisher{events: events}
}

// Publish records an event and returns its id. It fails with
// port.ErrNoTransaction when ctx carries no transaction.
func (p *Publisher) Publish(ctx context.Context, aggregateType, aggregateID string, eventType event.Type, payload map[string]interface{}) (string, error) {
	rec := event.NewRecord(aggregateType, aggregateID, eventType, payload)
	if err := p.PublishRecord(ctx, rec); err != nil {
		return "", err
	}
	return rec.ID, nil
}

// PublishRecord appends a prepared record, keeping its id. Appending an id
// that already exists fails with port.ErrDuplicate.
func (p *Publisher) PublishRecord(ctx context.Context, rec *event.Record) error {
	if rec.AggregateType == "" || rec.AggregateID == "" {
		return fmt.Errorf("%w: aggregate type and id are required", ErrInvalidEvent)
	}
	if !rec.Type.IsValid() {
		return fmt.Errorf("%w: event type %q", ErrInvalidEvent, rec.Type)
	}
	if err := p.events.Append(ctx, rec); err != nil {
		return fmt.Errorf("failed to publish %s for %s/%s: %w", rec.Type, rec.AggregateType, rec.AggregateID, err)
	}
	return nil
}
