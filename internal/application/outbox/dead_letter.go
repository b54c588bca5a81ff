package outbox

import (
	"context"

	"github.com/Ashour158/People-sub002/internal/application/port"
	"github.com/Ashour158/People-sub002/internal/domain/event"
)

// AggregateOutboxEvent is the aggregate type of dead-letter signals. The
// aggregate id is the id of the dead-lettered record.
const AggregateOutboxEvent = "outbox_event"

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// DeadLetterNotifier returns a callback that records an
// outbox.event.dead_lettered event for every record the dispatcher gives
// up on. A dead-letter signal that is itself dead-lettered is only logged.
func DeadLetterNotifier(tx port.TransactionManager, p *Publisher, logger Logger) func(ctx context.Context, rec *event.Record) {
	return func(ctx context.Context, rec *event.Record) {
		logger.Error("Event dead-lettered",
			"event_id", rec.ID,
			"event_type", rec.Type,
			"aggregate_type", rec.AggregateType,
			"aggregate_id", rec.AggregateID,
			"attempt_count", rec.AttemptCount,
			"last_error", rec.LastError,
		)
		if rec.Type == event.TypeDeadLettered {
			return
		}

		payload := map[string]interface{}{
			"event_id":              rec.ID,
			"event_type":            string(rec.Type),
			"aggregate_type":        rec.AggregateType,
			"aggregate_id":          rec.AggregateID,
			"sequence_in_aggregate": rec.Sequence,
			"attempt_count":         rec.AttemptCount,
			"last_error":            rec.LastError,
		}
		err := tx.WithTransaction(ctx, func(ctx context.Context) error {
			_, err := p.Publish(ctx, AggregateOutboxEvent, rec.ID, event.TypeDeadLettered, payload)
			return err
		})
		if err != nil {
			logger.Error("Failed to publish dead-letter signal", "event_id", rec.ID, "error", err)
		}
	}
}
