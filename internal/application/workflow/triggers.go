package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/Ashour158/People-sub002/internal/application/dispatcher"
	"github.com/Ashour158/People-sub002/internal/domain/event"
)

// EventTrigger starts a workflow whenever an event of EventType is delivered.
// The entity id is read from the payload field EntityIDField, falling back
// to the event's aggregate id.
type EventTrigger struct {
	EventType      event.Type `mapstructure:"event_type" yaml:"event_type"`
	DefinitionName string     `mapstructure:"definition" yaml:"definition"`
	EntityType     string     `mapstructure:"entity_type" yaml:"entity_type"`
	EntityIDField  string     `mapstructure:"entity_id_field" yaml:"entity_id_field"`
}

// RegisterTriggers binds each trigger as a named handler. The event id is
// the trigger key, so redelivery of the same event never starts a second
// instance.
func RegisterTriggers(reg dispatcher.Registry, engine WorkflowEngine, triggers ...EventTrigger) {
	for _, t := range triggers {
		t := t
		name := fmt.Sprintf("start:%s", t.DefinitionName)
		reg.RegisterNamed(t.EventType, name, t.handler(engine))
	}
}

func (t EventTrigger) handler(engine WorkflowEngine) dispatcher.Handler {
	return func(ctx context.Context, rec *event.Record) error {
		entityType := t.EntityType
		if entityType == "" {
			entityType = rec.AggregateType
		}
		entityID := rec.AggregateID
		if t.EntityIDField != "" {
			entityID = rec.GetPayloadString(t.EntityIDField)
		}
		if entityID == "" {
			return dispatcher.Permanent(fmt.Errorf("event %s has no entity id in field %q", rec.ID, t.EntityIDField))
		}

		_, err := engine.StartWorkflow(ctx, StartRequest{
			DefinitionName: t.DefinitionName,
			EntityType:     entityType,
			EntityID:       entityID,
			TriggerKey:     rec.ID,
			Context: map[string]interface{}{
				"payload": rec.Payload,
				"event": map[string]interface{}{
					"id":             rec.ID,
					"type":           rec.Type.String(),
					"aggregate_type": rec.AggregateType,
					"aggregate_id":   rec.AggregateID,
				},
			},
		})
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrDefinitionInactive) {
			return dispatcher.Permanent(err)
		}
		return err
	}
}
