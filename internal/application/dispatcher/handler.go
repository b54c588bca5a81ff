package dispatcher

import (
	"context"

	"github.com/Ashour158/People-sub002/internal/domain/event"
)

// Handler processes one outbox record. Delivery is at-least-once, so
// handlers must tolerate seeing the same record more than once.
type Handler func(ctx context.Context, rec *event.Record) error

// HandlerInfo contains handler metadata for debugging
type HandlerInfo struct {
	Name        string
	EventType   event.Type
	Handler     Handler
	Description string
}
