package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/Ashour158/People-sub002/internal/domain/event"
)

// Registry maps event types to ordered handler lists. A Registry is an
// ordinary value: each dispatcher is given its own, so independent
// dispatchers never share handlers.
type Registry interface {
	// Register adds a handler for an event type with a generated name
	Register(eventType event.Type, handler Handler)

	// RegisterNamed adds a handler with a name used in logs and listings
	RegisterNamed(eventType event.Type, name string, handler Handler)

	// Invoke runs every handler for the record's type in registration order,
	// stopping at the first failure
	Invoke(ctx context.Context, rec *event.Record) error

	// ListHandlers returns handler metadata for an event type
	ListHandlers(eventType event.Type) []HandlerInfo

	// EventTypes returns the types with at least one handler
	EventTypes() []event.Type
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type handlerRegistry struct {
	mu       sync.RWMutex
	handlers map[event.Type][]HandlerInfo
	order    []event.Type
	logger   Logger
}

// Option configures the registry
type Option func(*handlerRegistry)

// WithLogger sets a logger for the registry
func WithLogger(logger Logger) Option {
	return func(r *handlerRegistry) {
		r.logger = logger
	}
}

// NewRegistry creates an empty handler registry
func NewRegistry(opts ...Option) Registry {
	r := &handlerRegistry{
		handlers: make(map[event.Type][]HandlerInfo),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Register adds a handler with an auto-generated name
func (r *handlerRegistry) Register(eventType event.Type, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registerLocked(eventType, fmt.Sprintf("handler-%d", len(r.handlers[eventType])), handler)
}

// RegisterNamed adds a handler with a specific name
func (r *handlerRegistry) RegisterNamed(eventType event.Type, name string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registerLocked(eventType, name, handler)
}

// registerLocked appends a handler; r.mu must be held for writing
func (r *handlerRegistry) registerLocked(eventType event.Type, name string, handler Handler) {
	if _, seen := r.handlers[eventType]; !seen {
		r.order = append(r.order, eventType)
	}
	r.handlers[eventType] = append(r.handlers[eventType], HandlerInfo{
		Name:      name,
		EventType: eventType,
		Handler:   handler,
	})

	if r.logger != nil {
		r.logger.Info("Handler registered",
			"event_type", eventType,
			"handler_name", name,
		)
	}
}

// Invoke runs the handlers registered for rec.Type. A type with no handlers
// succeeds trivially.
func (r *handlerRegistry) Invoke(ctx context.Context, rec *event.Record) error {
	r.mu.RLock()
	handlers := r.handlers[rec.Type]
	r.mu.RUnlock()

	for _, info := range handlers {
		if err := r.safeExecute(ctx, rec, info); err != nil {
			if r.logger != nil {
				r.logger.Error("Handler error",
					"event_type", rec.Type,
					"event_id", rec.ID,
					"handler_name", info.Name,
					"error", err,
				)
			}
			return fmt.Errorf("handler %s failed: %w", info.Name, err)
		}
	}

	return nil
}

// ListHandlers returns registered handlers for an event type
func (r *handlerRegistry) ListHandlers(eventType event.Type) []HandlerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handlers := r.handlers[eventType]
	result := make([]HandlerInfo, len(handlers))

	for i, h := range handlers {
		result[i] = HandlerInfo{
			Name:        h.Name,
			EventType:   h.EventType,
			Description: h.Description,
		}
	}

	return result
}

// EventTypes returns the registered event types in first-registration order
func (r *handlerRegistry) EventTypes() []event.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]event.Type(nil), r.order...)
}

// safeExecute runs a handler with panic recovery
func (r *handlerRegistry) safeExecute(ctx context.Context, rec *event.Record, info HandlerInfo) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
			if r.logger != nil {
				r.logger.Error("Handler panic recovered",
					"event_type", rec.Type,
					"event_id", rec.ID,
					"handler_name", info.Name,
					"panic", p,
				)
			}
		}
	}()

	return info.Handler(ctx, rec)
}
