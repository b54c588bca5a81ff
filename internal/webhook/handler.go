// Package webhook accepts signed business events from upstream HR systems
// and appends them to the outbox, where event triggers pick them up.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Ashour158/People-sub002/internal/application/outbox"
	"github.com/Ashour158/People-sub002/internal/application/port"
	"github.com/Ashour158/People-sub002/internal/domain/event"
)

const (
	// HeaderTimestamp carries the signing time in unix seconds
	HeaderTimestamp = "X-Event-Timestamp"
	// HeaderSignature carries "sha256=<hex hmac>"
	HeaderSignature = "X-Event-Signature"

	maxBodyBytes = 1 << 20
)

// ErrEventIDConflict is returned when a caller-supplied event id is reused
// for a different event
var ErrEventIDConflict = errors.New("event id already used for a different event")

// IncomingEvent is the intake request body
type IncomingEvent struct {
	// EventID is optional. When set it must be a UUID and makes delivery
	// idempotent: a repeated id is acknowledged without a second append.
	EventID       string                 `json:"event_id"`
	EventType     string                 `json:"event_type"`
	AggregateType string                 `json:"aggregate_type"`
	AggregateID   string                 `json:"aggregate_id"`
	Payload       map[string]interface{} `json:"payload"`
}

// EventIntake appends incoming events to the outbox
type EventIntake interface {
	Ingest(ctx context.Context, in IncomingEvent) (id string, duplicate bool, err error)
}

// Intake publishes incoming events in their own transaction
type Intake struct {
	tx        port.TransactionManager
	events    port.EventRepository
	publisher *outbox.Publisher
}

// NewIntake creates an intake over the outbox
func NewIntake(tx port.TransactionManager, events port.EventRepository) *Intake {
	return &Intake{tx: tx, events: events, publisher: outbox.NewPublisher(events)}
}

// Ingest appends the event, or reports a duplicate when its id is known
func (i *Intake) Ingest(ctx context.Context, in IncomingEvent) (string, bool, error) {
	rec := event.NewRecord(in.AggregateType, in.AggregateID, event.Type(in.EventType), in.Payload)
	if in.EventID != "" {
		if _, err := uuid.Parse(in.EventID); err != nil {
			return "", false, fmt.Errorf("%w: event_id must be a UUID", outbox.ErrInvalidEvent)
		}
		rec.ID = in.EventID

		existing, err := i.events.GetByID(ctx, rec.ID)
		if err != nil {
			return "", false, fmt.Errorf("failed to look up event: %w", err)
		}
		if existing != nil {
			return i.duplicate(existing, rec)
		}
	}

	err := i.tx.WithTransaction(ctx, func(ctx context.Context) error {
		return i.publisher.PublishRecord(ctx, rec)
	})
	if errors.Is(err, port.ErrDuplicate) && in.EventID != "" {
		// Lost a race with a concurrent delivery of the same id
		existing, getErr := i.events.GetByID(ctx, rec.ID)
		if getErr != nil {
			return "", false, fmt.Errorf("failed to look up event: %w", getErr)
		}
		if existing != nil {
			return i.duplicate(existing, rec)
		}
	}
	if err != nil {
		return "", false, err
	}
	return rec.ID, false, nil
}

func (i *Intake) duplicate(existing, incoming *event.Record) (string, bool, error) {
	if existing.Type != incoming.Type ||
		existing.AggregateType != incoming.AggregateType ||
		existing.AggregateID != incoming.AggregateID {
		return "", false, fmt.Errorf("event %s: %w", existing.ID, ErrEventIDConflict)
	}
	return existing.ID, true, nil
}

// Handler serves the intake endpoint
type Handler struct {
	verifier *Verifier
	intake   EventIntake
	logger   *zap.Logger
}

// NewHandler creates a new webhook handler
func NewHandler(verifier *Verifier, intake EventIntake, logger *zap.Logger) *Handler {
	return &Handler{
		verifier: verifier,
		intake:   intake,
		logger:   logger,
	}
}

// Handle verifies and ingests one event. New events answer 202, repeated
// event ids answer 200.
func (h *Handler) Handle(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	if err := h.verifier.VerifySignature(c.GetHeader(HeaderTimestamp), c.GetHeader(HeaderSignature), body); err != nil {
		h.logger.Warn("Rejected webhook request",
			zap.String("client_ip", c.ClientIP()),
			zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	var in IncomingEvent
	if err := json.Unmarshal(body, &in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to parse event"})
		return
	}

	id, duplicate, err := h.intake.Ingest(c.Request.Context(), in)
	switch {
	case errors.Is(err, outbox.ErrInvalidEvent):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	case errors.Is(err, ErrEventIDConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case err != nil:
		h.logger.Error("Failed to ingest event",
			zap.String("event_type", in.EventType),
			zap.String("aggregate_id", in.AggregateID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to ingest event"})
		return
	}

	if duplicate {
		h.logger.Info("Duplicate event acknowledged", zap.String("event_id", id))
		c.JSON(http.StatusOK, gin.H{"event_id": id, "duplicate": true})
		return
	}

	h.logger.Info("Event ingested",
		zap.String("event_id", id),
		zap.String("event_type", in.EventType),
		zap.String("aggregate_type", in.AggregateType),
		zap.String("aggregate_id", in.AggregateID))
	c.JSON(http.StatusAccepted, gin.H{"event_id": id, "duplicate": false})
}
