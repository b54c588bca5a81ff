package event

import (
	"time"

	"github.com/google/uuid"
)

// Record is a durable domain event written to the outbox in the same
// transaction as the mutation that produced it. Only the dispatch bookkeeping
// fields change after the record is written.
type Record struct {
	ID            string                 `json:"id"`
	AggregateType string                 `json:"aggregate_type"`
	AggregateID   string                 `json:"aggregate_id"`
	Type          Type                   `json:"event_type"`
	Payload       map[string]interface{} `json:"payload"`
	CreatedAt     time.Time              `json:"created_at"`
	Sequence      int64                  `json:"sequence_in_aggregate"`

	// Dispatch bookkeeping
	Status        DispatchStatus `json:"dispatch_status"`
	AttemptCount  int            `json:"attempt_count"`
	NextAttemptAt time.Time      `json:"next_attempt_at"`
	LastError     string         `json:"last_error,omitempty"`
	DispatchedAt  *time.Time     `json:"dispatched_at,omitempty"`
	ClaimedBy     string         `json:"claimed_by,omitempty"`
	ClaimedUntil  *time.Time     `json:"claimed_until,omitempty"`
}

// NewRecord creates a pending event record with a generated ID.
// Sequence is assigned by the store on append.
func NewRecord(aggregateType, aggregateID string, eventType Type, payload map[string]interface{}) *Record {
	now := time.Now().UTC()
	if payload == nil {
		payload = make(map[string]interface{})
	}
	return &Record{
		ID:            uuid.NewString(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Type:          eventType,
		Payload:       payload,
		CreatedAt:     now,
		Status:        StatusPending,
		NextAttemptAt: now,
	}
}

// AggregateKey identifies the ordering scope of the record.
func (r *Record) AggregateKey() string {
	return r.AggregateType + "/" + r.AggregateID
}

// GetPayloadString retrieves a string value from the payload
func (r *Record) GetPayloadString(key string) string {
	if val, ok := r.Payload[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// GetPayloadInt retrieves an int64 value from the payload
func (r *Record) GetPayloadInt(key string) int64 {
	if val, ok := r.Payload[key]; ok {
		switch v := val.(type) {
		case int64:
			return v
		case int:
			return int64(v)
		case float64:
			return int64(v)
		}
	}
	return 0
}

// GetPayloadFloat retrieves a float64 value from the payload
func (r *Record) GetPayloadFloat(key string) float64 {
	if val, ok := r.Payload[key]; ok {
		switch v := val.(type) {
		case float64:
			return v
		case int64:
			return float64(v)
		case int:
			return float64(v)
		}
	}
	return 0.0
}

// GetPayloadBool retrieves a bool value from the payload
func (r *Record) GetPayloadBool(key string) bool {
	if val, ok := r.Payload[key]; ok {
		if b, ok := val.(bool); ok {
			return b
		}
	}
	return false
}
