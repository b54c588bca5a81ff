package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ashour158/People-sub002/internal/application/outbox"
	"github.com/Ashour158/People-sub002/internal/application/port"
	"github.com/Ashour158/People-sub002/internal/domain/event"
)

type txKey struct{}

type mockTxManager struct{}

func (mockTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(context.WithValue(ctx, txKey{}, true))
}

// memoryEvents keeps appended records by id
type memoryEvents struct {
	port.EventRepository
	records map[string]*event.Record
	// hide makes GetByID miss, simulating a concurrent append
	hide bool
}

func newMemoryEvents() *memoryEvents {
	return &memoryEvents{records: make(map[string]*event.Record)}
}

func (m *memoryEvents) Append(ctx context.Context, rec *event.Record) error {
	if ctx.Value(txKey{}) == nil {
		return port.ErrNoTransaction
	}
	if _, ok := m.records[rec.ID]; ok {
		return port.ErrDuplicate
	}
	m.records[rec.ID] = rec
	return nil
}

func (m *memoryEvents) GetByID(_ context.Context, id string) (*event.Record, error) {
	if m.hide {
		m.hide = false
		return nil, nil
	}
	return m.records[id], nil
}

const fixedID = "0f8fad5b-d9cb-469f-a165-70867728950e"

func hired(id string) IncomingEvent {
	return IncomingEvent{
		EventID:       id,
		EventType:     "employee.hired",
		AggregateType: "employee",
		AggregateID:   "emp-42",
		Payload:       map[string]interface{}{"department": "finance"},
	}
}

func TestIntake_Ingest(t *testing.T) {
	events := newMemoryEvents()
	intake := NewIntake(mockTxManager{}, events)

	id, dup, err := intake.Ingest(context.Background(), hired(""))
	require.NoError(t, err)
	assert.False(t, dup)
	require.Contains(t, events.records, id)
	assert.Equal(t, event.StatusPending, events.records[id].Status)
	assert.Equal(t, "finance", events.records[id].Payload["department"])
}

func TestIntake_IdempotentEventID(t *testing.T) {
	events := newMemoryEvents()
	intake := NewIntake(mockTxManager{}, events)

	id, dup, err := intake.Ingest(context.Background(), hired(fixedID))
	require.NoError(t, err)
	assert.Equal(t, fixedID, id)
	assert.False(t, dup)

	id, dup, err = intake.Ingest(context.Background(), hired(fixedID))
	require.NoError(t, err)
	assert.Equal(t, fixedID, id)
	assert.True(t, dup)
	assert.Len(t, events.records, 1)
}

func TestIntake_ConcurrentDuplicate(t *testing.T) {
	events := newMemoryEvents()
	intake := NewIntake(mockTxManager{}, events)
	_, _, err := intake.Ingest(context.Background(), hired(fixedID))
	require.NoError(t, err)

	events.hide = true
	id, dup, err := intake.Ingest(context.Background(), hired(fixedID))
	require.NoError(t, err)
	assert.Equal(t, fixedID, id)
	assert.True(t, dup)
}

func TestIntake_Errors(t *testing.T) {
	events := newMemoryEvents()
	intake := NewIntake(mockTxManager{}, events)
	_, _, err := intake.Ingest(context.Background(), hired(fixedID))
	require.NoError(t, err)

	reused := hired(fixedID)
	reused.AggregateID = "emp-43"
	_, _, err = intake.Ingest(context.Background(), reused)
	assert.ErrorIs(t, err, ErrEventIDConflict)

	_, _, err = intake.Ingest(context.Background(), hired("not-a-uuid"))
	assert.ErrorIs(t, err, outbox.ErrInvalidEvent)

	missing := hired("")
	missing.AggregateID = ""
	_, _, err = intake.Ingest(context.Background(), missing)
	assert.ErrorIs(t, err, outbox.ErrInvalidEvent)
}

type stubIntake struct {
	got       IncomingEvent
	duplicate bool
	err       error
}

func (s *stubIntake) Ingest(_ context.Context, in IncomingEvent) (string, bool, error) {
	s.got = in
	if s.err != nil {
		return "", false, s.err
	}
	return fixedID, s.duplicate, nil
}

func newTestRouter(v *Verifier, intake EventIntake) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/webhook/events", NewHandler(v, intake, zap.NewNop()).Handle)
	return r
}

func signedRequest(t *testing.T, v *Verifier, body []byte) *http.Request {
	t.Helper()
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, "/webhook/events", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderSignature, v.Sign(ts, body))
	return req
}

func TestHandle(t *testing.T) {
	v := NewVerifier("s3cret", time.Minute, zap.NewNop())
	body, err := json.Marshal(hired(""))
	require.NoError(t, err)

	tests := []struct {
		name       string
		intake     *stubIntake
		body       []byte
		sign       bool
		wantStatus int
	}{
		{"accepted", &stubIntake{}, body, true, http.StatusAccepted},
		{"duplicate", &stubIntake{duplicate: true}, body, true, http.StatusOK},
		{"unsigned", &stubIntake{}, body, false, http.StatusUnauthorized},
		{"malformed json", &stubIntake{}, []byte(`{`), true, http.StatusBadRequest},
		{"invalid event", &stubIntake{err: outbox.ErrInvalidEvent}, body, true, http.StatusUnprocessableEntity},
		{"id conflict", &stubIntake{err: ErrEventIDConflict}, body, true, http.StatusConflict},
		{"store failure", &stubIntake{err: errors.New("disk full")}, body, true, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req *http.Request
			if tt.sign {
				req = signedRequest(t, v, tt.body)
			} else {
				req = httptest.NewRequest(http.MethodPost, "/webhook/events", bytes.NewReader(tt.body))
			}
			w := httptest.NewRecorder()
			newTestRouter(v, tt.intake).ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantStatus == http.StatusAccepted {
				assert.Equal(t, "emp-42", tt.intake.got.AggregateID)
				assert.Contains(t, w.Body.String(), fixedID)
			}
		})
	}
}

func TestHandle_BodyTooLarge(t *testing.T) {
	v := NewVerifier("", 0, zap.NewNop())
	body := []byte(`{"payload":"` + strings.Repeat("x", maxBodyBytes) + `"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook/events", bytes.NewReader(body))
	w := httptest.NewRecorder()

	newTestRouter(v, &stubIntake{}).ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
