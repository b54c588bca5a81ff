package dispatcher

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/Ashour158/People-sub002/internal/application/port"
	"github.com/Ashour158/People-sub002/internal/domain/event"
)

const instrumentationName = "github.com/Ashour158/People-sub002/dispatcher"

// Config controls a Dispatcher
type Config struct {
	// Lanes is the number of aggregates processed concurrently
	Lanes int

	// BatchSize is used when PollAndDispatch is called with a non-positive size
	BatchSize int

	// ClaimTTL is how long a claimed record is reserved for this dispatcher
	ClaimTTL time.Duration

	// HandlerTimeout bounds one delivery of one record. It must stay below
	// ClaimTTL so a claim never lapses while its handler still runs; zero or
	// out of range values fall back to half the claim TTL.
	HandlerTimeout time.Duration

	Backoff BackoffPolicy
}

// DeadLetterSink is told about every record that is dead-lettered
type DeadLetterSink func(ctx context.Context, rec *event.Record)

// Stats summarizes one poll
type Stats struct {
	Fetched      int
	Claimed      int
	Dispatched   int
	Retried      int
	DeadLettered int
	Skipped      int
}

func (s *Stats) add(o Stats) {
	s.Claimed += o.Claimed
	s.Dispatched += o.Dispatched
	s.Retried += o.Retried
	s.DeadLettered += o.DeadLettered
	s.Skipped += o.Skipped
}

// Dispatcher delivers pending outbox records to the handlers in a Registry.
// Records are claimed with a lease before delivery, so several dispatchers
// may poll the same table.
type Dispatcher struct {
	events   port.EventRepository
	registry Registry
	cfg      Config
	owner    string
	logger   Logger
	now      func() time.Time
	sink     DeadLetterSink
	tracer   trace.Tracer
	metrics  *dispatchMetrics
}

// DispatchOption configures a Dispatcher
type DispatchOption func(*Dispatcher)

// WithDispatchLogger sets the dispatcher's logger
func WithDispatchLogger(logger Logger) DispatchOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) DispatchOption {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// WithDeadLetterSink registers a callback for dead-lettered records
func WithDeadLetterSink(sink DeadLetterSink) DispatchOption {
	return func(d *Dispatcher) {
		d.sink = sink
	}
}

// WithOwner sets the lease owner id, a random UUID by default
func WithOwner(owner string) DispatchOption {
	return func(d *Dispatcher) {
		d.owner = owner
	}
}

// NewDispatcher creates a dispatcher over an event repository and registry
func NewDispatcher(events port.EventRepository, registry Registry, cfg Config, opts ...DispatchOption) *Dispatcher {
	if cfg.Lanes <= 0 {
		cfg.Lanes = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = time.Minute
	}
	if cfg.HandlerTimeout <= 0 || cfg.HandlerTimeout >= cfg.ClaimTTL {
		cfg.HandlerTimeout = cfg.ClaimTTL / 2
	}
	cfg.Backoff = cfg.Backoff.normalized()

	d := &Dispatcher{
		events:   events,
		registry: registry,
		cfg:      cfg,
		owner:    uuid.NewString(),
		now:      func() time.Time { return time.Now().UTC() },
		tracer:   otel.Tracer(instrumentationName),
		metrics:  newDispatchMetrics(otel.Meter(instrumentationName)),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Owner returns the lease owner id used in claims
func (d *Dispatcher) Owner() string {
	return d.owner
}

// PollAndDispatch claims and delivers up to batchSize due records. Records
// of one aggregate run sequentially in sequence order on a single lane;
// different aggregates run concurrently. When a record of an aggregate
// cannot be claimed or is scheduled for retry, the rest of that aggregate
// is left for a later poll.
func (d *Dispatcher) PollAndDispatch(ctx context.Context, batchSize int) (Stats, error) {
	if batchSize <= 0 {
		batchSize = d.cfg.BatchSize
	}

	ctx, span := d.tracer.Start(ctx, "outbox.poll", trace.WithAttributes(
		attribute.Int("outbox.batch_size", batchSize),
		attribute.String("outbox.owner", d.owner),
	))
	defer span.End()

	recs, err := d.events.ListDispatchable(ctx, d.now(), batchSize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Stats{}, fmt.Errorf("failed to list dispatchable events: %w", err)
	}

	stats := Stats{Fetched: len(recs)}
	if len(recs) == 0 {
		return stats, nil
	}

	lanes := partition(recs, d.cfg.Lanes)
	results := make([]Stats, len(lanes))

	g, gctx := errgroup.WithContext(ctx)
	for i, lane := range lanes {
		if len(lane) == 0 {
			continue
		}
		i, lane := i, lane
		g.Go(func() error {
			var err error
			results[i], err = d.runLane(gctx, lane)
			return err
		})
	}
	err = g.Wait()

	for _, r := range results {
		stats.add(r)
	}
	span.SetAttributes(
		attribute.Int("outbox.fetched", stats.Fetched),
		attribute.Int("outbox.dispatched", stats.Dispatched),
		attribute.Int("outbox.retried", stats.Retried),
		attribute.Int("outbox.dead_lettered", stats.DeadLettered),
	)
	return stats, err
}

// runLane processes its records in order. It only fails when ctx is done.
func (d *Dispatcher) runLane(ctx context.Context, lane []*event.Record) (Stats, error) {
	var stats Stats
	blocked := make(map[string]bool)

	for _, rec := range lane {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		key := rec.AggregateKey()
		if blocked[key] {
			stats.Skipped++
			continue
		}
		if !d.process(ctx, rec, &stats) {
			blocked[key] = true
		}
	}

	return stats, nil
}

// process delivers one record and records the outcome. It returns false
// when later records of the same aggregate must wait.
func (d *Dispatcher) process(ctx context.Context, rec *event.Record, stats *Stats) bool {
	now := d.now()
	claimed, err := d.events.Claim(ctx, rec.ID, d.owner, now, now.Add(d.cfg.ClaimTTL))
	if err != nil {
		d.logError("Failed to claim event", rec, err)
		return false
	}
	if !claimed {
		stats.Skipped++
		return false
	}
	stats.Claimed++

	herr := d.deliver(ctx, rec)
	attrs := metric.WithAttributes(attribute.String("event_type", string(rec.Type)))

	if herr == nil {
		ok, err := d.events.MarkDispatched(ctx, rec.ID, d.owner, d.now())
		if err != nil || !ok {
			d.logError("Failed to mark event dispatched", rec, leaseError(err))
			return false
		}
		stats.Dispatched++
		d.metrics.dispatched.Add(ctx, 1, attrs)
		return true
	}

	attempts := rec.AttemptCount + 1
	delay, exhausted := d.cfg.Backoff.Next(attempts)

	if IsPermanent(herr) || exhausted {
		ok, err := d.events.MarkFailed(ctx, rec.ID, d.owner, attempts, herr.Error())
		if err != nil || !ok {
			d.logError("Failed to dead-letter event", rec, leaseError(err))
			return false
		}
		rec.Status = event.StatusFailed
		rec.AttemptCount = attempts
		rec.LastError = herr.Error()

		stats.DeadLettered++
		d.metrics.deadLettered.Add(ctx, 1, attrs)
		if d.logger != nil {
			d.logger.Error("Event dead-lettered",
				"event_id", rec.ID,
				"event_type", rec.Type,
				"aggregate_id", rec.AggregateID,
				"attempts", attempts,
				"error", herr,
			)
		}
		if d.sink != nil {
			d.sink(ctx, rec)
		}
		return true
	}

	next := d.now().Add(delay)
	ok, err := d.events.MarkRetry(ctx, rec.ID, d.owner, attempts, next, herr.Error())
	if err != nil || !ok {
		d.logError("Failed to schedule event retry", rec, leaseError(err))
		return false
	}
	stats.Retried++
	d.metrics.retried.Add(ctx, 1, attrs)
	if d.logger != nil {
		d.logger.Info("Event scheduled for retry",
			"event_id", rec.ID,
			"event_type", rec.Type,
			"attempts", attempts,
			"next_attempt_at", next,
		)
	}
	return false
}

func (d *Dispatcher) deliver(ctx context.Context, rec *event.Record) error {
	ctx, span := d.tracer.Start(ctx, "outbox.deliver "+string(rec.Type),
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("event.id", rec.ID),
			attribute.String("event.type", string(rec.Type)),
			attribute.String("aggregate.type", rec.AggregateType),
			attribute.String("aggregate.id", rec.AggregateID),
			attribute.Int64("aggregate.sequence", rec.Sequence),
			attribute.Int("event.attempt", rec.AttemptCount+1),
		))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, d.cfg.HandlerTimeout)
	defer cancel()

	start := time.Now()
	err := d.registry.Invoke(ctx, rec)
	d.metrics.duration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("event_type", string(rec.Type))))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

func (d *Dispatcher) logError(msg string, rec *event.Record, err error) {
	if d.logger == nil {
		return
	}
	d.logger.Error(msg,
		"event_id", rec.ID,
		"aggregate_id", rec.AggregateID,
		"owner", d.owner,
		"error", err,
	)
}

func leaseError(err error) error {
	if err != nil {
		return err
	}
	return fmt.Errorf("claim lost")
}

// partition assigns each aggregate to a lane by hash, keeping the input order
// within a lane.
func partition(recs []*event.Record, lanes int) [][]*event.Record {
	out := make([][]*event.Record, lanes)
	for _, rec := range recs {
		h := fnv.New32a()
		_, _ = h.Write([]byte(rec.AggregateKey()))
		i := int(h.Sum32() % uint32(lanes))
		out[i] = append(out[i], rec)
	}
	return out
}

type dispatchMetrics struct {
	dispatched   metric.Int64Counter
	retried      metric.Int64Counter
	deadLettered metric.Int64Counter
	duration     metric.Float64Histogram
}

func newDispatchMetrics(meter metric.Meter) *dispatchMetrics {
	m := &dispatchMetrics{}
	var err error

	// Instruments are usable even when creation reports an error.
	if m.dispatched, err = meter.Int64Counter("outbox.events.dispatched",
		metric.WithDescription("Events delivered to all handlers")); err != nil {
		otel.Handle(err)
	}
	if m.retried, err = meter.Int64Counter("outbox.events.retried",
		metric.WithDescription("Failed deliveries scheduled for retry")); err != nil {
		otel.Handle(err)
	}
	if m.deadLettered, err = meter.Int64Counter("outbox.events.dead_lettered",
		metric.WithDescription("Events that exhausted their retry budget")); err != nil {
		otel.Handle(err)
	}
	if m.duration, err = meter.Float64Histogram("outbox.delivery.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Time spent in handlers for one delivery")); err != nil {
		otel.Handle(err)
	}
	return m
}
