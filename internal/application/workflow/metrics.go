package workflow

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domainwf "github.com/Ashour158/People-sub002/internal/domain/workflow"
)

type engineMetrics struct {
	started      metric.Int64Counter
	finished     metric.Int64Counter
	tasksCreated metric.Int64Counter
	escalated    metric.Int64Counter
}

func newEngineMetrics(meter metric.Meter) *engineMetrics {
	m := &engineMetrics{}
	var err error

	if m.started, err = meter.Int64Counter("workflow.instances.started",
		metric.WithDescription("Workflow instances started")); err != nil {
		otel.Handle(err)
	}
	if m.finished, err = meter.Int64Counter("workflow.instances.finished",
		metric.WithDescription("Workflow instances that reached a terminal state")); err != nil {
		otel.Handle(err)
	}
	if m.tasksCreated, err = meter.Int64Counter("workflow.tasks.created",
		metric.WithDescription("Approval tasks created")); err != nil {
		otel.Handle(err)
	}
	if m.escalated, err = meter.Int64Counter("workflow.tasks.escalated",
		metric.WithDescription("Overdue tasks handled by an escalation policy")); err != nil {
		otel.Handle(err)
	}
	return m
}

type pendingMetricsKey struct{}

// pendingMetrics collects what one transaction attempt would count. It is
// flushed only after the transaction commits, so replayed attempts are not
// counted twice.
type pendingMetrics struct {
	tasksCreated int64
	finished     []domainwf.State
}

func withPendingMetrics(ctx context.Context, p *pendingMetrics) context.Context {
	return context.WithValue(ctx, pendingMetricsKey{}, p)
}

func pendingMetricsFrom(ctx context.Context) *pendingMetrics {
	p, _ := ctx.Value(pendingMetricsKey{}).(*pendingMetrics)
	return p
}

func (p *pendingMetrics) merge(other *pendingMetrics) {
	p.tasksCreated += other.tasksCreated
	p.finished = append(p.finished, other.finished...)
}

func (m *engineMetrics) flush(ctx context.Context, p *pendingMetrics) {
	if p.tasksCreated > 0 {
		m.tasksCreated.Add(ctx, p.tasksCreated)
	}
	for _, status := range p.finished {
		m.finished.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
	}
}

func (m *engineMetrics) taskCreated(ctx context.Context) {
	if p := pendingMetricsFrom(ctx); p != nil {
		p.tasksCreated++
		return
	}
	m.tasksCreated.Add(ctx, 1)
}

func (m *engineMetrics) instanceFinished(ctx context.Context, status domainwf.State) {
	if p := pendingMetricsFrom(ctx); p != nil {
		p.finished = append(p.finished, status)
		return
	}
	m.finished.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
}
