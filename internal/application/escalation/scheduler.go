package escalation

import (
	"context"
	"fmt"
	"time"

	"github.com/Ashour158/People-sub002/internal/application/port"
)

// Escalator applies the escalation policy to one overdue task. It reports
// false when the task was no longer pending.
type Escalator interface {
	EscalateTask(ctx context.Context, taskID string) (bool, error)
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

// Result summarizes one sweep
type Result struct {
	Overdue   int
	Escalated int
	Skipped   int
	Failed    int
}

// Scheduler finds overdue tasks and hands them to the engine. Several
// schedulers may sweep at once; each task is escalated by exactly one.
type Scheduler struct {
	tasks     port.TaskRepository
	escalator Escalator
	batchSize int
	logger    Logger
	now       func() time.Time
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithLogger sets the scheduler's logger
func WithLogger(logger Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithClock replaces time.Now, used by tests
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// WithBatchSize bounds the number of tasks examined per sweep
func WithBatchSize(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// NewScheduler creates a scheduler
func NewScheduler(tasks port.TaskRepository, escalator Escalator, opts ...Option) *Scheduler {
	s := &Scheduler{
		tasks:     tasks,
		escalator: escalator,
		batchSize: 100,
		logger:    nopLogger{},
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sweep escalates every task that is overdue now. A failure on one task is
// logged and does not stop the sweep; the task stays overdue and is picked
// up again next time.
func (s *Scheduler) Sweep(ctx context.Context) (Result, error) {
	var res Result
	overdue, err := s.tasks.ListOverdue(ctx, s.now(), s.batchSize)
	if err != nil {
		return res, fmt.Errorf("failed to list overdue tasks: %w", err)
	}
	res.Overdue = len(overdue)

	for _, task := range overdue {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		escalated, err := s.escalator.EscalateTask(ctx, task.ID)
		switch {
		case err != nil:
			res.Failed++
			s.logger.Error("Failed to escalate task", "task_id", task.ID, "instance_id", task.InstanceID, "error", err)
		case escalated:
			res.Escalated++
		default:
			res.Skipped++
		}
	}

	if res.Overdue > 0 {
		s.logger.Info("Escalation sweep finished",
			"overdue", res.Overdue,
			"escalated", res.Escalated,
			"skipped", res.Skipped,
			"failed", res.Failed,
		)
	}
	return res, nil
}
