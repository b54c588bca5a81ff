package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Ashour158/People-sub002/internal/application/escalation"
)

// TaskSweeper escalates overdue approval tasks
type TaskSweeper interface {
	Sweep(ctx context.Context) (escalation.Result, error)
}

// EscalationWorkerConfig holds configuration for the escalation worker
type EscalationWorkerConfig struct {
	Interval time.Duration
}

// DefaultEscalationWorkerConfig returns default configuration
func DefaultEscalationWorkerConfig() EscalationWorkerConfig {
	return EscalationWorkerConfig{Interval: time.Minute}
}

// EscalationWorker periodically sweeps for overdue tasks
type EscalationWorker struct {
	*poller
	sweeper TaskSweeper
}

// NewEscalationWorker creates a new escalation worker
func NewEscalationWorker(config EscalationWorkerConfig, sweeper TaskSweeper, logger *zap.Logger) *EscalationWorker {
	w := &EscalationWorker{sweeper: sweeper}
	w.poller = newPoller("EscalationWorker", config.Interval, w.sweep, logger)
	return w
}

func (w *EscalationWorker) sweep(ctx context.Context) error {
	_, err := w.sweeper.Sweep(ctx)
	return err
}
