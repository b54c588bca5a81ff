package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Ashour158/People-sub002/internal/application/dispatcher"
)

// EventPoller claims and delivers a batch of outbox records
type EventPoller interface {
	PollAndDispatch(ctx context.Context, batchSize int) (dispatcher.Stats, error)
}

// DispatchWorkerConfig holds configuration for the dispatch worker
type DispatchWorkerConfig struct {
	PollInterval time.Duration
	BatchSize    int

	// MaxBatchesPerTick bounds how many full batches are drained before
	// waiting for the next tick
	MaxBatchesPerTick int
}

// DefaultDispatchWorkerConfig returns default configuration
func DefaultDispatchWorkerConfig() DispatchWorkerConfig {
	return DispatchWorkerConfig{
		PollInterval:      time.Second,
		BatchSize:         100,
		MaxBatchesPerTick: 10,
	}
}

// DispatchWorker polls the outbox and hands due records to the dispatcher
type DispatchWorker struct {
	*poller
	config     DispatchWorkerConfig
	dispatcher EventPoller
	logger     *zap.Logger
}

// NewDispatchWorker creates a new dispatch worker
func NewDispatchWorker(config DispatchWorkerConfig, d EventPoller, logger *zap.Logger) *DispatchWorker {
	defaults := DefaultDispatchWorkerConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.MaxBatchesPerTick <= 0 {
		config.MaxBatchesPerTick = defaults.MaxBatchesPerTick
	}

	w := &DispatchWorker{
		config:     config,
		dispatcher: d,
		logger:     logger,
	}
	w.poller = newPoller("DispatchWorker", config.PollInterval, w.drain, logger)
	return w
}

// drain polls until a batch comes back short, so a backlog is worked off
// without waiting for the next tick
func (w *DispatchWorker) drain(ctx context.Context) error {
	for i := 0; i < w.config.MaxBatchesPerTick; i++ {
		stats, err := w.dispatcher.PollAndDispatch(ctx, w.config.BatchSize)
		if err != nil {
			return err
		}
		if stats.Fetched > 0 {
			w.logger.Debug("Outbox batch processed",
				zap.Int("fetched", stats.Fetched),
				zap.Int("dispatched", stats.Dispatched),
				zap.Int("retried", stats.Retried),
				zap.Int("dead_lettered", stats.DeadLettered),
				zap.Int("skipped", stats.Skipped))
		}
		if stats.Fetched < w.config.BatchSize {
			return nil
		}
	}
	return nil
}
