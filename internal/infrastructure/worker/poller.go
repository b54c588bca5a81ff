package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status is a snapshot of a polling worker
type Status struct {
	Running   bool      `json:"running"`
	Runs      int       `json:"runs"`
	Failures  int       `json:"failures"`
	LastRun   time.Time `json:"last_run,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// poller runs tick on a fixed interval until stopped. Stop waits for the
// tick in progress to return.
type poller struct {
	name     string
	interval time.Duration
	tick     func(ctx context.Context) error
	logger   *zap.Logger

	mu        sync.RWMutex
	cancel    context.CancelFunc
	done      chan struct{}
	isRunning bool
	runs      int
	failures  int
	lastRun   time.Time
	lastError error
}

func newPoller(name string, interval time.Duration, tick func(ctx context.Context) error, logger *zap.Logger) *poller {
	if interval <= 0 {
		interval = time.Second
	}
	return &poller{
		name:     name,
		interval: interval,
		tick:     tick,
		logger:   logger,
	}
}

// Start begins the polling loop
func (p *poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.isRunning {
		return fmt.Errorf("%s already running", p.name)
	}

	var loopCtx context.Context
	loopCtx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	p.isRunning = true

	p.logger.Info("Worker loop started",
		zap.String("worker_name", p.name),
		zap.Duration("poll_interval", p.interval))

	go p.pollLoop(loopCtx, p.done)
	return nil
}

// Stop terminates the loop and waits for it to exit
func (p *poller) Stop() error {
	p.mu.Lock()
	if !p.isRunning {
		p.mu.Unlock()
		return nil
	}
	p.isRunning = false
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	cancel()
	<-done

	status := p.Status()
	p.logger.Info("Worker loop stopped",
		zap.String("worker_name", p.name),
		zap.Int("runs", status.Runs),
		zap.Int("failures", status.Failures))
	return nil
}

// Name returns the worker name for identification
func (p *poller) Name() string {
	return p.name
}

// Status returns the worker's counters
func (p *poller) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s := Status{
		Running:  p.isRunning,
		Runs:     p.runs,
		Failures: p.failures,
		LastRun:  p.lastRun,
	}
	if p.lastError != nil {
		s.LastError = p.lastError.Error()
	}
	return s
}

func (p *poller) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.runOnce(ctx)
		}
	}
}

func (p *poller) runOnce(ctx context.Context) {
	err := p.tick(ctx)
	if err != nil && ctx.Err() != nil {
		// Shutdown interrupted the tick.
		err = nil
	}

	p.mu.Lock()
	p.runs++
	p.lastRun = time.Now().UTC()
	p.lastError = err
	if err != nil {
		p.failures++
	}
	p.mu.Unlock()

	if err != nil {
		p.logger.Error("Worker tick failed", zap.String("worker_name", p.name), zap.Error(err))
	}
}
