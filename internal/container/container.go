package container

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Ashour158/People-sub002/internal/application/dispatcher"
	"github.com/Ashour158/People-sub002/internal/application/escalation"
	"github.com/Ashour158/People-sub002/internal/application/port"
	"github.com/Ashour158/People-sub002/internal/application/service"
	"github.com/Ashour158/People-sub002/internal/application/workflow"
	"github.com/Ashour158/People-sub002/internal/infrastructure/directory"
	"github.com/Ashour158/People-sub002/internal/infrastructure/persistence/sqldb"
	"github.com/Ashour158/People-sub002/internal/infrastructure/worker"
	"github.com/Ashour158/People-sub002/internal/webhook"
	"github.com/Ashour158/People-sub002/pkg/database"
	"github.com/Ashour158/People-sub002/pkg/telemetry"
)

// Container manages all application dependencies and lifecycle.
// Components are initialized in dependency order and torn down in reverse.
type Container struct {
	config *Config
	logger *zap.Logger

	// Telemetry
	shutdownTelemetry telemetry.ShutdownFunc

	// Infrastructure - Data
	raw          *database.DB
	db           *sqldb.DB
	repositories *RepositoryBundle
	directory    *directory.Static

	// Application
	core    *CoreBundle
	webhook *webhook.Handler

	// Workers
	workers *worker.WorkerManager

	// Lifecycle
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Event      port.EventRepository
	Definition port.DefinitionRepository
	Instance   port.InstanceRepository
	Task       port.TaskRepository
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config: cfg,
		logger: logger,
	}, nil
}

// Start initializes all components and begins processing.
// Components are initialized in dependency order:
// 1. Telemetry
// 2. Database and repositories
// 3. Directory
// 4. Registry, dispatcher, engine, services and scheduler
// 5. Workers, when enabled
//
// A failed start releases whatever was already initialized.
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}

	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.logger.Info("Starting container initialization")

	if err := c.start(); err != nil {
		c.teardown()
		return err
	}

	c.ready.Store(true)
	c.logger.Info("Container started successfully")

	return nil
}

func (c *Container) start() error {
	// Step 1: Initialize telemetry
	shutdown, err := telemetry.Setup(c.ctx, telemetry.Config{
		Enabled:         c.config.Telemetry.Enabled,
		ServiceName:     c.config.Telemetry.ServiceName,
		MetricsInterval: c.config.Telemetry.MetricsInterval,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	c.shutdownTelemetry = shutdown

	// Step 2: Initialize database and repositories
	if err := c.initDatabase(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.logger.Info("Database initialized", zap.String("dialect", string(c.raw.Dialect)))

	// Step 3: Initialize directory
	dir, err := ProvideDirectory(&c.config.Directory)
	if err != nil {
		return fmt.Errorf("failed to initialize directory: %w", err)
	}
	c.directory = dir

	// Step 4: Initialize the application core
	core, err := ProvideCore(&CoreDeps{
		Repos:      c.repositories,
		TxManager:  c.db,
		Directory:  c.directory,
		Dispatcher: &c.config.Dispatcher,
		Escalation: &c.config.Escalation,
		Workflow:   &c.config.Workflow,
		Logger:     c.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize core: %w", err)
	}
	c.core = core
	c.logger.Info("Application core initialized",
		zap.String("dispatcher_owner", core.Dispatcher.Owner()),
		zap.Int("triggers", len(c.config.Workflow.Triggers)))

	c.webhook = ProvideWebhook(&c.config.Webhook, c.repositories, c.db, c.logger)
	if c.webhook != nil {
		c.logger.Info("Webhook intake enabled", zap.Bool("signed", c.config.Webhook.Secret != ""))
	}

	// Step 5: Initialize and start workers
	if !c.config.RunWorkers {
		c.logger.Info("Workers disabled")
		return nil
	}
	if err := c.initWorkers(); err != nil {
		return fmt.Errorf("failed to initialize workers: %w", err)
	}
	c.logger.Info("Workers initialized and started")
	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")
	errs := c.teardown()

	c.closed.Store(true)
	c.ready.Store(false)

	if len(errs) > 0 {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(errs)))
		return fmt.Errorf("container closed with %d errors: %w", len(errs), errs[0])
	}

	c.logger.Info("Container closed successfully")
	return nil
}

func (c *Container) teardown() []error {
	var errs []error

	// Cancel context to signal all goroutines
	if c.cancel != nil {
		c.cancel()
	}

	// Step 1: Stop workers (reverse of step 5)
	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			c.logger.Error("Failed to stop workers", zap.Error(err))
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		} else {
			c.logger.Info("Workers stopped")
		}
		c.workers = nil
	}

	// Step 2: The core and directory hold no resources (reverse of steps 3-4)
	c.core = nil
	c.webhook = nil

	// Step 3: Close database (reverse of step 2)
	if c.raw != nil {
		if err := c.raw.Close(); err != nil {
			c.logger.Error("Failed to close database", zap.Error(err))
			errs = append(errs, fmt.Errorf("close database: %w", err))
		} else {
			c.logger.Info("Database closed")
		}
		c.raw = nil
	}

	// Step 4: Flush telemetry (reverse of step 1)
	if c.shutdownTelemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.shutdownTelemetry(ctx); err != nil {
			c.logger.Error("Failed to flush telemetry", zap.Error(err))
			errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
		}
		cancel()
		c.shutdownTelemetry = nil
	}

	return errs
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}
	set := func(name string, healthy bool, msg string) {
		status.Components[name] = ComponentHealth{Healthy: healthy, Message: msg}
		if !healthy {
			status.Overall = false
		}
	}

	// Check database
	if c.db != nil && c.raw != nil {
		if err := c.db.Ping(ctx); err != nil {
			set("database", false, fmt.Sprintf("ping failed: %v", err))
		} else {
			set("database", true, "")
		}
	} else {
		set("database", false, "not initialized")
	}

	// Check workers
	switch {
	case !c.config.RunWorkers:
		set("workers", true, "disabled")
	case c.workers != nil:
		set("workers", c.workers.IsRunning(), fmt.Sprintf("worker count: %d", c.workers.GetWorkerCount()))
	default:
		set("workers", false, "not initialized")
	}

	// Check dispatcher
	if c.core != nil {
		set("dispatcher", true, "")
	} else {
		set("dispatcher", false, "not initialized")
	}

	return status
}

// initDatabase initializes the database and all repositories using providers.
func (c *Container) initDatabase() error {
	bundle, err := ProvideDatabase(&c.config.Database, c.logger)
	if err != nil {
		return err
	}

	c.raw = bundle.Raw
	c.db = bundle.TransactionMgr

	repos, err := ProvideRepositories(c.db, c.logger)
	if err != nil {
		return err
	}

	c.repositories = repos
	return nil
}

// initWorkers initializes and starts all background workers using providers.
func (c *Container) initWorkers() error {
	workers, err := ProvideWorkers(&WorkerDeps{
		Core:       c.core,
		Dispatcher: &c.config.Dispatcher,
		Escalation: &c.config.Escalation,
		Logger:     c.logger,
	})
	if err != nil {
		return err
	}

	if err := workers.StartAll(c.ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}
	c.workers = workers
	return nil
}

// Getters for accessing container components

// DB returns the transaction manager.
func (c *Container) DB() port.TransactionManager {
	return c.db
}

// Database returns the raw connection, used by the migrate command.
func (c *Container) Database() *database.DB {
	return c.raw
}

// Repositories returns all repositories.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// Directory returns the approver directory.
func (c *Container) Directory() *directory.Static {
	return c.directory
}

// Registry returns the handler registry the dispatcher delivers to.
func (c *Container) Registry() dispatcher.Registry {
	return c.core.Registry
}

// Dispatcher returns the outbox dispatcher.
func (c *Container) Dispatcher() *dispatcher.Dispatcher {
	return c.core.Dispatcher
}

// WorkflowEngine returns the workflow engine.
func (c *Container) WorkflowEngine() workflow.WorkflowEngine {
	return c.core.Engine
}

// Scheduler returns the escalation scheduler.
func (c *Container) Scheduler() *escalation.Scheduler {
	return c.core.Scheduler
}

// DefinitionService returns the definition service.
func (c *Container) DefinitionService() service.DefinitionService {
	return c.core.Definitions
}

// OutboxService returns the outbox service.
func (c *Container) OutboxService() service.OutboxService {
	return c.core.Outbox
}

// WebhookHandler returns the event intake handler, or nil when disabled.
func (c *Container) WebhookHandler() *webhook.Handler {
	return c.webhook
}

// Workers returns the worker manager, nil when workers are disabled.
func (c *Container) Workers() *worker.WorkerManager {
	return c.workers
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// AppLogger returns the logger adapted for application components.
func (c *Container) AppLogger() service.Logger {
	return NewAppLogger(c.logger)
}

// NewAppLogger adapts a zap logger to the minimal Logger interfaces of the
// application packages.
func NewAppLogger(logger *zap.Logger) service.Logger {
	return &zapLoggerAdapter{logger: logger}
}

// Config returns the container's configuration.
func (c *Container) Config() *Config {
	return c.config
}

// zapLoggerAdapter adapts zap.Logger to the minimal Logger interfaces of
// the application packages.
type zapLoggerAdapter struct {
	logger *zap.Logger
}

func (a *zapLoggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	fields := convertToZapFields(keysAndValues...)
	a.logger.Info(msg, fields...)
}

func (a *zapLoggerAdapter) Error(msg string, keysAndValues ...interface{}) {
	fields := convertToZapFields(keysAndValues...)
	a.logger.Error(msg, fields...)
}

// convertToZapFields converts key-value pairs to zap fields.
func convertToZapFields(keysAndValues ...interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		if err, ok := keysAndValues[i+1].(error); ok {
			fields = append(fields, zap.NamedError(key, err))
			continue
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}
