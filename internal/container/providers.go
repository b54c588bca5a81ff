package container

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Ashour158/People-sub002/internal/application/dispatcher"
	"github.com/Ashour158/People-sub002/internal/application/escalation"
	"github.com/Ashour158/People-sub002/internal/application/outbox"
	"github.com/Ashour158/People-sub002/internal/application/port"
	"github.com/Ashour158/People-sub002/internal/application/service"
	"github.com/Ashour158/People-sub002/internal/application/workflow"
	"github.com/Ashour158/People-sub002/internal/domain/event"
	"github.com/Ashour158/People-sub002/internal/infrastructure/directory"
	"github.com/Ashour158/People-sub002/internal/infrastructure/persistence/repository"
	"github.com/Ashour158/People-sub002/internal/infrastructure/persistence/sqldb"
	"github.com/Ashour158/People-sub002/internal/infrastructure/worker"
	"github.com/Ashour158/People-sub002/internal/webhook"
	"github.com/Ashour158/People-sub002/pkg/database"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	Raw            *database.DB
	TransactionMgr *sqldb.DB
}

// ProvideDatabase opens the configured database and, when AutoMigrate is
// set, applies pending migrations.
func ProvideDatabase(cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	raw, err := database.New(database.Config{
		Driver:          cfg.Driver,
		Path:            cfg.Path,
		DSN:             cfg.DSN,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	if cfg.AutoMigrate {
		if _, err := database.NewMigrator(raw, logger).RunMigrations(); err != nil {
			_ = raw.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return &DatabaseBundle{
		Raw:            raw,
		TransactionMgr: sqldb.NewDB(raw, logger),
	}, nil
}

// ProvideRepositories creates all repositories over the transaction manager.
func ProvideRepositories(db *sqldb.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Event:      repository.NewEventRepository(db, logger),
		Definition: repository.NewDefinitionRepository(db, logger),
		Instance:   repository.NewInstanceRepository(db, logger),
		Task:       repository.NewTaskRepository(db, logger),
	}, nil
}

// ProvideDirectory builds the approver directory from a file or inline data.
func ProvideDirectory(cfg *DirectoryConfig) (*directory.Static, error) {
	if cfg == nil {
		return directory.NewStatic(directory.Data{}), nil
	}
	if cfg.File != "" {
		return directory.LoadFile(cfg.File)
	}
	return directory.NewStatic(cfg.Data), nil
}

// CoreDeps holds dependencies required for the application core.
type CoreDeps struct {
	Repos      *RepositoryBundle
	TxManager  port.TransactionManager
	Directory  port.Directory
	Dispatcher *DispatcherConfig
	Escalation *EscalationConfig
	Workflow   *WorkflowConfig
	Logger     *zap.Logger
}

// CoreBundle holds the application core.
type CoreBundle struct {
	Registry    dispatcher.Registry
	Dispatcher  *dispatcher.Dispatcher
	Engine      workflow.WorkflowEngine
	Scheduler   *escalation.Scheduler
	Definitions service.DefinitionService
	Outbox      service.OutboxService
}

// ProvideCore wires the registry, dispatcher, engine, services and
// escalation scheduler. Trigger bindings are registered on the registry
// before it is handed to the dispatcher.
func ProvideCore(deps *CoreDeps) (*CoreBundle, error) {
	if deps == nil {
		return nil, fmt.Errorf("core dependencies are required")
	}
	if deps.Repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.TxManager == nil {
		return nil, fmt.Errorf("transaction manager is required")
	}
	if deps.Directory == nil {
		return nil, fmt.Errorf("directory is required")
	}
	if deps.Dispatcher == nil || deps.Escalation == nil || deps.Workflow == nil {
		return nil, fmt.Errorf("dispatcher, escalation and workflow config are required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	appLogger := &zapLoggerAdapter{logger: deps.Logger}
	publisher := outbox.NewPublisher(deps.Repos.Event)
	actions := workflow.NewActionRegistry()

	engine := workflow.NewEngine(
		deps.Repos.Definition,
		deps.Repos.Instance,
		deps.Repos.Task,
		deps.TxManager,
		publisher,
		deps.Directory,
		workflow.WithLogger(appLogger),
		workflow.WithActions(actions),
		workflow.WithGraphCacheExpiry(deps.Workflow.GraphCacheExpiry),
		workflow.WithConflictRetries(deps.Workflow.ConflictRetries),
	)

	registry := dispatcher.NewRegistry(dispatcher.WithLogger(appLogger))
	workflow.RegisterTriggers(registry, engine, deps.Workflow.Triggers...)
	registerLifecycleLogger(registry, deps.Logger)

	disp := dispatcher.NewDispatcher(
		deps.Repos.Event,
		registry,
		dispatcher.Config{
			Lanes:          deps.Dispatcher.Lanes,
			BatchSize:      deps.Dispatcher.BatchSize,
			ClaimTTL:       deps.Dispatcher.ClaimTTL,
			HandlerTimeout: deps.Dispatcher.HandlerTimeout,
			Backoff: dispatcher.BackoffPolicy{
				Base:          deps.Dispatcher.BaseBackoff,
				Max:           deps.Dispatcher.MaxBackoff,
				JitterPercent: deps.Dispatcher.JitterPercent,
				MaxAttempts:   deps.Dispatcher.MaxAttempts,
			},
		},
		dispatcher.WithDispatchLogger(appLogger),
		dispatcher.WithDeadLetterSink(outbox.DeadLetterNotifier(deps.TxManager, publisher, appLogger)),
	)

	scheduler := escalation.NewScheduler(
		deps.Repos.Task,
		engine,
		escalation.WithLogger(appLogger),
		escalation.WithBatchSize(deps.Escalation.BatchSize),
	)

	return &CoreBundle{
		Registry:    registry,
		Dispatcher:  disp,
		Engine:      engine,
		Scheduler:   scheduler,
		Definitions: service.NewDefinitionService(deps.Repos.Definition, deps.TxManager, deps.Directory, actions, appLogger),
		Outbox:      service.NewOutboxService(deps.Repos.Event, appLogger),
	}, nil
}

// ProvideWebhook builds the signed event intake handler. It returns nil
// when intake is disabled.
func ProvideWebhook(cfg *WebhookConfig, repos *RepositoryBundle, tx port.TransactionManager, logger *zap.Logger) *webhook.Handler {
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	verifier := webhook.NewVerifier(cfg.Secret, cfg.Tolerance, logger)
	return webhook.NewHandler(verifier, webhook.NewIntake(tx, repos.Event), logger)
}

// registerLifecycleLogger logs every engine lifecycle event as it is
// delivered, so a process without downstream consumers still drains the
// outbox of its own events.
func registerLifecycleLogger(reg dispatcher.Registry, logger *zap.Logger) {
	types := []event.Type{
		event.TypeInstanceStarted,
		event.TypeInstanceCompleted,
		event.TypeInstanceRejected,
		event.TypeInstanceCancelled,
		event.TypeInstanceFailed,
		event.TypeTaskCreated,
		event.TypeTaskDecided,
		event.TypeTaskEscalated,
		event.TypeDeadLettered,
	}
	for _, t := range types {
		reg.RegisterNamed(t, "lifecycle_logger", func(ctx context.Context, rec *event.Record) error {
			logger.Info("Event delivered",
				zap.String("event_id", rec.ID),
				zap.String("event_type", rec.Type.String()),
				zap.String("aggregate_id", rec.AggregateID),
				zap.Int64("sequence", rec.Sequence))
			return nil
		})
	}
}

// WorkerDeps holds dependencies required for creating workers.
type WorkerDeps struct {
	Core       *CoreBundle
	Dispatcher *DispatcherConfig
	Escalation *EscalationConfig
	Logger     *zap.Logger
}

// ProvideWorkers creates and registers all background workers.
// Returns *worker.WorkerManager with all workers registered but not started.
func ProvideWorkers(deps *WorkerDeps) (*worker.WorkerManager, error) {
	if deps == nil {
		return nil, fmt.Errorf("worker dependencies are required")
	}
	if deps.Core == nil {
		return nil, fmt.Errorf("core is required")
	}
	if deps.Dispatcher == nil || deps.Escalation == nil {
		return nil, fmt.Errorf("worker config is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	manager := worker.NewWorkerManager(deps.Logger)

	manager.Register(worker.NewDispatchWorker(worker.DispatchWorkerConfig{
		PollInterval:      deps.Dispatcher.PollInterval,
		BatchSize:         deps.Dispatcher.BatchSize,
		MaxBatchesPerTick: deps.Dispatcher.MaxBatchesPerTick,
	}, deps.Core.Dispatcher, deps.Logger))

	manager.Register(worker.NewEscalationWorker(worker.EscalationWorkerConfig{
		Interval: deps.Escalation.Interval,
	}, deps.Core.Scheduler, deps.Logger))

	return manager, nil
}
