// Package container provides dependency injection and lifecycle management
// for the workflow coordination core.
package container

import (
	"fmt"
	"time"

	"github.com/Ashour158/People-sub002/internal/application/workflow"
	"github.com/Ashour158/People-sub002/internal/infrastructure/directory"
	"github.com/Ashour158/People-sub002/pkg/database"
)

// Config holds all configuration for the Container.
// It aggregates configurations for all subsystems.
type Config struct {
	// Database configuration
	Database DatabaseConfig

	// Server configuration
	Server ServerConfig

	// Dispatcher configuration
	Dispatcher DispatcherConfig

	// Escalation scheduler configuration
	Escalation EscalationConfig

	// Workflow engine configuration
	Workflow WorkflowConfig

	// Directory used for approver resolution
	Directory DirectoryConfig

	// Telemetry export
	Telemetry TelemetryConfig

	// Webhook event intake
	Webhook WebhookConfig

	// RunWorkers starts the dispatch and escalation workers. Processes that
	// only serve the API or run one-off commands leave it off.
	RunWorkers bool
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres"
	Driver string

	// Path to SQLite database file
	Path string

	// DSN is the PostgreSQL connection string
	DSN string

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int

	// ConnMaxLifetime is the maximum connection lifetime
	ConnMaxLifetime time.Duration

	// AutoMigrate applies pending migrations on start
	AutoMigrate bool
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host to bind to
	Host string

	// Port to listen on
	Port int

	// ReadTimeout for HTTP server
	ReadTimeout time.Duration

	// WriteTimeout for HTTP server
	WriteTimeout time.Duration
}

// DispatcherConfig holds outbox delivery settings.
type DispatcherConfig struct {
	PollInterval      time.Duration
	BatchSize         int
	MaxBatchesPerTick int

	// Lanes is the number of aggregates delivered concurrently
	Lanes int

	MaxAttempts   int
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
	JitterPercent uint64

	HandlerTimeout time.Duration
	ClaimTTL       time.Duration
}

// EscalationConfig holds overdue task sweep settings.
type EscalationConfig struct {
	Interval  time.Duration
	BatchSize int
}

// WorkflowConfig holds engine settings.
type WorkflowConfig struct {
	GraphCacheExpiry time.Duration
	ConflictRetries  uint64

	// Triggers start workflows from delivered events
	Triggers []workflow.EventTrigger
}

// DirectoryConfig selects the approver directory. File takes precedence
// over inline Data.
type DirectoryConfig struct {
	File string
	Data directory.Data
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	Enabled         bool
	ServiceName     string
	MetricsInterval time.Duration
}

// WebhookConfig holds signed event intake settings. An empty Secret
// accepts unsigned requests.
type WebhookConfig struct {
	Enabled   bool
	Secret    string
	Tolerance time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:          string(database.SQLite),
			Path:            "data/workflow.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			AutoMigrate:     true,
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Dispatcher: DispatcherConfig{
			PollInterval:      time.Second,
			BatchSize:         100,
			MaxBatchesPerTick: 10,
			Lanes:             4,
			MaxAttempts:       8,
			BaseBackoff:       time.Second,
			MaxBackoff:        10 * time.Minute,
			JitterPercent:     20,
			HandlerTimeout:    30 * time.Second,
			ClaimTTL:          time.Minute,
		},
		Escalation: EscalationConfig{
			Interval:  time.Minute,
			BatchSize: 100,
		},
		Workflow: WorkflowConfig{
			GraphCacheExpiry: 30 * time.Minute,
			ConflictRetries:  3,
		},
		Telemetry: TelemetryConfig{
			ServiceName:     "workflow-core",
			MetricsInterval: time.Minute,
		},
		Webhook: WebhookConfig{
			Tolerance: 5 * time.Minute,
		},
		RunWorkers: true,
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	dialect, err := database.ParseDialect(c.Database.Driver)
	if err != nil {
		return err
	}
	switch dialect {
	case database.Postgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for postgres")
		}
	default:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
	}

	if c.Dispatcher.JitterPercent > 100 {
		return fmt.Errorf("dispatcher.jitter_percent must be between 0 and 100")
	}
	if c.Dispatcher.BaseBackoff > 0 && c.Dispatcher.MaxBackoff > 0 && c.Dispatcher.MaxBackoff < c.Dispatcher.BaseBackoff {
		return fmt.Errorf("dispatcher.max_backoff must not be below dispatcher.base_backoff")
	}
	if c.Dispatcher.HandlerTimeout < 0 || c.Dispatcher.ClaimTTL < 0 {
		return fmt.Errorf("dispatcher.handler_timeout and dispatcher.claim_ttl must not be negative")
	}
	if c.Dispatcher.HandlerTimeout > 0 && c.Dispatcher.ClaimTTL > 0 && c.Dispatcher.HandlerTimeout >= c.Dispatcher.ClaimTTL {
		return fmt.Errorf("dispatcher.handler_timeout must be below dispatcher.claim_ttl")
	}
	if c.RunWorkers {
		if c.Dispatcher.PollInterval <= 0 {
			return fmt.Errorf("dispatcher.poll_interval must be positive")
		}
		if c.Escalation.Interval <= 0 {
			return fmt.Errorf("escalation.interval must be positive")
		}
	}

	for i, t := range c.Workflow.Triggers {
		if t.EventType == "" || t.DefinitionName == "" {
			return fmt.Errorf("workflow.triggers[%d] requires event_type and definition", i)
		}
	}

	return nil
}
