package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/Ashour158/People-sub002/internal/application/workflow"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	Escalation EscalationConfig `mapstructure:"escalation"`
	Workflow   WorkflowConfig   `mapstructure:"workflow"`
	Directory  DirectoryConfig  `mapstructure:"directory"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Webhook    WebhookConfig    `mapstructure:"webhook"`
	Logger     LoggerConfig     `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DispatcherConfig holds outbox delivery configuration
type DispatcherConfig struct {
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	BatchSize         int           `mapstructure:"batch_size"`
	MaxBatchesPerTick int           `mapstructure:"max_batches_per_tick"`
	Lanes             int           `mapstructure:"lanes"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	BaseBackoff       time.Duration `mapstructure:"base_backoff"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff"`
	JitterPercent     uint64        `mapstructure:"jitter_percent"`
	HandlerTimeout    time.Duration `mapstructure:"handler_timeout"`
	ClaimTTL          time.Duration `mapstructure:"claim_ttl"`
}

// EscalationConfig holds escalation scheduler configuration
type EscalationConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batch_size"`
}

// WorkflowConfig holds engine configuration
type WorkflowConfig struct {
	GraphCacheExpiry time.Duration           `mapstructure:"graph_cache_expiry"`
	ConflictRetries  uint64                  `mapstructure:"conflict_retries"`
	Triggers         []workflow.EventTrigger `mapstructure:"triggers"`
}

// DirectoryConfig holds the approver directory. File, when set, replaces
// the inline roles and managers.
type DirectoryConfig struct {
	File     string              `mapstructure:"file"`
	Roles    map[string][]string `mapstructure:"roles"`
	Managers map[string]string   `mapstructure:"managers"`
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	ServiceName     string        `mapstructure:"service_name"`
	MetricsInterval time.Duration `mapstructure:"metrics_interval"`
}

// WebhookConfig holds signed event intake configuration
type WebhookConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Secret    string        `mapstructure:"secret"`
	Tolerance time.Duration `mapstructure:"tolerance"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables. A missing
// .env file is ignored; an empty configPath uses defaults and the
// environment only.
func Load(configPath string) (*Config, error) {
	if err := gotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Override with environment variables
	if err := bindEnvVars(v); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/workflow.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.auto_migrate", true)

	// Dispatcher defaults
	v.SetDefault("dispatcher.poll_interval", time.Second)
	v.SetDefault("dispatcher.batch_size", 100)
	v.SetDefault("dispatcher.max_batches_per_tick", 10)
	v.SetDefault("dispatcher.lanes", 4)
	v.SetDefault("dispatcher.max_attempts", 8)
	v.SetDefault("dispatcher.base_backoff", time.Second)
	v.SetDefault("dispatcher.max_backoff", 10*time.Minute)
	v.SetDefault("dispatcher.jitter_percent", 20)
	v.SetDefault("dispatcher.handler_timeout", 30*time.Second)
	v.SetDefault("dispatcher.claim_ttl", time.Minute)

	// Escalation defaults
	v.SetDefault("escalation.interval", time.Minute)
	v.SetDefault("escalation.batch_size", 100)

	// Workflow defaults
	v.SetDefault("workflow.graph_cache_expiry", 30*time.Minute)
	v.SetDefault("workflow.conflict_retries", 3)

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "workflow-core")
	v.SetDefault("telemetry.metrics_interval", time.Minute)

	// Webhook defaults
	v.SetDefault("webhook.enabled", false)
	v.SetDefault("webhook.tolerance", 5*time.Minute)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars(v *viper.Viper) error {
	bindings := map[string]string{
		"database.driver": "DATABASE_DRIVER",
		"database.dsn":    "DATABASE_DSN",
		"database.path":   "DATABASE_PATH",
		"server.port":     "SERVER_PORT",
		"logger.level":    "LOG_LEVEL",
		"directory.file":  "DIRECTORY_FILE",
		"webhook.secret":  "WEBHOOK_SECRET",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return err
		}
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch strings.ToLower(c.Database.Driver) {
	case "postgres", "postgresql", "pgx":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for postgres")
		}
	case "", "sqlite", "sqlite3":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	if c.Dispatcher.JitterPercent > 100 {
		return fmt.Errorf("dispatcher.jitter_percent must be between 0 and 100")
	}
	if c.Dispatcher.MaxAttempts <= 0 {
		return fmt.Errorf("dispatcher.max_attempts must be positive")
	}
	if c.Dispatcher.MaxBackoff < c.Dispatcher.BaseBackoff {
		return fmt.Errorf("dispatcher.max_backoff must not be below dispatcher.base_backoff")
	}
	if c.Dispatcher.HandlerTimeout <= 0 {
		return fmt.Errorf("dispatcher.handler_timeout must be positive")
	}
	if c.Dispatcher.HandlerTimeout >= c.Dispatcher.ClaimTTL {
		return fmt.Errorf("dispatcher.handler_timeout must be below dispatcher.claim_ttl")
	}

	for i, t := range c.Workflow.Triggers {
		if t.EventType == "" || t.DefinitionName == "" {
			return fmt.Errorf("workflow.triggers[%d] requires event_type and definition", i)
		}
	}

	if c.Webhook.Tolerance < 0 {
		return fmt.Errorf("webhook.tolerance must not be negative")
	}

	switch c.Logger.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("logger.format must be json or console")
	}

	return nil
}
