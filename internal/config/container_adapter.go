package config

import (
	"github.com/Ashour158/People-sub002/internal/container"
	"github.com/Ashour158/People-sub002/internal/infrastructure/directory"
	"github.com/Ashour158/People-sub002/pkg/utils"
)

// ToContainerConfig converts the application Config to a container.Config.
// This provides a bridge between the file-based config loaded by viper
// and the container's configuration structure.
func (c *Config) ToContainerConfig() *container.Config {
	return &container.Config{
		Database: container.DatabaseConfig{
			Driver:          c.Database.Driver,
			Path:            c.Database.Path,
			DSN:             c.Database.DSN,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
			AutoMigrate:     c.Database.AutoMigrate,
		},
		Server: container.ServerConfig{
			Host:         c.Server.Host,
			Port:         c.Server.Port,
			ReadTimeout:  c.Server.ReadTimeout,
			WriteTimeout: c.Server.WriteTimeout,
		},
		Dispatcher: container.DispatcherConfig{
			PollInterval:      c.Dispatcher.PollInterval,
			BatchSize:         c.Dispatcher.BatchSize,
			MaxBatchesPerTick: c.Dispatcher.MaxBatchesPerTick,
			Lanes:             c.Dispatcher.Lanes,
			MaxAttempts:       c.Dispatcher.MaxAttempts,
			BaseBackoff:       c.Dispatcher.BaseBackoff,
			MaxBackoff:        c.Dispatcher.MaxBackoff,
			JitterPercent:     c.Dispatcher.JitterPercent,
			HandlerTimeout:    c.Dispatcher.HandlerTimeout,
			ClaimTTL:          c.Dispatcher.ClaimTTL,
		},
		Escalation: container.EscalationConfig{
			Interval:  c.Escalation.Interval,
			BatchSize: c.Escalation.BatchSize,
		},
		Workflow: container.WorkflowConfig{
			GraphCacheExpiry: c.Workflow.GraphCacheExpiry,
			ConflictRetries:  c.Workflow.ConflictRetries,
			Triggers:         c.Workflow.Triggers,
		},
		Directory: container.DirectoryConfig{
			File: c.Directory.File,
			Data: directory.Data{
				Roles:    c.Directory.Roles,
				Managers: c.Directory.Managers,
			},
		},
		Telemetry: container.TelemetryConfig{
			Enabled:         c.Telemetry.Enabled,
			ServiceName:     c.Telemetry.ServiceName,
			MetricsInterval: c.Telemetry.MetricsInterval,
		},
		Webhook: container.WebhookConfig{
			Enabled:   c.Webhook.Enabled,
			Secret:    c.Webhook.Secret,
			Tolerance: c.Webhook.Tolerance,
		},
		RunWorkers: true,
	}
}

// ToLoggerConfig converts the logger section for utils.NewLogger.
func (c *Config) ToLoggerConfig() utils.LoggerConfig {
	return utils.LoggerConfig{
		Level:      c.Logger.Level,
		OutputPath: c.Logger.OutputPath,
		Format:     c.Logger.Format,
	}
}
