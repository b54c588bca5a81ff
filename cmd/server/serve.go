package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Ashour158/People-sub002/internal/container"
	httpserver "github.com/Ashour158/People-sub002/internal/interfaces/http"
)

var serveNoWorkers bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP operator API with the dispatch and escalation workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		c, err := startContainer(ctx, !serveNoWorkers, false)
		if err != nil {
			return err
		}
		defer closeContainer(c)

		logger := c.Logger()
		cfg := c.Config()
		logger.Info("Starting workflow coordination service",
			zap.String("version", version),
			zap.Int("port", cfg.Server.Port),
			zap.Bool("workers", cfg.RunWorkers))

		server := httpserver.NewServer(httpserver.ServerConfig{
			Host:         cfg.Server.Host,
			Port:         cfg.Server.Port,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}, httpserver.Dependencies{
			Engine:      c.WorkflowEngine(),
			Definitions: c.DefinitionService(),
			Outbox:      c.OutboxService(),
			Health:      healthFunc(c),
			Webhook:     c.WebhookHandler(),
		}, c.AppLogger())

		// Blocks until the signal context is cancelled
		if err := server.Start(ctx); err != nil {
			return err
		}
		logger.Info("Shutting down")
		return nil
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveNoWorkers, "no-workers", false, "serve the API without running the dispatch and escalation workers")
}

func healthFunc(c *container.Container) httpserver.HealthFunc {
	return func(ctx context.Context) (bool, interface{}) {
		status := c.Health(ctx)
		return status.Overall, status.Components
	}
}
