package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"

	"github.com/Ashour158/People-sub002/internal/config"
	"github.com/Ashour158/People-sub002/internal/container"
	"github.com/Ashour158/People-sub002/pkg/utils"
)

const version = "1.0.0"

var configPath string

var rootCmd = &cobra.Command{
	Use:           "workflow-core",
	Short:         "Event-driven workflow coordination service",
	Long:          "Runs the transactional outbox dispatcher, the workflow engine and the escalation scheduler, and exposes operator commands over the same database.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "path to the YAML config file")

	rootCmd.AddCommand(serveCmd, migrateCmd, definitionCmd, deadLetterCmd, instanceCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and builds the logger. Operator
// commands print results on stdout, so their logs go to stderr.
func loadConfig(operator bool) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logCfg := cfg.ToLoggerConfig()
	if operator && (logCfg.OutputPath == "" || logCfg.OutputPath == "stdout") {
		logCfg.OutputPath = "stderr"
	}
	logger, err := utils.NewLogger(logCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}

// startContainer loads configuration and starts a container. Workers only
// run for serve.
func startContainer(ctx context.Context, runWorkers, operator bool) (*container.Container, error) {
	cfg, logger, err := loadConfig(operator)
	if err != nil {
		return nil, err
	}

	cc := cfg.ToContainerConfig()
	cc.RunWorkers = runWorkers
	if err := ensureDataDir(cc.Database); err != nil {
		return nil, err
	}

	c, err := container.NewContainer(cc, logger)
	if err != nil {
		return nil, err
	}
	if err := c.Start(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func closeContainer(c *container.Container) {
	if err := c.Close(); err != nil {
		c.Logger().Error("Failed to close container", zap.Error(err))
	}
	_ = c.Logger().Sync()
}

func ensureDataDir(db container.DatabaseConfig) error {
	if db.Path == "" || db.DSN != "" {
		return nil
	}
	if dir := filepath.Dir(db.Path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	return nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
