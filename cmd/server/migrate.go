package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Ashour158/People-sub002/pkg/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(true)
		if err != nil {
			return err
		}
		defer logger.Sync()

		cc := cfg.ToContainerConfig()
		if err := ensureDataDir(cc.Database); err != nil {
			return err
		}

		db, err := database.New(database.Config{
			Driver:          cfg.Database.Driver,
			Path:            cfg.Database.Path,
			DSN:             cfg.Database.DSN,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()

		applied, err := database.NewMigrator(db, logger).RunMigrations()
		if err != nil {
			logger.Error("Migration failed", zap.Error(err), zap.Int("applied", applied))
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s) to %s database\n", applied, db.Dialect)
		return nil
	},
}
