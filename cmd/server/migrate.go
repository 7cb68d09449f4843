package main

import (
	"github.com/spf13/cobra"

	"github.com/tutorlive/backend/pkg/database"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync()

			pool, err := database.NewPostgresPool(cmd.Context(), cfg.Database.DSN(), cfg.Database.PoolOptions(), logger)
			if err != nil {
				return err
			}
			defer pool.Close()
			return database.Migrate(cmd.Context(), pool, logger)
		},
	}
}
