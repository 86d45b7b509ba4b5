package main

import (
	"fmt"

	"github.com/kursadbilgin/notifyguard/internal/config"
	"github.com/kursadbilgin/notifyguard/internal/infra/database"
	"github.com/kursadbilgin/notifyguard/internal/infra/postgresql/migrations"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	var rollbackLast bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back schema migrations",
		Long: `Apply every pending schema migration to DATABASE_DSN.

Examples:
  # Bring the schema up to date
  notifyguardctl migrate

  # Undo the most recent migration
  notifyguardctl migrate --rollback-last`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadStorage()
			if err != nil {
				return err
			}

			db, err := database.Open(cfg.DatabaseDriver, cfg.DatabaseDSN)
			if err != nil {
				return err
			}
			sqlDB, err := db.DB()
			if err != nil {
				return fmt.Errorf("failed to get underlying sql.DB: %w", err)
			}
			defer sqlDB.Close()

			if rollbackLast {
				if err := migrations.RollbackLast(db); err != nil {
					return fmt.Errorf("failed to roll back migration: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "rolled back last migration")
				return nil
			}

			if err := migrations.Migrate(db); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}

	cmd.Flags().BoolVar(&rollbackLast, "rollback-last", false, "Roll back the most recently applied migration")

	return cmd
}
