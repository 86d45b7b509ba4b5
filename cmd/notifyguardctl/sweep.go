package main

import (
	"github.com/kursadbilgin/notifyguard/internal/service"
	"github.com/spf13/cobra"
)

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one cleanup sweep",
		Long: `Delete expired idempotency keys, and send attempts and dedup log
entries older than RETENTION_DAYS. Safe to run alongside live traffic.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			s, err := openStorage(ctx)
			if err != nil {
				return err
			}
			defer s.close() //nolint:errcheck

			sweeper, err := service.NewCleanupSweeper(s.store, s.attempts, s.dedupLog, s.cfg.Retention(), 0, s.logger)
			if err != nil {
				return err
			}

			result, err := sweeper.Sweep(ctx, sweeper.Policy())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
}
