package main

import (
	"time"

	"github.com/kursadbilgin/notifyguard/internal/service"
	"github.com/spf13/cobra"
)

func statsCmd() *cobra.Command {
	var since time.Duration

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print delivery and duplicate-suppression totals",
		Long: `Print totals over the trailing --since window.

Examples:
  # Last day
  notifyguardctl stats

  # Last week
  notifyguardctl stats --since 168h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			s, err := openStorage(ctx)
			if err != nil {
				return err
			}
			defer s.close() //nolint:errcheck

			aggregator, err := service.NewStatsAggregator(s.attempts, s.dedupLog, s.logger)
			if err != nil {
				return err
			}

			stats, err := aggregator.Stats(ctx, since)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}

	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "Trailing window to aggregate")

	return cmd
}
