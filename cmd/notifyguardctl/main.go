// notifyguardctl is the operator CLI for the notifyguard storage layer.
//
// Usage:
//
//	notifyguardctl migrate
//	notifyguardctl migrate --rollback-last
//	notifyguardctl sweep
//	notifyguardctl stats --since 168h
//
// It reads the same DATABASE_*, IDEMPOTENCY_BACKEND, REDIS_URL and
// RETENTION_DAYS environment as the API.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "notifyguardctl",
		Short:         "Operate the notifyguard dedup store",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(out)

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(statsCmd())

	return rootCmd
}
