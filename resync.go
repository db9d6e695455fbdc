package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/docmirror/docmirror/internal/config"
)

func newResyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resync",
		Short: "Ask the running daemon to resync every project",
		Long: `Signal the running daemon to reload its registry and run a full
reconciliation pass over every registered project.

Fails if no daemon is running; use 'docmirror scan' for a one-shot sync
without a daemon.`,
		Args: cobra.NoArgs,
		RunE: runResync,
	}
}

func runResync(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if err := sendSIGHUP(config.PIDFilePath()); err != nil {
		return fmt.Errorf("requesting resync: %w", err)
	}

	cc.Statusf("Requested full resync from running daemon\n")

	return nil
}
