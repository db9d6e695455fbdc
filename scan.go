package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/docmirror/docmirror/internal/sync"
)

func newScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan [key]",
		Short: "Run a one-shot sync without the daemon",
		Long: `Scan a registered project and reconcile its store in the foreground,
then exit. Without an argument, every registered project is scanned.

Safe to run alongside the daemon: both go through the same store and
the reconciliation is idempotent.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runScan,
	}
}

func runScan(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	projects, err := scanTargets(cc, args)
	if err != nil {
		return err
	}

	stores := sync.NewStoreManager(cc.Logger)

	defer func() {
		if err := stores.CloseAll(); err != nil {
			cc.Logger.Warn("closing stores", "error", err)
		}
	}()

	var failures []error

	for _, p := range projects {
		stats, err := scanProject(cmd.Context(), stores, p, cc.Logger)
		if err != nil {
			failures = append(failures, fmt.Errorf("project %s: %w", p.Key, err))
			cc.Statusf("Project %s failed: %v\n", p.Key, err)

			continue
		}

		fmt.Printf("Project %s: %d new, %d modified, %d deleted, %d unchanged",
			p.Key, stats.New, stats.Modified, stats.Deleted, stats.Unchanged)

		if stats.Skipped > 0 {
			fmt.Printf(", %d skipped", stats.Skipped)
		}

		fmt.Println()
	}

	return errors.Join(failures...)
}

// scanTargets resolves the projects to scan: the named one, or all.
func scanTargets(cc *CLIContext, args []string) ([]*sync.Project, error) {
	if len(args) == 0 {
		projects := cc.Cfg.ResolveProjects()
		if len(projects) == 0 {
			return nil, errors.New("no projects registered; run 'docmirror register <key> <root>' first")
		}

		return projects, nil
	}

	p := cc.Cfg.ResolveProject(args[0])
	if p == nil {
		return nil, fmt.Errorf("project %q is not registered (see 'docmirror projects')", args[0])
	}

	return []*sync.Project{p}, nil
}

// scanProject builds the scan pipeline for one project and runs a full pass,
// mirroring the per-project setup the daemon's supervisor performs.
func scanProject(
	ctx context.Context, stores *sync.StoreManager, p *sync.Project, logger *slog.Logger,
) (*sync.SyncStats, error) {
	store, err := stores.Get(p.StorePath)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	ignoreLines, err := sync.LoadIgnoreLines(p.Root, p.IgnoreFile)
	if err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}

	filter := sync.NewFilter(p.AllowPatterns, ignoreLines, logger)
	rec := sync.NewReconciler(store, sync.NewScanner(filter, logger), logger)

	return rec.FullSync(ctx, p)
}
