package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/docmirror/docmirror/internal/sync"
)

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <key>",
		Short: "Check the store against the tree without syncing",
		Long: `Scan the project tree and compare fingerprints against the store
without writing anything. Reports paths that are new, modified, or deleted
relative to the last reconciliation.

Exit code 0 if the store matches the tree; exit code 1 if any drift is found.`,
		Args: cobra.ExactArgs(1),
		RunE: runVerify,
	}
}

// driftEntry is one path whose store record disagrees with the tree.
type driftEntry struct {
	Path   string `json:"path"`
	Status string `json:"status"`
}

// driftReport summarizes a read-only comparison of tree and store.
type driftReport struct {
	Project  string       `json:"project"`
	Verified int          `json:"verified"`
	Skipped  int          `json:"skipped,omitempty"`
	Drift    []driftEntry `json:"drift,omitempty"`
}

func runVerify(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	report, err := collectDrift(cmd, cc, args[0])
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		if err := printJSON(report); err != nil {
			return err
		}
	} else {
		printDriftText(report)
	}

	if len(report.Drift) > 0 {
		os.Exit(1)
	}

	return nil
}

// collectDrift scans the tree and diffs fingerprints against the store.
// Separated so the store cleanup runs before any os.Exit in the caller.
func collectDrift(cmd *cobra.Command, cc *CLIContext, key string) (*driftReport, error) {
	p, store, cleanup, err := openProjectStore(cc, key)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	ignoreLines, err := sync.LoadIgnoreLines(p.Root, p.IgnoreFile)
	if err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}

	scanner := sync.NewScanner(sync.NewFilter(p.AllowPatterns, ignoreLines, cc.Logger), cc.Logger)

	scans, skipped, err := scanner.ScanRoot(cmd.Context(), p.Root)
	if err != nil {
		return nil, fmt.Errorf("scanning tree: %w", err)
	}

	docs, err := store.ListDocuments(cmd.Context(), p.Key)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}

	report := buildDriftReport(p.Key, scans, docs)
	report.Skipped = skipped

	return report, nil
}

// buildDriftReport classifies every path as verified, new, modified, or
// deleted by comparing scan fingerprints with store records.
func buildDriftReport(project string, scans map[string]*sync.DocumentScan, docs []*sync.Document) *driftReport {
	report := &driftReport{Project: project}

	byPath := make(map[string]*sync.Document, len(docs))
	for _, d := range docs {
		byPath[d.RelPath] = d
	}

	for relPath, scan := range scans {
		doc, ok := byPath[relPath]

		switch {
		case !ok:
			report.Drift = append(report.Drift, driftEntry{Path: relPath, Status: "new"})
		case doc.Fingerprint != scan.Fingerprint:
			report.Drift = append(report.Drift, driftEntry{Path: relPath, Status: "modified"})
		default:
			report.Verified++
		}

		delete(byPath, relPath)
	}

	for relPath := range byPath {
		report.Drift = append(report.Drift, driftEntry{Path: relPath, Status: "deleted"})
	}

	sort.Slice(report.Drift, func(i, j int) bool {
		return report.Drift[i].Path < report.Drift[j].Path
	})

	return report
}

func printDriftText(report *driftReport) {
	fmt.Printf("Verified: %d documents in sync\n", report.Verified)

	if report.Skipped > 0 {
		fmt.Printf("Skipped: %d unreadable files\n", report.Skipped)
	}

	if len(report.Drift) == 0 {
		fmt.Println("Store matches the tree.")

		return
	}

	fmt.Printf("Drift: %d paths\n\n", len(report.Drift))

	headers := []string{"PATH", "STATUS"}
	rows := make([][]string, len(report.Drift))

	for i, d := range report.Drift {
		rows[i] = []string{d.Path, d.Status}
	}

	printTable(os.Stdout, headers, rows)
}
