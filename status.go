package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/docmirror/docmirror/internal/config"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and per-project watcher status",
		Long: `Display the daemon's last status snapshot: one line per registered
project with its watcher state, document count, and last sync time.

Reads the snapshot file the daemon rewrites periodically. If the daemon is
not running the last snapshot is still shown, marked as stale.`,
		Args: cobra.NoArgs,
		RunE: runStatus,
	}
}

// statusReport wraps the daemon's snapshot with a liveness flag derived
// from the PID file.
type statusReport struct {
	DaemonRunning bool `json:"daemon_running"`
	statusSnapshot
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	path := config.StatusFilePath()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		fmt.Println("No status snapshot found. Start the daemon with 'docmirror daemon'.")

		return nil
	}

	if err != nil {
		return fmt.Errorf("reading status file: %w", err)
	}

	var snap statusSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("parsing status file %s: %w", path, err)
	}

	report := statusReport{
		DaemonRunning:  daemonAlive(config.PIDFilePath()),
		statusSnapshot: snap,
	}

	if cc.Flags.JSON {
		return printJSON(&report)
	}

	printStatusText(&report)

	return nil
}

// printJSON writes any value as indented JSON to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

func printStatusText(report *statusReport) {
	if report.DaemonRunning {
		fmt.Printf("Daemon running (pid %d, version %s), started %s\n",
			report.PID, report.Version, report.StartedAt)
	} else {
		fmt.Printf("Daemon not running. Showing last snapshot from %s.\n", report.UpdatedAt)
	}

	if len(report.Projects) == 0 {
		fmt.Println("\nNo projects registered. Run 'docmirror register <key> <root>' to add one.")

		return
	}

	fmt.Println()

	headers := []string{"PROJECT", "STATE", "DOCS", "FAILURES", "LAST SYNC", "ERROR"}
	rows := make([][]string, 0, len(report.Projects))

	for _, p := range report.Projects {
		rows = append(rows, []string{
			p.Project,
			string(p.State),
			strconv.FormatInt(p.Documents, 10),
			formatCount(p.Failures),
			formatSyncTime(p.LastSyncAt),
			p.LastError,
		})
	}

	printTable(os.Stdout, headers, rows)
}

// formatSyncTime renders a Unix-nanosecond timestamp, "never" when zero.
func formatSyncTime(unixNano int64) string {
	if unixNano == 0 {
		return "never"
	}

	return formatTime(time.Unix(0, unixNano))
}
