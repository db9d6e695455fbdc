package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/docmirror/docmirror/internal/config"
)

// defaultLogTail is how many trailing lines the logs command shows.
const defaultLogTail = 50

func newLogsCmd() *cobra.Command {
	var lines int

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the tail of the daemon log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogs(cmd, lines)
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", defaultLogTail, "number of trailing lines to show")

	return cmd
}

func runLogs(cmd *cobra.Command, lines int) error {
	cc := mustCLIContext(cmd.Context())

	path := cc.Cfg.Logging.LogFile
	if path == "" {
		path = config.DefaultLogFile()
	}

	tail, err := tailLines(path, lines)
	if errors.Is(err, fs.ErrNotExist) {
		fmt.Printf("No log file at %s. The daemon has not run yet.\n", path)

		return nil
	}

	if err != nil {
		return fmt.Errorf("reading log file: %w", err)
	}

	for _, line := range tail {
		fmt.Println(line)
	}

	return nil
}

// tailLines returns the last n lines of the file. Rotation caps the file
// size, so reading it whole is bounded.
func tailLines(path string, n int) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	trimmed := strings.TrimRight(string(data), "\n")
	if trimmed == "" {
		return nil, nil
	}

	lines := strings.Split(trimmed, "\n")
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}

	return lines, nil
}
