// Package crashlog persists panic reports to disk so a fault in one daemon
// goroutine leaves a trace even though the process keeps running.
package crashlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"sort"
	"strings"
	"time"
)

// defaultKeep is how many reports survive pruning; older ones are removed
// after every write.
const defaultKeep = 10

const (
	reportPrefix = "crash-"
	reportSuffix = ".json"

	// Filename timestamps sort chronologically and are filesystem-safe.
	reportNameLayout = "20060102T150405.000000000Z"
)

// Reports may carry fragments of user paths in stack traces, so they are
// owner-only like the rest of the state directory.
const (
	reportFilePerms = 0o600
	reportDirPerms  = 0o700
)

// Report is the on-disk JSON format of one captured fault.
type Report struct {
	Timestamp string `json:"timestamp"`
	Error     string `json:"error"`
	Stack     string `json:"stack"`
	PID       int    `json:"pid"`
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
}

// Reporter writes crash reports into a directory and keeps only the newest
// few. Thread-safe: Write does not share mutable state.
type Reporter struct {
	dir     string
	keep    int
	version string
	logger  *slog.Logger
	nowFunc func() time.Time // injectable for testing
}

// NewReporter creates a Reporter writing into dir. The directory is created
// on first write.
func NewReporter(dir, version string, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}

	return &Reporter{
		dir:     dir,
		keep:    defaultKeep,
		version: version,
		logger:  logger,
		nowFunc: time.Now,
	}
}

// Write persists one crash report and prunes old ones. Returns the path of
// the written report.
func (r *Reporter) Write(cause string, stack []byte) (string, error) {
	if err := os.MkdirAll(r.dir, reportDirPerms); err != nil {
		return "", fmt.Errorf("creating crash report dir: %w", err)
	}

	now := r.nowFunc().UTC()

	report := Report{
		Timestamp: now.Format(time.RFC3339Nano),
		Error:     cause,
		Stack:     string(stack),
		PID:       os.Getpid(),
		Version:   r.version,
		GoVersion: runtime.Version(),
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling crash report: %w", err)
	}

	path := filepath.Join(r.dir, reportPrefix+now.Format(reportNameLayout)+reportSuffix)
	tmpPath := path + ".tmp"

	if err := os.WriteFile(tmpPath, data, reportFilePerms); err != nil {
		return "", fmt.Errorf("writing crash report temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath) // best-effort cleanup
		return "", fmt.Errorf("renaming crash report temp file: %w", err)
	}

	r.prune()

	return path, nil
}

// prune removes all but the newest keep reports. Errors are logged, never
// propagated; pruning must not mask the fault being reported.
func (r *Reporter) prune() {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		r.logger.Warn("failed to scan crash report dir", "error", err)
		return
	}

	var names []string

	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		name := e.Name()
		if strings.HasPrefix(name, reportPrefix) && strings.HasSuffix(name, reportSuffix) {
			names = append(names, name)
		}
	}

	if len(names) <= r.keep {
		return
	}

	// Timestamped names sort oldest first.
	sort.Strings(names)

	for _, name := range names[:len(names)-r.keep] {
		if err := os.Remove(filepath.Join(r.dir, name)); err != nil && !os.IsNotExist(err) {
			r.logger.Warn("failed to prune crash report", "file", name, "error", err)
		}
	}
}

// Recover is the deferred panic handler for daemon goroutines: it captures
// the panic value and stack, writes a report, logs the fault, and hands the
// panic to onPanic as an error. The goroutine ends; the process does not.
// Safe on a nil receiver, which skips the report. No-op without a panic.
func (r *Reporter) Recover(logger *slog.Logger, onPanic func(error)) {
	v := recover()
	if v == nil {
		return
	}

	cause := fmt.Sprintf("panic: %v", v)
	stack := debug.Stack()

	if logger == nil {
		logger = slog.Default()
	}

	logger.Error("panic recovered", "error", cause)

	if r != nil {
		if path, err := r.Write(cause, stack); err != nil {
			logger.Error("failed to write crash report", "error", err)
		} else {
			logger.Error("crash report written", "path", path)
		}
	}

	if onPanic != nil {
		onPanic(errors.New(cause))
	}
}
