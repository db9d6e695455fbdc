package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/docmirror/docmirror/internal/config"
	"github.com/docmirror/docmirror/internal/crashlog"
	"github.com/docmirror/docmirror/internal/sync"
)

// Fallback daemon timings, used only if a reloaded config slips past
// validation with an unparseable duration.
const (
	fallbackShutdownTimeout = 10 * time.Second
	fallbackStatusInterval  = 30 * time.Second
)

func newDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the mirror daemon in the foreground",
		Long: `Run the docmirror daemon: one watcher per registered project keeps the
document store converged with the tree on disk.

The daemon runs in the foreground; use a service manager for backgrounding.
SIGHUP reloads the project registry and triggers a full resync. SIGINT or
SIGTERM shuts down gracefully; a second signal forces exit.`,
		Args: cobra.NoArgs,
		RunE: runDaemon,
	}
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	logger := buildDaemonLogger(cc.Cfg.Logging)
	reporter := crashlog.NewReporter(config.CrashReportDir(), version, logger)

	// Top-level crash capture: an escaped fault is persisted as a crash
	// report before the error reaches the operator.
	var runErr error

	func() {
		defer reporter.Recover(logger, func(err error) { runErr = err })
		runErr = runDaemonLoop(cmd.Context(), cc, logger, reporter)
	}()

	return runErr
}

// buildDaemonLogger creates the rotating-file logger for daemon mode.
// An empty log_file means the platform state directory. The "auto" format
// resolves to JSON since the destination is a file, never a terminal.
func buildDaemonLogger(lc config.LoggingConfig) *slog.Logger {
	path := lc.LogFile
	if path == "" {
		path = config.DefaultLogFile()
	}

	w := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    lc.LogMaxSizeMB,
		MaxBackups: lc.LogMaxBackups,
	}

	opts := &slog.HandlerOptions{Level: parseLogLevel(lc.LogLevel)}

	if lc.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}

	return slog.New(slog.NewJSONHandler(w, opts))
}

// runDaemonLoop owns the daemon lifecycle: PID file, stores, supervisor,
// signal handling, and the status snapshot writer.
func runDaemonLoop(parent context.Context, cc *CLIContext, logger *slog.Logger, reporter *crashlog.Reporter) error {
	cleanup, err := writePIDFile(config.PIDFilePath())
	if err != nil {
		return err
	}
	defer cleanup()

	logger.Info("daemon starting",
		slog.String("version", version),
		slog.Int("pid", os.Getpid()),
		slog.String("config", cc.CfgPath),
		slog.Int("projects", len(cc.Cfg.Projects)),
	)

	holder := config.NewHolder(cc.Cfg, cc.CfgPath)
	stores := sync.NewStoreManager(logger)

	defer func() {
		if err := stores.CloseAll(); err != nil {
			logger.Warn("closing stores", slog.Any("error", err))
		}
	}()

	sup := sync.NewSupervisor(stores, reporter, logger)

	// First INT/TERM cancels ctx for a graceful drain; the second force-exits.
	ctx := shutdownContext(parent, logger)

	if err := sup.Start(ctx, cc.Cfg.ResolveProjects()); err != nil {
		return fmt.Errorf("starting supervisor: %w", err)
	}

	startedAt := time.Now().UTC()
	statusPath := config.StatusFilePath()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		defer reporter.Recover(logger, func(perr error) { err = perr })

		return runReloadLoop(gctx, holder, sup, logger)
	})

	g.Go(func() (err error) {
		defer reporter.Recover(logger, func(perr error) { err = perr })

		interval := parseDurationOr(holder.Config().Daemon.StatusInterval, fallbackStatusInterval)

		return runStatusWriter(gctx, sup, statusPath, startedAt, interval, logger)
	})

	err = g.Wait()

	// Orderly shutdown, bounded: if draining exceeds the configured timeout
	// the process force-exits rather than hanging the service manager.
	timeout := parseDurationOr(holder.Config().Daemon.ShutdownTimeout, fallbackShutdownTimeout)

	force := time.AfterFunc(timeout, func() {
		logger.Error("shutdown deadline exceeded, forcing exit", slog.Duration("timeout", timeout))
		os.Exit(1)
	})
	defer force.Stop()

	stopCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	sup.Stop(stopCtx)

	if cpErr := stores.Checkpoint(); cpErr != nil {
		logger.Warn("final store checkpoint failed", slog.Any("error", cpErr))
	}

	// Final snapshot records the stopped watcher states for the status
	// command until the next daemon start overwrites it.
	writeDaemonStatus(stopCtx, sup, statusPath, startedAt, logger)

	logger.Info("daemon stopped")

	return err
}

// runReloadLoop handles SIGHUP: reload the registry from disk, diff the
// supervisor's project set, then resync every project. Registration
// commands and the resync command both deliver this signal.
func runReloadLoop(ctx context.Context, holder *config.Holder, sup *sync.Supervisor, logger *slog.Logger) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			logger.Info("SIGHUP received, reloading registry and resyncing")
			reloadAndResync(ctx, holder, sup, logger)
		}
	}
}

// reloadAndResync reloads config from disk and applies the new project set.
// A reload failure keeps the previous registry; the resync still runs since
// the signal may have been sent purely to trigger one.
func reloadAndResync(ctx context.Context, holder *config.Holder, sup *sync.Supervisor, logger *slog.Logger) {
	cfg, err := config.LoadOrDefault(holder.Path())
	if err != nil {
		logger.Error("config reload failed, keeping previous registry", slog.Any("error", err))
	} else {
		holder.Update(cfg)
		sup.Reload(ctx, cfg.ResolveProjects())
	}

	if err := sup.ResyncAll(ctx); err != nil {
		logger.Warn("resync completed with errors", slog.Any("error", err))
	}
}

// statusSnapshot is the JSON document the daemon writes to the status file
// and the status command reads back.
type statusSnapshot struct {
	PID       int                   `json:"pid"`
	Version   string                `json:"version"`
	StartedAt string                `json:"started_at"`
	UpdatedAt string                `json:"updated_at"`
	Projects  []*sync.ProjectStatus `json:"projects"`
}

// runStatusWriter rewrites the status snapshot on an interval. The first
// write happens immediately so the status command works as soon as the
// daemon is up.
func runStatusWriter(
	ctx context.Context, sup *sync.Supervisor, path string,
	startedAt time.Time, interval time.Duration, logger *slog.Logger,
) error {
	writeDaemonStatus(ctx, sup, path, startedAt, logger)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			writeDaemonStatus(ctx, sup, path, startedAt, logger)
		}
	}
}

// writeDaemonStatus captures a supervisor snapshot and writes it atomically
// (temp file + rename). Write failures are logged, never escalated: a
// missing snapshot only degrades the status command.
func writeDaemonStatus(
	ctx context.Context, sup *sync.Supervisor, path string,
	startedAt time.Time, logger *slog.Logger,
) {
	if path == "" {
		return
	}

	snap := statusSnapshot{
		PID:       os.Getpid(),
		Version:   version,
		StartedAt: startedAt.Format(time.RFC3339),
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
		Projects:  sup.Status(ctx),
	}

	data, err := json.MarshalIndent(&snap, "", "  ")
	if err != nil {
		logger.Warn("status snapshot encode failed", slog.Any("error", err))

		return
	}

	if err := writeFileAtomic(path, data); err != nil {
		logger.Warn("status snapshot write failed", slog.String("path", path), slog.Any("error", err))
	}
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it into place so readers never observe a partial snapshot.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, pidDirPermissions); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".status-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tempPath)

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tempPath)

		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)

		return fmt.Errorf("renaming temp file: %w", err)
	}

	return nil
}

// parseDurationOr parses a duration string, falling back when the value is
// unparseable or non-positive.
func parseDurationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}

	return d
}
