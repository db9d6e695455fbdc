package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/docmirror/docmirror/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagLogFormat  string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// GlobalFlags carries the persistent flag values into command implementations.
type GlobalFlags struct {
	ConfigPath string
	JSON       bool
	Verbose    bool
	Quiet      bool
}

// CLIContext bundles the resolved configuration, its file path, the logger,
// and global flags. PersistentPreRunE builds one per invocation and attaches
// it to the command context so every RunE reads the same resolved state.
type CLIContext struct {
	Cfg     *config.Config
	CfgPath string
	Logger  *slog.Logger
	Flags   GlobalFlags
}

type cliContextKey struct{}

// withCLIContext attaches the CLIContext to a context.
func withCLIContext(ctx context.Context, cc *CLIContext) context.Context {
	return context.WithValue(ctx, cliContextKey{}, cc)
}

// mustCLIContext retrieves the CLIContext installed by PersistentPreRunE.
// Panics when absent: that means a command ran without the root pre-run,
// which is a wiring bug, not a runtime condition.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		panic("CLIContext missing: command executed without root PersistentPreRunE")
	}

	return cc
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "docmirror",
		Short:   "Mirror document trees into queryable SQLite stores",
		Long: `docmirror watches registered project trees and keeps a relational
mirror of their documents, front matter, and inline annotation markers in
SQLite, so collaborators can query project state without parsing files.`,
		Version: version,
		// Silence Cobra's default error/usage printing; main handles it.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initCLIContext(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "log output format: auto, text, json")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	// Register subcommands.
	cmd.AddCommand(newDaemonCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newResyncCmd())
	cmd.AddCommand(newRegisterCmd())
	cmd.AddCommand(newUnregisterCmd())
	cmd.AddCommand(newProjectsCmd())
	cmd.AddCommand(newScanCmd())
	cmd.AddCommand(newDocsCmd())
	cmd.AddCommand(newMarkersCmd())
	cmd.AddCommand(newResolveCmd())
	cmd.AddCommand(newVerifyCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// initCLIContext resolves the effective configuration from the override
// chain, builds the logger, and installs the CLIContext on the command.
func initCLIContext(cmd *cobra.Command) error {
	flags := GlobalFlags{
		ConfigPath: flagConfigPath,
		JSON:       flagJSON,
		Verbose:    flagVerbose,
		Quiet:      flagQuiet,
	}

	cli := config.CLIOverrides{
		ConfigPath: flags.ConfigPath,
		LogFormat:  flagLogFormat,
	}

	// --verbose and --quiet translate to log level overrides; CLI flags win.
	if flags.Verbose {
		cli.LogLevel = "debug"
	}

	if flags.Quiet {
		cli.LogLevel = "error"
	}

	cfg, cfgPath, err := config.Resolve(config.ReadEnvOverrides(), cli)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cc := &CLIContext{
		Cfg:     cfg,
		CfgPath: cfgPath,
		Logger:  buildLogger(cfg.Logging),
		Flags:   flags,
	}

	cmd.SetContext(withCLIContext(cmd.Context(), cc))

	return nil
}

// buildLogger creates the slog.Logger for CLI commands, writing to stderr.
// The "auto" format picks text on a terminal and JSON otherwise, so piped
// output stays machine-parseable without flags.
func buildLogger(lc config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(lc.LogLevel)}

	format := lc.LogFormat
	if format == "auto" || format == "" {
		if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
			format = "text"
		} else {
			format = "json"
		}
	}

	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}

	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// parseLogLevel maps a config log_level string to a slog.Level.
// Unrecognized values fall back to info; validation rejects them earlier.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
