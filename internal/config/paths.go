package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Platform identifiers.
const (
	platformLinux  = "linux"
	platformDarwin = "darwin"
)

// Application directory name used across all platforms.
const appName = "docmirror"

// Config file name.
const configFileName = "config.toml"

// State file names inside the state directory.
const (
	pidFileName    = "daemon.pid"
	statusFileName = "status.json"
	logFileName    = "docmirror.log"
	crashDirName   = "crash"
)

// DefaultConfigDir returns the platform-specific directory for config files.
// On Linux, respects XDG_CONFIG_HOME (defaults to ~/.config/docmirror).
// On macOS, uses ~/Library/Application Support/docmirror per Apple guidelines.
// Other platforms fall back to ~/.config/docmirror.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return linuxConfigDir(home)
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".config", appName)
	}
}

// linuxConfigDir returns the XDG-compliant config directory for Linux.
func linuxConfigDir(home string) string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(home, ".config", appName)
}

// DefaultStateDir returns the platform-specific directory for runtime state:
// the PID file, the status snapshot, the daemon log, and crash reports.
// On Linux, respects XDG_STATE_HOME (defaults to ~/.local/state/docmirror).
// On macOS, uses ~/Library/Application Support/docmirror (macOS convention
// collapses config and state into one directory).
func DefaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return linuxStateDir(home)
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".local", "state", appName)
	}
}

// linuxStateDir returns the XDG-compliant state directory for Linux.
func linuxStateDir(home string) string {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(home, ".local", "state", appName)
}

// DefaultConfigPath returns the full path to the default config file.
// This is used as the fallback when neither DOCMIRROR_CONFIG nor --config
// is specified.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, configFileName)
}

// PIDFilePath returns the daemon PID file path inside the state directory.
func PIDFilePath() string {
	return stateFile(pidFileName)
}

// StatusFilePath returns the path of the daemon's status snapshot file.
func StatusFilePath() string {
	return stateFile(statusFileName)
}

// DefaultLogFile returns the daemon log file path used when the config
// file does not set log_file.
func DefaultLogFile() string {
	return stateFile(logFileName)
}

// CrashReportDir returns the directory where crash reports are written.
func CrashReportDir() string {
	return stateFile(crashDirName)
}

func stateFile(name string) string {
	dir := DefaultStateDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, name)
}
