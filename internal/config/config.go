// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for docmirror. Settings resolve through
// a three-layer override chain (defaults -> config file -> environment/CLI
// flags), and project registrations live in the same file as [project.<key>]
// sections so one file describes the whole installation.
package config

// Config is the top-level configuration structure parsed from a TOML file.
// Global sections control logging, scan behavior, and daemon timing; each
// [project.<key>] section registers one document tree to mirror.
type Config struct {
	Logging  LoggingConfig            `toml:"logging" json:"logging"`
	Scan     ScanConfig               `toml:"scan" json:"scan"`
	Daemon   DaemonConfig             `toml:"daemon" json:"daemon"`
	Projects map[string]ProjectConfig `toml:"project" json:"project"`
}

// LoggingConfig controls log output behavior: level, format, destination,
// and rotation. An empty log_file means the platform state directory.
type LoggingConfig struct {
	LogLevel      string `toml:"log_level" json:"log_level"`
	LogFile       string `toml:"log_file" json:"log_file"`
	LogFormat     string `toml:"log_format" json:"log_format"`
	LogMaxSizeMB  int    `toml:"log_max_size_mb" json:"log_max_size_mb"`
	LogMaxBackups int    `toml:"log_max_backups" json:"log_max_backups"`
}

// ScanConfig controls which files are mirrored. allow_patterns replaces the
// built-in document patterns when set; ignore_file names the per-project
// deny-pattern file read from each project root.
type ScanConfig struct {
	AllowPatterns []string `toml:"allow_patterns" json:"allow_patterns"`
	IgnoreFile    string   `toml:"ignore_file" json:"ignore_file"`
}

// DaemonConfig controls daemon timing: how long shutdown waits for watchers
// to stop and how often the status snapshot file is rewritten.
type DaemonConfig struct {
	ShutdownTimeout string `toml:"shutdown_timeout" json:"shutdown_timeout"`
	StatusInterval  string `toml:"status_interval" json:"status_interval"`
}

// ProjectConfig is one project registration. Root is the document tree to
// mirror. Store is the SQLite database path; empty means a dedicated store
// inside the project root. allow_patterns and ignore_file override the
// global [scan] section for this project only.
type ProjectConfig struct {
	Root          string   `toml:"root" json:"root"`
	Store         string   `toml:"store,omitempty" json:"store,omitempty"`
	AllowPatterns []string `toml:"allow_patterns,omitempty" json:"allow_patterns,omitempty"`
	IgnoreFile    string   `toml:"ignore_file,omitempty" json:"ignore_file,omitempty"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Empty string means the flag was not passed.
type CLIOverrides struct {
	ConfigPath string // --config flag
	LogLevel   string // derived from --verbose / --quiet
	LogFormat  string // --json switches log output to JSON
}
