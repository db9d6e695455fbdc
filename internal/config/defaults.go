package config

// Default values for configuration options. These are the "layer 0" of the
// override chain and are chosen so a zero-config first run works: info-level
// logging to the state directory, built-in document patterns, and daemon
// timing that shuts down promptly without dropping in-flight passes.
const (
	defaultLogLevel        = "info"
	defaultLogFormat       = "auto"
	defaultLogMaxSizeMB    = 10
	defaultLogMaxBackups   = 5
	defaultIgnoreFile      = ".docmirrorignore"
	defaultShutdownTimeout = "10s"
	defaultStatusInterval  = "30s"
)

// DefaultConfig returns a Config populated with all default values.
// This is used both as the starting point for TOML decoding (so unset
// fields retain defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Logging:  defaultLoggingConfig(),
		Scan:     defaultScanConfig(),
		Daemon:   defaultDaemonConfig(),
		Projects: make(map[string]ProjectConfig),
	}
}

func defaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		LogLevel:      defaultLogLevel,
		LogFormat:     defaultLogFormat,
		LogMaxSizeMB:  defaultLogMaxSizeMB,
		LogMaxBackups: defaultLogMaxBackups,
	}
}

func defaultScanConfig() ScanConfig {
	return ScanConfig{
		IgnoreFile: defaultIgnoreFile,
	}
}

func defaultDaemonConfig() DaemonConfig {
	return DaemonConfig{
		ShutdownTimeout: defaultShutdownTimeout,
		StatusInterval:  defaultStatusInterval,
	}
}
