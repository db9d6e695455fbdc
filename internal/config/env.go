package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig   = "DOCMIRROR_CONFIG"
	EnvLogLevel = "DOCMIRROR_LOG_LEVEL"
)

// EnvOverrides holds values derived from environment variables.
// These sit between the config file and CLI flags in the override chain.
type EnvOverrides struct {
	ConfigPath string // DOCMIRROR_CONFIG: override config file path
	LogLevel   string // DOCMIRROR_LOG_LEVEL: override log_level
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; Resolve applies the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		LogLevel:   os.Getenv(EnvLogLevel),
	}
}
