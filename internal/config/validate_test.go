package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_DefaultsAreValid(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

func TestValidate_BadLogLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.LogLevel = "loud"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging")
}

func TestValidate_BadLogFormat(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.LogFormat = "xml"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging")
}

func TestValidate_NegativeLogMaxSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.LogMaxSizeMB = -1

	require.Error(t, cfg.Validate())
}

func TestValidate_NegativeLogMaxBackups(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.LogMaxBackups = -1

	require.Error(t, cfg.Validate())
}

func TestValidate_MalformedShutdownTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Daemon.ShutdownTimeout = "ten seconds"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daemon")
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestValidate_ShutdownTimeoutTooShort(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Daemon.ShutdownTimeout = "100ms"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 1s")
}

func TestValidate_StatusIntervalTooShort(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Daemon.StatusInterval = "10ms"

	require.Error(t, cfg.Validate())
}

func TestValidate_EmptyIgnoreFileRejected(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Scan.IgnoreFile = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scan")
}

func TestValidate_IgnoreFileWithDirectoryRejected(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Scan.IgnoreFile = "conf/.docmirrorignore"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bare file name")
}

func TestValidate_MalformedAllowPattern(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Scan.AllowPatterns = []string{"*.md", "[bad"}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid glob pattern")
}

func TestValidate_EmptyAllowPatternRejected(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Scan.AllowPatterns = []string{""}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pattern must not be empty")
}

// --- Project registration validation ---

func TestValidate_ProjectMissingRoot(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Projects["notes"] = ProjectConfig{}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `project "notes"`)
}

func TestValidate_ProjectRelativeRootRejected(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Projects["notes"] = ProjectConfig{Root: "notes/dir"}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "absolute path")
}

func TestValidate_ProjectTildeRootAccepted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Projects["notes"] = ProjectConfig{Root: "~/notes"}

	assert.NoError(t, cfg.Validate())
}

func TestValidate_ProjectRelativeStoreRejected(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Projects["notes"] = ProjectConfig{Root: "/home/user/notes", Store: "store.db"}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "absolute path")
}

func TestValidate_ProjectKeyWithDotRejected(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Projects["a.b"] = ProjectConfig{Root: "/home/user/notes"}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key must contain")
}

func TestValidate_ProjectKeyWithSpaceRejected(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Projects["my notes"] = ProjectConfig{Root: "/home/user/notes"}

	require.Error(t, cfg.Validate())
}

func TestValidate_ProjectBadAllowPattern(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Projects["notes"] = ProjectConfig{Root: "/home/user/notes", AllowPatterns: []string{"[x"}}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `project "notes"`)
}

func TestValidate_AccumulatesAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.LogLevel = "loud"
	cfg.Daemon.StatusInterval = "nope"
	cfg.Projects["bad key!"] = ProjectConfig{}

	err := cfg.Validate()
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, "logging")
	assert.Contains(t, msg, "daemon")
	assert.Contains(t, msg, "bad key!")
}
