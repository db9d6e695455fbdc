package config

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Validation bounds.
const (
	minShutdownTimeout = 1 * time.Second
	minStatusInterval  = 1 * time.Second
)

// projectKeyPattern restricts project keys to bare TOML key characters.
// Dots are excluded deliberately: [project.a.b] would parse as a nested
// table rather than a project named "a.b".
var projectKeyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func (c *Config) Validate() error {
	var errs []error

	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}

	if err := c.Scan.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("scan: %w", err))
	}

	if err := c.Daemon.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("daemon: %w", err))
	}

	keys := make([]string, 0, len(c.Projects))
	for key := range c.Projects {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	for _, key := range keys {
		if !projectKeyPattern.MatchString(key) {
			errs = append(errs, fmt.Errorf(
				"project %q: key must contain only letters, digits, '-' and '_' and start with a letter or digit", key))
		}

		p := c.Projects[key]
		if err := p.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("project %q: %w", key, err))
		}
	}

	return errors.Join(errs...)
}

// Validate checks the logging section.
func (l LoggingConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.LogLevel, validation.Required,
			validation.In("debug", "info", "warn", "error")),
		validation.Field(&l.LogFormat, validation.Required,
			validation.In("auto", "text", "json")),
		validation.Field(&l.LogMaxSizeMB, validation.Min(1)),
		validation.Field(&l.LogMaxBackups, validation.Min(0)),
	)
}

// Validate checks the scan section.
func (s ScanConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.AllowPatterns, validation.Each(validation.By(globPattern))),
		validation.Field(&s.IgnoreFile, validation.Required, validation.By(bareFileName)),
	)
}

// Validate checks the daemon section.
func (d DaemonConfig) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.ShutdownTimeout, validation.Required,
			validation.By(durationAtLeast(minShutdownTimeout))),
		validation.Field(&d.StatusInterval, validation.Required,
			validation.By(durationAtLeast(minStatusInterval))),
	)
}

// Validate checks a single project registration.
func (p ProjectConfig) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Root, validation.Required, validation.By(absoluteAfterExpansion)),
		validation.Field(&p.Store, validation.By(absoluteAfterExpansion)),
		validation.Field(&p.AllowPatterns, validation.Each(validation.By(globPattern))),
		validation.Field(&p.IgnoreFile, validation.By(bareFileName)),
	)
}

// durationAtLeast builds a rule that parses a duration string and enforces
// a lower bound.
func durationAtLeast(minimum time.Duration) validation.RuleFunc {
	return func(value interface{}) error {
		s, _ := value.(string)
		if s == "" {
			return nil
		}

		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}

		if d < minimum {
			return fmt.Errorf("must be at least %s, got %s", minimum, d)
		}

		return nil
	}
}

// absoluteAfterExpansion requires a path to be absolute once a leading "~/"
// has been expanded. Relative paths would resolve differently depending on
// the working directory of whichever process reads the config.
func absoluteAfterExpansion(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}

	if expanded := expandTilde(s); !filepath.IsAbs(expanded) {
		return fmt.Errorf("must be an absolute path after ~ expansion, got %q", s)
	}

	return nil
}

// globPattern rejects allow patterns that path.Match cannot parse, so typos
// surface at load time instead of being skipped during scans.
func globPattern(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return errors.New("pattern must not be empty")
	}

	if _, err := path.Match(s, "probe"); err != nil {
		return fmt.Errorf("invalid glob pattern %q: %w", s, err)
	}

	return nil
}

// bareFileName requires a plain file name with no directory components.
// The ignore file is always read from the project root.
func bareFileName(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}

	if filepath.Base(s) != s {
		return fmt.Errorf("must be a bare file name, got %q", s)
	}

	return nil
}
