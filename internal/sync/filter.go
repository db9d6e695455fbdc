package sync

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

// StoreDirName is the directory under a project root that holds the project's
// dedicated store database. It is always excluded from tracking so store
// writes never feed back into the watcher.
const StoreDirName = ".docmirror"

// DefaultIgnoreFileName is the per-project ignore file read for deny patterns.
const DefaultIgnoreFileName = ".docmirrorignore"

// defaultAllowPatterns restrict tracking to document files when a project
// supplies no allow patterns of its own.
var defaultAllowPatterns = []string{"*.md", "*.markdown", "*.feature"}

// alwaysDenyLines are excluded regardless of the project's ignore file:
// VCS internals, the store directory, and dependency trees.
var alwaysDenyLines = []string{
	".git/",
	StoreDirName + "/",
	"node_modules/",
}

// Filter classifies relative paths as tracked or ignored. Deny rules use
// version-control-ignore semantics sourced from the project's ignore file;
// allow rules are ordered globs matched against the basename and the full
// relative path. A path is tracked iff it matches at least one allow pattern
// and no deny pattern. ShouldTrack touches no filesystem state.
type Filter struct {
	allow  []string
	deny   *ignore.GitIgnore
	logger *slog.Logger
}

// NewFilter builds a filter from the project's allow patterns and the lines
// of its ignore file. Nil or empty allowPatterns fall back to the documented
// defaults. Negation lines are unsupported ignore syntax: they are skipped
// with a log entry, never inverted.
func NewFilter(allowPatterns, ignoreLines []string, logger *slog.Logger) *Filter {
	allow := allowPatterns
	if len(allow) == 0 {
		allow = defaultAllowPatterns
	}

	lines := make([]string, 0, len(alwaysDenyLines)+len(ignoreLines))
	lines = append(lines, alwaysDenyLines...)

	for _, raw := range ignoreLines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "!") {
			logger.Debug("negation patterns are unsupported, skipping", "pattern", line)
			continue
		}

		lines = append(lines, line)
	}

	return &Filter{
		allow:  allow,
		deny:   ignore.CompileIgnoreLines(lines...),
		logger: logger,
	}
}

// ShouldTrack reports whether relPath belongs in the mirror. Directories are
// evaluated against deny rules only, so callers can prune walks; files must
// additionally match an allow pattern.
func (f *Filter) ShouldTrack(relPath string, isDir bool) bool {
	rel := filepath.ToSlash(relPath)
	if rel == "" || rel == "." {
		// The root itself is always traversable, never a document.
		return isDir
	}

	// go-gitignore expects forward slashes and a trailing slash for dirs.
	matchPath := rel
	if isDir {
		matchPath += "/"
	}

	if f.deny.MatchesPath(matchPath) {
		f.logger.Debug("path excluded by deny rules", "path", rel, "dir", isDir)
		return false
	}

	if isDir {
		return true
	}

	if !f.matchesAllow(rel) {
		f.logger.Debug("path outside allow patterns", "path", rel)
		return false
	}

	return true
}

// matchesAllow checks the ordered allow globs against the basename and the
// full relative path. Malformed patterns are logged and skipped rather than
// failing the whole filter.
func (f *Filter) matchesAllow(rel string) bool {
	base := path.Base(rel)

	for _, pattern := range f.allow {
		for _, candidate := range []string{base, rel} {
			matched, err := path.Match(pattern, candidate)
			if err != nil {
				f.logger.Warn("malformed allow pattern, skipping", "pattern", pattern, "error", err)
				break
			}

			if matched {
				return true
			}
		}
	}

	return false
}

// LoadIgnoreLines reads the project's ignore file from its root. A missing
// file is not an error: the project simply carries no deny rules of its own
// beyond the built-in set.
func LoadIgnoreLines(root, name string) ([]string, error) {
	if name == "" {
		name = DefaultIgnoreFileName
	}

	file, err := os.Open(filepath.Join(root, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("open ignore file %s: %w", name, err)
	}
	defer file.Close()

	var lines []string

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ignore file %s: %w", name, err)
	}

	return lines, nil
}
