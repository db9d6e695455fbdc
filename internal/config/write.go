package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// configFilePermissions is the standard permission mode for config files.
// Owner read/write, group and others read-only.
const configFilePermissions = 0o644

// configDirPermissions is the standard permission mode for config directories.
const configDirPermissions = 0o755

// configTemplate is the default config file content written when the first
// project is registered. All global settings are present as commented-out
// defaults so users can discover every option without reading docs. This
// template is written once and never regenerated, so user modifications are
// preserved by subsequent text-level edits.
const configTemplate = `# docmirror configuration

# ── Logging ──
# [logging]
# log_level = "info"     # debug, info, warn, error
# log_file = ""          # default: platform state directory
# log_format = "auto"    # auto, text, json
# log_max_size_mb = 10
# log_max_backups = 5

# ── Scanning ──
# [scan]
# allow_patterns = ["*.md", "*.markdown", "*.feature"]
# ignore_file = ".docmirrorignore"

# ── Daemon ──
# [daemon]
# shutdown_timeout = "10s"
# status_interval = "30s"

# ── Projects ──
# Added automatically by 'register'. Each section mirrors one document tree.
`

// projectSection generates the TOML text for a new project section. The
// blank line before the header visually separates project sections from
// each other and from the global settings. An empty store means the project
// uses a dedicated database inside its root.
func projectSection(key, root, store string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "\n[project.%s]\nroot = %q\n", key, root)

	if store != "" {
		fmt.Fprintf(&b, "store = %q\n", store)
	}

	return b.String()
}

// RegisterProject adds a [project.<key>] section to the config file,
// creating the file from the default template if it does not exist yet.
// The write is atomic (temp file + rename) and parent directories are
// created as needed. Registering a key that already has a section is an
// error; unregister it first.
func RegisterProject(path, key, root, store string) error {
	if !projectKeyPattern.MatchString(key) {
		return fmt.Errorf("invalid project key %q: use letters, digits, '-' and '_'", key)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("reading config file: %w", err)
		}

		content := configTemplate + projectSection(key, root, store)

		return atomicWriteFile(path, []byte(content))
	}

	content := string(data)

	lines := strings.Split(content, "\n")
	if headerLine, _ := findProjectHeader(lines, key); headerLine >= 0 {
		return fmt.Errorf("project %q is already registered in %s", key, path)
	}

	// Ensure the file ends with a newline before appending, so the new
	// section header starts on its own line.
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}

	content += projectSection(key, root, store)

	return atomicWriteFile(path, []byte(content))
}

// UnregisterProject removes a [project.<key>] section (header plus all keys)
// from the config file. Blank lines immediately preceding the header are
// removed as well for clean formatting.
func UnregisterProject(path, key string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	lines := strings.Split(string(data), "\n")

	headerLine, sectionStart := findProjectHeader(lines, key)
	if sectionStart < 0 {
		return fmt.Errorf("project %q is not registered in %s", key, path)
	}

	sectionEnd := findSectionEnd(lines, sectionStart)

	// Remove preceding blank lines for clean formatting. Start from the
	// header line itself so the entire section (header + content) is deleted.
	blankStart := headerLine
	for blankStart > 0 && strings.TrimSpace(lines[blankStart-1]) == "" {
		blankStart--
	}

	lines = append(lines[:blankStart], lines[sectionEnd:]...)

	return atomicWriteFile(path, []byte(strings.Join(lines, "\n")))
}

// findProjectHeader locates the line index of a project section header.
// Returns the header line index and the section content start (header + 1).
// Returns -1 for both if the section is not found.
func findProjectHeader(lines []string, key string) (int, int) {
	header := fmt.Sprintf("[%s.%s]", projectSectionName, key)

	for i, line := range lines {
		if strings.TrimSpace(line) == header {
			return i, i + 1
		}
	}

	return -1, -1
}

// findSectionEnd returns the index of the first line after the section's
// own content. This excludes blank lines and comments that precede the
// next section header (those belong to the next section's preamble, not
// this section's content).
func findSectionEnd(lines []string, sectionStart int) int {
	nextHeader := len(lines)

	for i := sectionStart; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if strings.HasPrefix(trimmed, "[") {
			nextHeader = i

			break
		}
	}

	// Walk backwards from the next section header to skip blank lines and
	// comment lines that belong to the next section's preamble.
	end := nextHeader
	for end > sectionStart {
		trimmed := strings.TrimSpace(lines[end-1])
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			end--

			continue
		}

		break
	}

	return end
}

// atomicWriteFile writes data to a temporary file in the same directory as
// path, then renames it to the target path. This prevents partial writes
// from corrupting the config file on crash. Parent directories are created
// as needed. Files are created with configFilePermissions (0644).
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()

	// Clean up the temp file on any error path.
	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
