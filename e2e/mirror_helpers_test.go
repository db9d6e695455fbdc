//go:build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/docmirror/docmirror/testutil"
)

// --- JSON mirrors of the binary's output schemas ---

// projectListing mirrors `docmirror projects --json`.
type projectListing struct {
	Key           string   `json:"key"`
	Root          string   `json:"root"`
	Store         string   `json:"store"`
	AllowPatterns []string `json:"allow_patterns"`
	IgnoreFile    string   `json:"ignore_file"`
}

// docListing mirrors `docmirror docs --json`.
type docListing struct {
	Path           string         `json:"path"`
	Filename       string         `json:"filename"`
	Status         string         `json:"status"`
	Version        string         `json:"version"`
	Summary        string         `json:"summary"`
	Modules        []string       `json:"modules"`
	DependsOn      []string       `json:"depends_on"`
	Authors        []string       `json:"authors"`
	Extra          map[string]any `json:"extra"`
	Fingerprint    string         `json:"fingerprint"`
	Size           int64          `json:"size"`
	HasFrontMatter bool           `json:"has_front_matter"`
	ScannedAt      string         `json:"scanned_at"`
	UpdatedAt      string         `json:"updated_at"`
}

// markerListing mirrors `docmirror markers --json`.
type markerListing struct {
	ID       int64  `json:"id"`
	Document string `json:"document"`
	Line     int    `json:"line"`
	Kind     string `json:"kind"`
	Text     string `json:"text"`
	Resolved bool   `json:"resolved"`
}

// driftReport mirrors `docmirror verify --json`.
type driftReport struct {
	Project  string       `json:"project"`
	Verified int          `json:"verified"`
	Skipped  int          `json:"skipped"`
	Drift    []driftEntry `json:"drift"`
}

type driftEntry struct {
	Path   string `json:"path"`
	Status string `json:"status"`
}

// statusReport mirrors `docmirror status --json`.
type statusReport struct {
	DaemonRunning bool            `json:"daemon_running"`
	PID           int             `json:"pid"`
	Version       string          `json:"version"`
	StartedAt     string          `json:"started_at"`
	UpdatedAt     string          `json:"updated_at"`
	Projects      []projectStatus `json:"projects"`
}

type projectStatus struct {
	Project    string `json:"project"`
	Root       string `json:"root"`
	State      string `json:"state"`
	Failures   int    `json:"failures"`
	LastSyncAt int64  `json:"last_sync_at"`
	Documents  int64  `json:"documents"`
	LastError  string `json:"last_error"`
}

// unmarshalOutput parses one command's JSON output.
func unmarshalOutput[T any](t *testing.T, raw string) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal([]byte(raw), &v), "parsing JSON output: %s", raw)

	return v
}

// docsJSON lists a project's documents through the global config.
func docsJSON(t *testing.T, key string) []docListing {
	t.Helper()

	stdout, _ := runCLI(t, "docs", key, "--json")

	return unmarshalOutput[[]docListing](t, stdout)
}

// markersJSON lists a project's markers through the global config.
func markersJSON(t *testing.T, key string) []markerListing {
	t.Helper()

	stdout, _ := runCLI(t, "markers", key, "--json")

	return unmarshalOutput[[]markerListing](t, stdout)
}

// docByPath finds one listing by relative path, failing the test if absent.
func docByPath(t *testing.T, docs []docListing, path string) docListing {
	t.Helper()

	for _, d := range docs {
		if d.Path == path {
			return d
		}
	}

	t.Fatalf("document %q not in listing: %+v", path, docs)

	return docListing{}
}

// markerByText finds one marker by its text, failing the test if absent.
func markerByText(t *testing.T, markers []markerListing, text string) markerListing {
	t.Helper()

	for _, m := range markers {
		if m.Text == text {
			return m
		}
	}

	t.Fatalf("marker %q not in listing: %+v", text, markers)

	return markerListing{}
}

// --- Per-test environment ---

// mirrorEnvOpts configures optional registry settings for a mirror test
// environment.
type mirrorEnvOpts struct {
	allowPatterns []string // per-project allow patterns
	ignoreLines   []string // written to the project's ignore file
	store         string   // explicit store path; empty means dedicated
}

// mirrorEnv is an isolated environment for one mirror test: its own document
// tree, its own config file, and by default its own dedicated store. All
// commands run against this config, so parallel-unsafe global state is
// limited to the shared daemon PID and status files.
type mirrorEnv struct {
	t          *testing.T
	key        string
	treeDir    string
	configPath string
}

// newMirrorEnv creates a registered project in a fresh temp tree.
func newMirrorEnv(t *testing.T, key string, opts mirrorEnvOpts) *mirrorEnv {
	t.Helper()

	tmpRoot := t.TempDir()
	treeDir := filepath.Join(tmpRoot, "docs")
	require.NoError(t, os.MkdirAll(treeDir, 0o755))

	configPath := filepath.Join(tmpRoot, "config.toml")
	writeMirrorConfig(t, configPath, key, treeDir, opts)

	if len(opts.ignoreLines) > 0 {
		ignorePath := filepath.Join(treeDir, ".docmirrorignore")
		require.NoError(t, os.WriteFile(ignorePath,
			[]byte(strings.Join(opts.ignoreLines, "\n")+"\n"), 0o644))
	}

	return &mirrorEnv{
		t:          t,
		key:        key,
		treeDir:    treeDir,
		configPath: configPath,
	}
}

// writeMirrorConfig writes a TOML config registering a single project.
func writeMirrorConfig(t *testing.T, path, key, root string, opts mirrorEnvOpts) {
	t.Helper()

	var buf bytes.Buffer

	fmt.Fprintf(&buf, "[project.%s]\n", key)
	fmt.Fprintf(&buf, "root = %q\n", root)

	if opts.store != "" {
		fmt.Fprintf(&buf, "store = %q\n", opts.store)
	}

	if len(opts.allowPatterns) > 0 {
		fmt.Fprintf(&buf, "allow_patterns = [%s]\n", quotedSlice(opts.allowPatterns))
	}

	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

// quotedSlice formats a string slice as a TOML inline array: "a", "b", "c".
func quotedSlice(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = fmt.Sprintf("%q", item)
	}

	return strings.Join(quoted, ", ")
}

// --- CLI runners (all pass the environment's config) ---

func (env *mirrorEnv) runRaw(args ...string) (string, string, error) {
	env.t.Helper()

	fullArgs := append([]string{"--config", env.configPath}, args...)

	return runCLIRaw(fullArgs...)
}

func (env *mirrorEnv) run(args ...string) (string, string) {
	env.t.Helper()

	stdout, stderr, err := env.runRaw(args...)
	if err != nil {
		env.t.Fatalf("command %v failed: %v\nstdout: %s\nstderr: %s", args, err, stdout, stderr)
	}

	return stdout, stderr
}

// scan runs a one-shot scan of the environment's project.
func (env *mirrorEnv) scan() string {
	env.t.Helper()

	stdout, _ := env.run("scan", env.key)

	return stdout
}

func (env *mirrorEnv) docsJSON() []docListing {
	env.t.Helper()

	stdout, _ := env.run("docs", env.key, "--json")

	return unmarshalOutput[[]docListing](env.t, stdout)
}

func (env *mirrorEnv) markersJSON() []markerListing {
	env.t.Helper()

	stdout, _ := env.run("markers", env.key, "--json")

	return unmarshalOutput[[]markerListing](env.t, stdout)
}

// verifyJSON runs verify and parses its report. Drift makes the command exit
// non-zero; the report is written first, so both outcomes parse.
func (env *mirrorEnv) verifyJSON() driftReport {
	env.t.Helper()

	stdout, _, _ := env.runRaw("verify", env.key, "--json")

	return unmarshalOutput[driftReport](env.t, stdout)
}

func (env *mirrorEnv) resolveMarker(id int64) {
	env.t.Helper()
	env.run("resolve", env.key, fmt.Sprintf("%d", id))
}

// --- Local tree operations ---

// writeDoc writes content to a file relative to the tree, creating parents.
func (env *mirrorEnv) writeDoc(relPath, content string) {
	env.t.Helper()
	require.NoError(env.t, testutil.WriteTree(env.treeDir, map[string]string{relPath: content}))
}

// removeDoc deletes a file or directory relative to the tree.
func (env *mirrorEnv) removeDoc(relPath string) {
	env.t.Helper()
	require.NoError(env.t, os.RemoveAll(filepath.Join(env.treeDir, filepath.FromSlash(relPath))))
}
