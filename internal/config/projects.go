package config

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/docmirror/docmirror/internal/sync"
)

// dedicatedStoreFile is the database file name for projects registered
// without an explicit store path. It lives under sync.StoreDirName inside
// the project root, which the filter always deny-lists so store writes
// never feed back into the watcher.
const dedicatedStoreFile = "index.db"

// ResolveProjects turns the [project.<key>] registrations into sync.Project
// values ready for the supervisor, sorted by key for deterministic startup
// order. Global [scan] settings apply to every project unless the project
// section overrides them.
func (c *Config) ResolveProjects() []*sync.Project {
	keys := make([]string, 0, len(c.Projects))
	for key := range c.Projects {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	projects := make([]*sync.Project, 0, len(keys))
	for _, key := range keys {
		projects = append(projects, c.resolveProject(key))
	}

	return projects
}

// ResolveProject resolves a single registration by key. Returns nil when
// the key is not registered.
func (c *Config) ResolveProject(key string) *sync.Project {
	if _, ok := c.Projects[key]; !ok {
		return nil
	}

	return c.resolveProject(key)
}

// resolveProject builds a sync.Project by starting with global scan settings
// and applying per-project overrides for fields the registration specifies.
func (c *Config) resolveProject(key string) *sync.Project {
	reg := c.Projects[key]
	root := expandTilde(reg.Root)

	store := expandTilde(reg.Store)
	if store == "" {
		store = filepath.Join(root, sync.StoreDirName, dedicatedStoreFile)
	}

	allow := c.Scan.AllowPatterns
	if len(reg.AllowPatterns) > 0 {
		allow = reg.AllowPatterns
	}

	ignoreFile := c.Scan.IgnoreFile
	if reg.IgnoreFile != "" {
		ignoreFile = reg.IgnoreFile
	}

	return &sync.Project{
		Key:           key,
		Root:          root,
		StorePath:     store,
		AllowPatterns: allow,
		IgnoreFile:    ignoreFile,
	}
}

// expandTilde replaces a leading "~/" with the user's home directory.
// If os.UserHomeDir() fails, the path is returned unexpanded. This is safe
// because validation catches non-absolute paths downstream and reports a
// clear error to the user.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, path[2:])
}
