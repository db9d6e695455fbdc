// Package testutil provides shared helpers for the end-to-end suite. It
// depends only on stdlib so the black-box E2E tests can stay clear of the
// internal packages whose behavior they exercise through the binary.
package testutil

import (
	"os"
	"path/filepath"
)

// FindModuleRoot walks up from the current directory to find go.mod.
// Returns the fallback if the root is not found.
func FindModuleRoot(fallback string) string {
	dir, err := os.Getwd()
	if err != nil {
		return fallback
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return fallback
		}

		dir = parent
	}
}

// WriteTree materializes a document tree under root: each map key is a
// slash-separated relative path, each value the file content. Parent
// directories are created as needed.
func WriteTree(root string, files map[string]string) error {
	for rel, content := range files {
		full := filepath.Join(root, filepath.FromSlash(rel))

		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return err
		}

		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			return err
		}
	}

	return nil
}
