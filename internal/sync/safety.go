package sync

import (
	"fmt"
	"log/slog"
	"os"
)

// CheckWatchRoot validates a project root before a watcher starts: the root
// must exist and be a directory, and the filesystem should be one where
// change notification works. Network and userspace filesystems deliver
// incomplete events, so those log a warning rather than fail the project;
// SIGHUP-triggered resyncs still converge the store.
func CheckWatchRoot(root string, logger *slog.Logger) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("project root: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("project root %s is not a directory", root)
	}

	if remote, fsName := remoteFilesystem(root); remote {
		logger.Warn("project root is on a network or userspace filesystem, change events may be missed",
			"root", root, "filesystem", fsName)
	}

	return nil
}
