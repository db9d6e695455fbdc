//go:build darwin

package sync

import "golang.org/x/sys/unix"

// remoteFilesystem reports whether path sits on a filesystem type where
// kernel change notification is unreliable, along with a short name for
// logging. Darwin exposes the filesystem type by name rather than magic
// number.
func remoteFilesystem(path string) (bool, string) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		// Statfs failing is not itself a reason to distrust the root.
		return false, ""
	}

	name := unix.ByteSliceToString(stat.Fstypename[:])
	switch name {
	case "nfs", "smbfs", "webdav", "osxfuse", "macfuse":
		return true, name
	default:
		return false, ""
	}
}
