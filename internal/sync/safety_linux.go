//go:build linux

package sync

import "golang.org/x/sys/unix"

// Filesystem magic numbers from statfs(2) for filesystems where inotify
// does not observe changes made by other hosts or by the userspace daemon
// backing the mount.
const (
	nfsSuperMagic  = 0x6969
	smb2SuperMagic = 0xfe534d42
	cifsSuperMagic = 0xff534d42
	fuseSuperMagic = 0x65735546
)

// remoteFilesystem reports whether path sits on a filesystem type where
// kernel change notification is unreliable, and names the type when known.
// A statfs failure is not itself a watch problem; the watcher surfaces
// real errors on its own.
func remoteFilesystem(path string) (bool, string) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return false, ""
	}

	// Type is a signed integer whose width varies by architecture; the
	// magic constants fit in 32 bits.
	switch uint32(stat.Type) {
	case nfsSuperMagic:
		return true, "nfs"
	case smb2SuperMagic:
		return true, "smb2"
	case cifsSuperMagic:
		return true, "cifs"
	case fuseSuperMagic:
		return true, "fuse"
	default:
		return false, ""
	}
}
