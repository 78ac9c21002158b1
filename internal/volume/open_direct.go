package volume

import (
	"os"

	"golang.org/x/sys/unix"
)

// openDirectOrCached prefers O_DIRECT and falls back to cached I/O if the
// kernel or filesystem rejects it (spec §6 "File open flags"), e.g. tmpfs
// and several container overlay filesystems reject O_DIRECT with EINVAL.
func openDirectOrCached(path string, flags int) (*os.File, error) {
	f, err := os.OpenFile(path, flags|unix.O_DIRECT, 0644)
	if err == nil {
		return f, nil
	}
	return os.OpenFile(path, flags, 0644)
}
