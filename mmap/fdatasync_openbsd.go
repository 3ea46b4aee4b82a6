package mmap

import (
	"os"

	"golang.org/x/sys/unix"
)

// OpenBSD lacks a unified buffer cache, so a mapping has to be flushed with
// msync rather than through the file.
func fdatasync(f *os.File, mapping []byte) error {
	if len(mapping) == 0 {
		return f.Sync()
	}
	return unix.Msync(mapping, unix.MS_SYNC|unix.MS_INVALIDATE)
}
