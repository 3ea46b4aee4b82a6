package mmap

import (
	"os"
	"unsafe"

	"golang.org/x/sys/windows"
)

// Dirty views are written back by FlushViewOfFile; FlushFileBuffers (f.Sync)
// then pushes them to the disk.
func fdatasync(f *os.File, mapping []byte) error {
	if len(mapping) > 0 {
		if err := windows.FlushViewOfFile(uintptr(unsafe.Pointer(&mapping[0])), uintptr(len(mapping))); err != nil {
			return err
		}
	}
	return f.Sync()
}
