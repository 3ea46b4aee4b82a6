// Package mmap maps files into memory for the file-backed segments.
package mmap

import (
	"fmt"
	"os"
)

type Options uint

const (
	// Writable opens the mapping for writing (otherwise, it's mapped read-only).
	Writable Options = 1 << 0

	// SequentialAccess is a hint requesting aggressive read-ahead.
	// Incompatible with RandomAccess. Maps to MADV_SEQUENTIAL on Unix.
	SequentialAccess Options = 1 << 1

	// RandomAccess is a hint that read ahead is less useful than normally.
	// Incompatible with SequentialAccess. Maps to MADV_RANDOM on Unix.
	RandomAccess Options = 1 << 2

	// Prefault is a hint requesting the entire file to be loaded in memory
	// for fastest access. Maps to MAP_POPULATE on Linux.
	Prefault Options = 1 << 3
)

func (o Options) Has(v Options) bool {
	return o&v != 0
}

// Mmap maps the first size bytes of the file into memory.
func Mmap(f *os.File, offset, size int, opt Options) ([]byte, error) {
	if offset != 0 {
		panic("non-zero offset not yet supported")
	}
	if size <= 0 || size > MaxSize {
		return nil, fmt.Errorf("mmap: invalid size %d", size)
	}
	return mmap(f, size, opt)
}

// Fdatasync makes data written to f (or to mapping, a Region of f) durable
// without flushing file metadata where the platform allows it.
//
// A failed sync leaves the on-disk state unknown: pages may already be marked
// clean. Treat any error as fatal for the file.
func Fdatasync(f *os.File, mapping []byte) error {
	return fdatasync(f, mapping)
}

// Munmap unmaps the given slice from memory. The slice must have been returned
// by Mmap.
func Munmap(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return munmap(b)
}

// Region is a mapping of a whole file that can be extended. Extending
// truncates the file to the new size and replaces the mapping, so slices
// obtained from Bytes before an Extend must not be used afterwards.
type Region struct {
	f    *os.File
	data []byte
	opt  Options
}

// OpenRegion maps the current contents of f. An empty file yields an empty
// region that gets mapped on the first Extend.
func OpenRegion(f *os.File, opt Options) (*Region, error) {
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	r := &Region{f: f, opt: opt}
	if size := st.Size(); size > 0 {
		if size > MaxSize {
			return nil, fmt.Errorf("mmap: %s: file too large (%d bytes)", f.Name(), size)
		}
		r.data, err = Mmap(f, 0, int(size), opt)
		if err != nil {
			return nil, fmt.Errorf("mmap: %s: %w", f.Name(), err)
		}
	}
	return r, nil
}

func (r *Region) Bytes() []byte { return r.data }

func (r *Region) Size() int { return len(r.data) }

func (r *Region) File() *os.File { return r.f }

// Extend grows the file and the mapping to size bytes. Shrinking is not
// supported.
func (r *Region) Extend(size int) error {
	if size < len(r.data) {
		panic("mmap: Region cannot shrink")
	}
	if size == len(r.data) {
		return nil
	}
	if !r.opt.Has(Writable) {
		return fmt.Errorf("mmap: %s: region is read-only", r.f.Name())
	}
	if err := r.f.Truncate(int64(size)); err != nil {
		return fmt.Errorf("mmap: %s: truncate: %w", r.f.Name(), err)
	}
	if err := Munmap(r.data); err != nil {
		return fmt.Errorf("mmap: %s: munmap: %w", r.f.Name(), err)
	}
	r.data = nil
	b, err := Mmap(r.f, 0, size, r.opt)
	if err != nil {
		return fmt.Errorf("mmap: %s: %w", r.f.Name(), err)
	}
	r.data = b
	return nil
}

// Sync flushes the mapped data to disk. See Fdatasync for error semantics.
func (r *Region) Sync() error {
	return Fdatasync(r.f, r.data)
}

// Close unmaps the region and closes the file.
func (r *Region) Close() error {
	err := Munmap(r.data)
	r.data = nil
	if cerr := r.f.Close(); err == nil {
		err = cerr
	}
	return err
}
