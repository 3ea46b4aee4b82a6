package segment

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/andreyvit/enumdb/mmap"
)

// Mapped is a segment backed by a memory-mapped file. Its contents survive
// the process; reopening the file adopts all pages it holds.
type Mapped struct {
	region   *mmap.Region
	maxPages int
}

var _ Segment = (*Mapped)(nil)

// OpenMapped opens or creates the file at path. maxPages limits growth; zero
// means no limit other than MaxPages.
func OpenMapped(path string, maxPages int) (*Mapped, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o666)
	if err != nil {
		return nil, err
	}
	r, err := mmap.OpenRegion(f, mmap.Writable|mmap.RandomAccess)
	if err != nil {
		f.Close()
		return nil, err
	}
	if r.Size()%PageSize != 0 {
		r.Close()
		return nil, fmt.Errorf("segment: %s: size %d is not a multiple of the page size", path, r.Size())
	}
	return &Mapped{region: r, maxPages: maxPages}, nil
}

func (m *Mapped) Pages() int { return m.region.Size() / PageSize }

func (m *Mapped) Grow(pages int) (int, error) {
	prev := m.Pages()
	if err := checkGrow(prev, pages, m.maxPages); err != nil {
		return prev, err
	}
	if pages == 0 {
		return prev, nil
	}
	if err := m.region.Extend((prev + pages) * PageSize); err != nil {
		return prev, fmt.Errorf("%w: %w", ErrExhausted, err)
	}
	return prev, nil
}

func (m *Mapped) LoadUint64(off uint64) uint64 {
	return binary.LittleEndian.Uint64(m.region.Bytes()[off : off+8])
}

func (m *Mapped) StoreUint64(off uint64, v uint64) {
	binary.LittleEndian.PutUint64(m.region.Bytes()[off:off+8], v)
}

func (m *Mapped) LoadBytes(off, n uint64) []byte {
	b := make([]byte, n)
	copy(b, m.region.Bytes()[off:off+n])
	return b
}

func (m *Mapped) StoreBytes(off uint64, b []byte) {
	copy(m.region.Bytes()[off:off+uint64(len(b))], b)
}

func (m *Mapped) View(off, n uint64) []byte {
	return m.region.Bytes()[off : off+n : off+n]
}

// Sync flushes written pages to disk.
func (m *Mapped) Sync() error {
	if m.region.Size() == 0 {
		return nil
	}
	return m.region.Sync()
}

func (m *Mapped) Close() error {
	return m.region.Close()
}
