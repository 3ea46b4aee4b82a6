// Package segment provides growable, page-granular memory regions with
// byte-exact loads and stores.
//
// A segment only ever grows, in whole pages, and growth preserves everything
// written before. Offsets passed to loads and stores are validated by the
// caller; out-of-bounds access panics.
package segment

import (
	"errors"
	"fmt"

	"github.com/andreyvit/enumdb/mmap"
)

// PageSize is the growth unit of every segment.
const PageSize = 64 << 10

// MaxPages bounds any segment by the largest mapping the platform supports.
const MaxPages = mmap.MaxSize / PageSize

// ErrExhausted is returned by Grow when a segment cannot be extended.
var ErrExhausted = errors.New("segment exhausted")

type Segment interface {
	// Pages returns the current size in pages.
	Pages() int

	// Grow adds the given number of zeroed pages and returns the previous
	// page count. Errors wrap ErrExhausted when the limit is reached.
	Grow(pages int) (prev int, err error)

	LoadUint64(off uint64) uint64
	StoreUint64(off uint64, v uint64)

	// LoadBytes returns a copy of n bytes at off.
	LoadBytes(off, n uint64) []byte
	StoreBytes(off uint64, b []byte)

	// View returns n bytes at off without copying. The slice is only valid
	// until the next Grow.
	View(off, n uint64) []byte

	Close() error
}

// Capacity returns the size of s in bytes.
func Capacity(s Segment) uint64 {
	return uint64(s.Pages()) * PageSize
}

// PagesFor returns the number of pages to add to a segment currently holding
// pages pages so that it can hold need bytes.
func PagesFor(need uint64, pages int) int {
	capacity := uint64(pages) * PageSize
	if need <= capacity {
		return 0
	}
	return int((need - capacity + PageSize - 1) / PageSize)
}

// Reserve grows s, if needed, so that it holds at least need bytes.
func Reserve(s Segment, need uint64) error {
	n := PagesFor(need, s.Pages())
	if n == 0 {
		return nil
	}
	if _, err := s.Grow(n); err != nil {
		return err
	}
	return nil
}

func checkGrow(cur, add, limit int) error {
	if add < 0 {
		panic(fmt.Sprintf("segment: negative growth %d", add))
	}
	if limit <= 0 || limit > MaxPages {
		limit = MaxPages
	}
	if add > limit-cur {
		return fmt.Errorf("%w: %d+%d pages exceeds limit of %d", ErrExhausted, cur, add, limit)
	}
	return nil
}
