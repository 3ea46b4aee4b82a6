package segment

import "encoding/binary"

// Heap is a segment held in ordinary Go memory.
type Heap struct {
	buf      []byte
	maxPages int
}

var _ Segment = (*Heap)(nil)

// NewHeap returns an empty heap segment. maxPages limits growth; zero means
// no limit other than MaxPages.
func NewHeap(maxPages int) *Heap {
	return &Heap{maxPages: maxPages}
}

func (h *Heap) Pages() int { return len(h.buf) / PageSize }

func (h *Heap) Grow(pages int) (int, error) {
	prev := h.Pages()
	if err := checkGrow(prev, pages, h.maxPages); err != nil {
		return prev, err
	}
	h.buf = append(h.buf, make([]byte, pages*PageSize)...)
	return prev, nil
}

func (h *Heap) LoadUint64(off uint64) uint64 {
	return binary.LittleEndian.Uint64(h.buf[off : off+8])
}

func (h *Heap) StoreUint64(off uint64, v uint64) {
	binary.LittleEndian.PutUint64(h.buf[off:off+8], v)
}

func (h *Heap) LoadBytes(off, n uint64) []byte {
	b := make([]byte, n)
	copy(b, h.buf[off:off+n])
	return b
}

func (h *Heap) StoreBytes(off uint64, b []byte) {
	copy(h.buf[off:off+uint64(len(b))], b)
}

func (h *Heap) View(off, n uint64) []byte {
	return h.buf[off : off+n : off+n]
}

func (h *Heap) Close() error {
	h.buf = nil
	return nil
}
