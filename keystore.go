package enumdb

import (
	"fmt"

	"github.com/andreyvit/enumdb/segment"
)

// recordSize is the size of a directory slot: position:64 length:64.
const recordSize = 16

// KeyStore is an append-only store of variable-length keys over two segments.
// The data segment holds key bytes back to back; the directory segment holds
// one (position, length) record per key, so index i lives at i*recordSize.
type KeyStore struct {
	data   segment.Segment
	dir    segment.Segment
	count  uint64
	cursor uint64
}

// NewKeyStore returns an empty store over two empty segments.
func NewKeyStore(data, dir segment.Segment) *KeyStore {
	if data.Pages() != 0 || dir.Pages() != 0 {
		panic("keystore: segments must be empty")
	}
	return &KeyStore{data: data, dir: dir}
}

// NewHeapKeyStore returns an empty store over unlimited heap segments.
func NewHeapKeyStore() *KeyStore {
	return &KeyStore{data: segment.NewHeap(0), dir: segment.NewHeap(0)}
}

// RestoreKeyStore adopts segments that already hold count records whose key
// bytes occupy the first cursor bytes of data. Only the segment capacities are
// checked; CheckSnapshot validates the records themselves.
func RestoreKeyStore(data, dir segment.Segment, count, cursor uint64) (*KeyStore, error) {
	if c := segment.Capacity(dir); count > c/recordSize {
		return nil, fmt.Errorf("keystore: %d records do not fit into a %d-byte directory", count, c)
	}
	if c := segment.Capacity(data); cursor > c {
		return nil, fmt.Errorf("keystore: cursor %d is past the %d-byte data segment", cursor, c)
	}
	return &KeyStore{data: data, dir: dir, count: count, cursor: cursor}, nil
}

// Count returns the number of stored keys.
func (ks *KeyStore) Count() uint64 { return ks.count }

// Cursor returns the number of data bytes in use.
func (ks *KeyStore) Cursor() uint64 { return ks.cursor }

func (ks *KeyStore) DataSegment() segment.Segment { return ks.data }

func (ks *KeyStore) DirSegment() segment.Segment { return ks.dir }

// Append stores key and returns its index. If either segment cannot grow,
// the error wraps segment.ErrExhausted and the store is unchanged.
func (ks *KeyStore) Append(key []byte) (uint64, error) {
	n := uint64(len(key))
	if err := segment.Reserve(ks.data, ks.cursor+n); err != nil {
		return 0, fmt.Errorf("keystore: grow data segment: %w", err)
	}
	if err := segment.Reserve(ks.dir, (ks.count+1)*recordSize); err != nil {
		return 0, fmt.Errorf("keystore: grow directory segment: %w", err)
	}

	pos := ks.cursor
	if n > 0 {
		ks.data.StoreBytes(pos, key)
	}
	rec := ks.count * recordSize
	ks.dir.StoreUint64(rec, pos)
	ks.dir.StoreUint64(rec+8, n)

	index := ks.count
	ks.cursor += n
	ks.count++
	return index, nil
}

// Get returns a copy of the key at index.
func (ks *KeyStore) Get(index uint64) ([]byte, error) {
	if index >= ks.count {
		return nil, &RangeError{Index: index, Size: ks.count}
	}
	pos, n := ks.record(index)
	if n == 0 {
		return []byte{}, nil
	}
	return ks.data.LoadBytes(pos, n), nil
}

// Probe returns the key at index without copying. The slice is only valid
// until the next Append. Panics if index is out of range.
func (ks *KeyStore) Probe(index uint64) []byte {
	if index >= ks.count {
		panic(&RangeError{Index: index, Size: ks.count})
	}
	pos, n := ks.record(index)
	if n == 0 {
		return []byte{}
	}
	return ks.data.View(pos, n)
}

func (ks *KeyStore) record(index uint64) (pos, n uint64) {
	rec := index * recordSize
	return ks.dir.LoadUint64(rec), ks.dir.LoadUint64(rec + 8)
}

// Close releases both segments.
func (ks *KeyStore) Close() error {
	err := ks.data.Close()
	if derr := ks.dir.Close(); err == nil {
		err = derr
	}
	return err
}
