package enumdb

import (
	"fmt"
	"iter"
)

// Enumeration assigns every distinct key a permanent index in insertion
// order, starting at zero. Keys are never removed.
//
// Enumeration is not safe for concurrent use; see DB for a synchronized,
// durable wrapper.
type Enumeration struct {
	tree  *Node
	store *KeyStore
}

// Snapshot is the entire state of an Enumeration. The tree is immutable; the
// store is shared by reference with the Enumeration it came from, and keeps
// accepting appends made through that Enumeration.
type Snapshot struct {
	Tree  *Node
	Store *KeyStore
}

// New returns an empty enumeration over heap segments.
func New() *Enumeration {
	return &Enumeration{store: NewHeapKeyStore()}
}

// NewWithStore returns an enumeration over an empty store.
func NewWithStore(store *KeyStore) *Enumeration {
	if store.Count() != 0 {
		panic("enumdb: NewWithStore requires an empty store, use UnsafeUnshare to adopt existing data")
	}
	return &Enumeration{store: store}
}

// Add returns the index of key, assigning the next index if key is new.
// An error (wrapping segment.ErrExhausted) means the key could not be stored;
// the enumeration is unchanged in that case.
func (e *Enumeration) Add(key []byte) (uint64, error) {
	if i, ok := Find(e.tree, e.store, key); ok {
		return i, nil
	}
	i, err := e.store.Append(key)
	if err != nil {
		return 0, err
	}
	tree, j := Insert(e.tree, e.store, key, i)
	if j != i {
		panic(fmt.Sprintf("enumdb: key assigned index %d was already present at %d", i, j))
	}
	e.tree = tree
	return i, nil
}

// Lookup returns the index of key, if it has been added.
func (e *Enumeration) Lookup(key []byte) (uint64, bool) {
	return Find(e.tree, e.store, key)
}

// Get returns the key at index. The error matches ErrOutOfRange if
// index >= Size().
func (e *Enumeration) Get(index uint64) ([]byte, error) {
	return e.store.Get(index)
}

// MustGet is like Get but panics on an out-of-range index.
func (e *Enumeration) MustGet(index uint64) []byte {
	return must(e.store.Get(index))
}

func (e *Enumeration) Size() uint64 {
	return e.store.Count()
}

// All yields every index and key in index order. The enumeration must not be
// modified during iteration.
func (e *Enumeration) All() iter.Seq2[uint64, []byte] {
	return func(yield func(uint64, []byte) bool) {
		n := e.store.Count()
		for i := uint64(0); i < n; i++ {
			if !yield(i, e.store.Probe(i)) {
				return
			}
		}
	}
}

// Share returns the current state by reference.
func (e *Enumeration) Share() Snapshot {
	return Snapshot{Tree: e.tree, Store: e.store}
}

// UnsafeUnshare replaces the state with s without any validation. s must come
// from Share (or DecodeSnapshot) of a valid enumeration; anything else makes
// every later operation undefined. Use Unshare to validate first.
func (e *Enumeration) UnsafeUnshare(s Snapshot) {
	e.tree = s.Tree
	e.store = s.Store
}

// Unshare validates s like CheckSnapshot and adopts it if valid. On error the
// enumeration is unchanged.
func (e *Enumeration) Unshare(s Snapshot) error {
	if err := CheckSnapshot(s); err != nil {
		return err
	}
	e.UnsafeUnshare(s)
	return nil
}
