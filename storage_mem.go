package enumdb

import (
	"bytes"
	"errors"
	"maps"
	"slices"
	"sync"
)

var (
	errMemClosed   = errors.New("memory storage closed")
	errMemReadOnly = errors.New("read-only transaction")
	errMemTxDone   = errors.New("transaction already finished")
)

// memStorage keeps checkpoints in memory for tests. Committed buckets are
// never modified: a write transaction copies a bucket on its first change and
// publishes its bucket set on Commit. One write transaction runs at a time.
type memStorage struct {
	writer sync.Mutex

	mu      sync.Mutex
	buckets map[string]*memBucket
	closed  bool
}

func newMemStorage() storage {
	return &memStorage{buckets: make(map[string]*memBucket)}
}

func (s *memStorage) BeginTx(writable bool) (storageTx, error) {
	if writable {
		s.writer.Lock()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		if writable {
			s.writer.Unlock()
		}
		return nil, errMemClosed
	}
	tx := &memTx{s: s, writable: writable, buckets: maps.Clone(s.buckets)}
	if writable {
		tx.owned = make(map[string]bool)
	}
	return tx, nil
}

func (s *memStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.buckets = nil
	return nil
}

type memTx struct {
	s        *memStorage
	writable bool
	done     bool
	buckets  map[string]*memBucket
	owned    map[string]bool // buckets copied by this transaction
}

func (tx *memTx) live() {
	if tx.done {
		panic(errMemTxDone)
	}
}

// own returns a private copy of the named bucket that tx may change.
func (tx *memTx) own(name string) (*memBucket, error) {
	tx.live()
	if !tx.writable {
		return nil, errMemReadOnly
	}
	b := tx.buckets[name]
	if !tx.owned[name] {
		b = &memBucket{items: slices.Clone(b.items)}
		tx.buckets[name] = b
		tx.owned[name] = true
	}
	return b, nil
}

func (tx *memTx) Bucket(name string) storageBucket {
	tx.live()
	if tx.buckets[name] == nil {
		return nil
	}
	return memBucketRef{tx, name}
}

func (tx *memTx) CreateBucket(name string) (storageBucket, error) {
	tx.live()
	if !tx.writable {
		return nil, errMemReadOnly
	}
	if tx.buckets[name] == nil {
		tx.buckets[name] = &memBucket{}
		tx.owned[name] = true
	}
	return memBucketRef{tx, name}, nil
}

func (tx *memTx) Commit() error {
	if tx.done {
		return errMemTxDone
	}
	if !tx.writable {
		tx.finish()
		return errMemReadOnly
	}
	tx.s.mu.Lock()
	closed := tx.s.closed
	if !closed {
		tx.s.buckets = tx.buckets
	}
	tx.s.mu.Unlock()
	tx.finish()
	if closed {
		return errMemClosed
	}
	return nil
}

func (tx *memTx) Rollback() error {
	if !tx.done {
		tx.finish()
	}
	return nil
}

func (tx *memTx) finish() {
	tx.done = true
	tx.buckets, tx.owned = nil, nil
	if tx.writable {
		tx.s.writer.Unlock()
	}
}

func (tx *memTx) Size() int64 {
	tx.live()
	var n int64
	for name, b := range tx.buckets {
		n += int64(len(name)) + b.bytes()
	}
	return n
}

// memBucket is a sorted list of pairs. Key and value slices are never written
// to after insertion, so copies of a bucket may share them.
type memBucket struct {
	items []memKV
}

type memKV struct {
	key, value []byte
}

func (b *memBucket) search(key []byte) (int, bool) {
	return slices.BinarySearchFunc(b.items, key, func(kv memKV, k []byte) int {
		return bytes.Compare(kv.key, k)
	})
}

func (b *memBucket) bytes() int64 {
	var n int64
	for _, kv := range b.items {
		n += int64(len(kv.key) + len(kv.value))
	}
	return n
}

// memBucketRef resolves the bucket through the transaction on every call, so
// it sees the private copy once the transaction makes one.
type memBucketRef struct {
	tx   *memTx
	name string
}

func (r memBucketRef) bucket() *memBucket {
	r.tx.live()
	return r.tx.buckets[r.name]
}

func (r memBucketRef) Get(key []byte) []byte {
	b := r.bucket()
	if i, ok := b.search(key); ok {
		return b.items[i].value
	}
	return nil
}

func (r memBucketRef) Put(key, value []byte) error {
	b, err := r.tx.own(r.name)
	if err != nil {
		return err
	}
	kv := memKV{slices.Clone(key), append([]byte{}, value...)}
	if i, ok := b.search(key); ok {
		b.items[i] = kv
	} else {
		b.items = slices.Insert(b.items, i, kv)
	}
	return nil
}

func (r memBucketRef) Delete(key []byte) error {
	b, err := r.tx.own(r.name)
	if err != nil {
		return err
	}
	if i, ok := b.search(key); ok {
		b.items = slices.Delete(b.items, i, i+1)
	}
	return nil
}

func (r memBucketRef) Cursor() storageCursor {
	return &memCursor{ref: r, pos: -1}
}

func (r memBucketRef) Stats() bucketStats {
	b := r.bucket()
	n := b.bytes()
	return bucketStats{KeyN: len(b.items), LeafInuse: n, LeafAlloc: n}
}

type memCursor struct {
	ref memBucketRef
	pos int
}

func (c *memCursor) First() ([]byte, []byte) {
	return c.moveTo(0)
}

func (c *memCursor) Last() ([]byte, []byte) {
	return c.moveTo(len(c.ref.bucket().items) - 1)
}

func (c *memCursor) Seek(seek []byte) ([]byte, []byte) {
	i, _ := c.ref.bucket().search(seek)
	return c.moveTo(i)
}

func (c *memCursor) Next() ([]byte, []byte) {
	return c.moveTo(c.pos + 1)
}

func (c *memCursor) Prev() ([]byte, []byte) {
	if c.pos < 0 {
		return nil, nil
	}
	return c.moveTo(c.pos - 1)
}

func (c *memCursor) moveTo(pos int) ([]byte, []byte) {
	items := c.ref.bucket().items
	c.pos = min(max(pos, -1), len(items))
	if c.pos < 0 || c.pos >= len(items) {
		return nil, nil
	}
	return items[c.pos].key, items[c.pos].value
}
