package enumdb

// storage holds checkpoints: the database id, snapshot manifests and blobs.
// The DB uses Bolt; tests also run against newMemStorage.
type storage interface {
	BeginTx(writable bool) (storageTx, error)
	Close() error
}

// storageTx sees a consistent view of all buckets until Commit or Rollback.
// Only one writable transaction exists at a time.
type storageTx interface {
	// Bucket returns nil for a bucket that was never created.
	Bucket(name string) storageBucket
	CreateBucket(name string) (storageBucket, error)

	Commit() error
	// Rollback is a no-op after Commit or an earlier Rollback.
	Rollback() error

	// Size is the checkpoint file size for Bolt, the total key and value
	// bytes for the in-memory backend.
	Size() int64
}

// storageBucket is a sorted map of byte keys. Slices returned by Get and the
// cursor are only valid inside the transaction and must not be modified.
type storageBucket interface {
	// Get returns nil for a missing key and a non-nil slice for an empty value.
	Get(key []byte) []byte
	Put(key, value []byte) error
	// Delete of a missing key is not an error.
	Delete(key []byte) error

	Cursor() storageCursor
	// Stats reports allocation figures where the backend tracks them; KeyN is
	// always set.
	Stats() bucketStats
}

type bucketStats struct {
	KeyN        int
	LeafInuse   int64
	LeafAlloc   int64
	BranchAlloc int64
}

func (s bucketStats) TotalAlloc() int64 { return s.BranchAlloc + s.LeafAlloc }

// storageCursor walks a bucket in key order. Every move returns a nil key
// once it runs off either end.
type storageCursor interface {
	First() (key, value []byte)
	Last() (key, value []byte)
	// Seek positions at the first key >= seek; snapshotBlobKeys scans a
	// snapshot's blobs with it.
	Seek(seek []byte) (key, value []byte)
	Next() (key, value []byte)
	Prev() (key, value []byte)
}
