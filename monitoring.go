package enumdb

// Stats describes the in-memory state of a DB.
type Stats struct {
	Keys      uint64
	KeyBytes  uint64
	DataPages int
	DirPages  int

	// LastCheckpoint is the sequence number of the newest checkpoint, zero if
	// none was written yet. PendingKeys counts keys added since then.
	LastCheckpoint uint64
	PendingKeys    uint64
}

func (db *DB) Stats() Stats {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return Stats{}
	}
	ks := db.enum.store
	return Stats{
		Keys:           ks.Count(),
		KeyBytes:       ks.Cursor(),
		DataPages:      ks.DataSegment().Pages(),
		DirPages:       ks.DirSegment().Pages(),
		LastCheckpoint: db.lastSeq,
		PendingKeys:    ks.Count() - db.checkpoint,
	}
}

// StorageStats describes the checkpoint file.
type StorageStats struct {
	Snapshots int
	FileSize  int64

	ManifestSize  int64
	ManifestAlloc int64
	BlobSize      int64
	BlobAlloc     int64
}

func (ss *StorageStats) TotalSize() int64 {
	return ss.ManifestSize + ss.BlobSize
}

func (ss *StorageStats) TotalAlloc() int64 {
	return ss.ManifestAlloc + ss.BlobAlloc
}

func (db *DB) StorageStats() (StorageStats, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return StorageStats{}, ErrClosed
	}
	var result StorageStats
	err := viewStorage(db.st, func(tx storageTx) error {
		result.FileSize = tx.Size()
		if b := tx.Bucket(snapshotsBucket); b != nil {
			bs := b.Stats()
			result.Snapshots = bs.KeyN
			result.ManifestSize = bs.LeafInuse
			result.ManifestAlloc = bs.TotalAlloc()
		}
		if b := tx.Bucket(blobsBucket); b != nil {
			bs := b.Stats()
			result.BlobSize = bs.LeafInuse
			result.BlobAlloc = bs.TotalAlloc()
		}
		return nil
	})
	return result, err
}
