package enumdb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/google/uuid"
)

// Checkpoint storage layout:
//
//	meta/id                     database UUID (16 bytes)
//	snapshots/<seq:64be>        msgpack Manifest
//	blobs/<seq:64be><kind:8>    blob bytes, kind is one of blobTree, blobDir, blobData
const (
	metaBucket      = "meta"
	snapshotsBucket = "snapshots"
	blobsBucket     = "blobs"
)

const (
	blobTree byte = 't'
	blobDir  byte = 'i'
	blobData byte = 'd'
)

var idKey = []byte("id")

// SnapshotInfo describes a stored checkpoint.
type SnapshotInfo struct {
	Seq      uint64
	Manifest Manifest
}

func viewStorage(st storage, fn func(tx storageTx) error) error {
	tx, err := st.BeginTx(false)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	return fn(tx)
}

func updateStorage(st storage, fn func(tx storageTx) error) error {
	tx, err := st.BeginTx(true)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// loadOrCreateID returns the database identity, generating it on first use.
func loadOrCreateID(st storage) (id uuid.UUID, created bool, err error) {
	err = updateStorage(st, func(tx storageTx) error {
		b, err := tx.CreateBucket(metaBucket)
		if err != nil {
			return err
		}
		if raw := b.Get(idKey); raw != nil {
			id, err = uuid.FromBytes(raw)
			if err != nil {
				return dataErrf(raw, 0, err, "invalid database id")
			}
			return nil
		}
		id = uuid.New()
		created = true
		return b.Put(idKey, id[:])
	})
	return id, created, err
}

func blobKey(seq uint64, kind byte) []byte {
	return append(appendFixedUint64(make([]byte, 0, 9), seq), kind)
}

// saveSnapshot stores es under the next sequence number and deletes all but
// the newest keep snapshots (keep <= 0 keeps everything).
func saveSnapshot(st storage, es *EncodedSnapshot, keep int) (uint64, error) {
	var seq uint64
	err := updateStorage(st, func(tx storageTx) error {
		snaps, err := tx.CreateBucket(snapshotsBucket)
		if err != nil {
			return err
		}
		blobs, err := tx.CreateBucket(blobsBucket)
		if err != nil {
			return err
		}

		seq = 1
		if k, _ := snaps.Cursor().Last(); k != nil {
			if len(k) != 8 {
				return dataErrf(k, 0, nil, "invalid snapshot key")
			}
			seq = binary.BigEndian.Uint64(k) + 1
		}

		if err := snaps.Put(appendFixedUint64(nil, seq), encodeMsgpack(nil, &es.Manifest)); err != nil {
			return err
		}
		for _, blob := range []struct {
			kind byte
			data []byte
		}{{blobTree, es.Tree}, {blobDir, es.Dir}, {blobData, es.Data}} {
			if err := blobs.Put(blobKey(seq, blob.kind), blob.data); err != nil {
				return err
			}
		}

		if keep > 0 {
			return pruneSnapshots(snaps, blobs, keep)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("save snapshot: %w", err)
	}
	return seq, nil
}

func pruneSnapshots(snaps, blobs storageBucket, keep int) error {
	var old [][]byte
	c := snaps.Cursor()
	for k, _ := c.Last(); k != nil; k, _ = c.Prev() {
		if keep > 0 {
			keep--
			continue
		}
		old = append(old, slices.Clone(k))
	}
	for _, k := range old {
		if err := snaps.Delete(k); err != nil {
			return err
		}
		for _, bk := range snapshotBlobKeys(blobs, k) {
			if err := blobs.Delete(bk); err != nil {
				return err
			}
		}
	}
	return nil
}

// snapshotBlobKeys returns the keys of all blobs stored under the given
// snapshot key, whatever their kind.
func snapshotBlobKeys(blobs storageBucket, snapKey []byte) [][]byte {
	var keys [][]byte
	c := blobs.Cursor()
	for k, _ := c.Seek(snapKey); k != nil && bytes.HasPrefix(k, snapKey); k, _ = c.Next() {
		keys = append(keys, slices.Clone(k))
	}
	return keys
}

// loadLatestSnapshot returns the newest snapshot, or nil if there is none.
func loadLatestSnapshot(st storage) (*EncodedSnapshot, uint64, error) {
	var (
		es  *EncodedSnapshot
		seq uint64
	)
	err := viewStorage(st, func(tx storageTx) error {
		snaps := tx.Bucket(snapshotsBucket)
		blobs := tx.Bucket(blobsBucket)
		if snaps == nil || blobs == nil {
			return nil
		}
		k, v := snaps.Cursor().Last()
		if k == nil {
			return nil
		}
		if len(k) != 8 {
			return dataErrf(k, 0, nil, "invalid snapshot key")
		}
		seq = binary.BigEndian.Uint64(k)

		es = &EncodedSnapshot{}
		if err := decodeMsgpack(v, &es.Manifest); err != nil {
			return err
		}
		for _, blob := range []struct {
			kind byte
			dst  *[]byte
		}{{blobTree, &es.Tree}, {blobDir, &es.Dir}, {blobData, &es.Data}} {
			raw := blobs.Get(blobKey(seq, blob.kind))
			if raw == nil {
				return fmt.Errorf("snapshot %d: missing %c blob", seq, blob.kind)
			}
			*blob.dst = slices.Clone(raw)
		}
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("load snapshot: %w", err)
	}
	return es, seq, nil
}

// listSnapshots returns stored snapshots, oldest first.
func listSnapshots(st storage) ([]SnapshotInfo, error) {
	var result []SnapshotInfo
	err := viewStorage(st, func(tx storageTx) error {
		snaps := tx.Bucket(snapshotsBucket)
		if snaps == nil {
			return nil
		}
		c := snaps.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			info := SnapshotInfo{Seq: binary.BigEndian.Uint64(k)}
			if err := decodeMsgpack(v, &info.Manifest); err != nil {
				return err
			}
			result = append(result, info)
		}
		return nil
	})
	return result, err
}
