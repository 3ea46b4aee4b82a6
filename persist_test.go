package enumdb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andreyvit/enumdb/segment"
)

func testStorages(t *testing.T) map[string]storage {
	bolt, err := openBoltStorage(filepath.Join(t.TempDir(), "test.db"), true, 0)
	require.NoError(t, err)
	mem := newMemStorage()
	t.Cleanup(func() {
		bolt.Close()
		mem.Close()
	})
	return map[string]storage{"bolt": bolt, "mem": mem}
}

func TestPersist_ID(t *testing.T) {
	for name, st := range testStorages(t) {
		t.Run(name, func(t *testing.T) {
			id, created, err := loadOrCreateID(st)
			require.NoError(t, err)
			assert.True(t, created)

			again, created, err := loadOrCreateID(st)
			require.NoError(t, err)
			assert.False(t, created)
			assert.Equal(t, id, again)
		})
	}
}

func TestPersist_SaveLoad(t *testing.T) {
	for name, st := range testStorages(t) {
		t.Run(name, func(t *testing.T) {
			es, seq, err := loadLatestSnapshot(st)
			require.NoError(t, err)
			assert.Nil(t, es)
			assert.Zero(t, seq)

			e := newTestEnum(t, "k1", "k2")
			seq1 := must(saveSnapshot(st, encodeTestSnapshot(e, Zstd), 0))
			must(e.Add([]byte("k3")))
			seq2 := must(saveSnapshot(st, encodeTestSnapshot(e, Zstd), 0))
			assert.Equal(t, uint64(1), seq1)
			assert.Equal(t, uint64(2), seq2)

			es, seq, err = loadLatestSnapshot(st)
			require.NoError(t, err)
			require.NotNil(t, es)
			assert.Equal(t, seq2, seq)
			assert.Equal(t, uint64(3), es.Manifest.Count)

			s := must(DecodeSnapshot(es, segment.NewHeap(0), segment.NewHeap(0)))
			require.NoError(t, CheckSnapshot(s))
			assert.Equal(t, []byte("k3"), must(s.Store.Get(2)))

			infos := must(listSnapshots(st))
			require.Len(t, infos, 2)
			assert.Equal(t, uint64(1), infos[0].Seq)
			assert.Equal(t, uint64(2), infos[0].Manifest.Count)
			assert.Equal(t, uint64(3), infos[1].Manifest.Count)
		})
	}
}

func TestPersist_Prune(t *testing.T) {
	for name, st := range testStorages(t) {
		t.Run(name, func(t *testing.T) {
			e := New()
			for i := range 5 {
				must(e.Add([]byte{byte(i)}))
				must(saveSnapshot(st, encodeTestSnapshot(e, NoCompression), 2))
			}
			infos := must(listSnapshots(st))
			require.Len(t, infos, 2)
			assert.Equal(t, uint64(4), infos[0].Seq)
			assert.Equal(t, uint64(5), infos[1].Seq)

			ensure(viewStorage(st, func(tx storageTx) error {
				assert.Nil(t, tx.Bucket(blobsBucket).Get(blobKey(3, blobTree)))
				assert.NotNil(t, tx.Bucket(blobsBucket).Get(blobKey(4, blobData)))
				assert.Equal(t, 6, tx.Bucket(blobsBucket).Stats().KeyN)
				return nil
			}))

			// sequence numbers keep increasing after pruning
			seq := must(saveSnapshot(st, encodeTestSnapshot(e, NoCompression), 2))
			assert.Equal(t, uint64(6), seq)
		})
	}
}

func TestPersist_PruneDeletesEveryBlobKind(t *testing.T) {
	for name, st := range testStorages(t) {
		t.Run(name, func(t *testing.T) {
			e := newTestEnum(t, "a")
			seq := must(saveSnapshot(st, encodeTestSnapshot(e, NoCompression), 0))
			ensure(updateStorage(st, func(tx storageTx) error {
				return tx.Bucket(blobsBucket).Put(blobKey(seq, 'x'), []byte("extra"))
			}))
			must(saveSnapshot(st, encodeTestSnapshot(e, NoCompression), 1))

			ensure(viewStorage(st, func(tx storageTx) error {
				blobs := tx.Bucket(blobsBucket)
				assert.Nil(t, blobs.Get(blobKey(seq, 'x')))
				assert.Equal(t, 3, blobs.Stats().KeyN)
				return nil
			}))
		})
	}
}

func TestPersist_MissingBlob(t *testing.T) {
	st := newMemStorage()
	defer st.Close()
	seq := must(saveSnapshot(st, encodeTestSnapshot(newTestEnum(t, "a"), NoCompression), 0))
	ensure(updateStorage(st, func(tx storageTx) error {
		return tx.Bucket(blobsBucket).Delete(blobKey(seq, blobDir))
	}))
	_, _, err := loadLatestSnapshot(st)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing i blob")
}

func TestPersist_EmptyKeyBlob(t *testing.T) {
	// an enumeration holding only the empty key has an empty data blob
	for name, st := range testStorages(t) {
		t.Run(name, func(t *testing.T) {
			e := newTestEnum(t, "")
			must(saveSnapshot(st, encodeTestSnapshot(e, NoCompression), 0))
			es, _, err := loadLatestSnapshot(st)
			require.NoError(t, err)
			s := must(DecodeSnapshot(es, segment.NewHeap(0), segment.NewHeap(0)))
			require.NoError(t, CheckSnapshot(s))
			assert.Equal(t, uint64(1), s.Store.Count())
		})
	}
}
