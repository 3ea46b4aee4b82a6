package enumdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorage_Conformance(t *testing.T) {
	for name, st := range testStorages(t) {
		t.Run(name, func(t *testing.T) {
			ensure(updateStorage(st, func(tx storageTx) error {
				assert.Nil(t, tx.Bucket("b"))
				b, err := tx.CreateBucket("b")
				require.NoError(t, err)
				for _, k := range []string{"c", "a", "e"} {
					require.NoError(t, b.Put([]byte(k), []byte("v"+k)))
				}
				require.NoError(t, b.Put([]byte("z"), []byte{}))
				return nil
			}))

			ensure(viewStorage(st, func(tx storageTx) error {
				assert.Positive(t, tx.Size())
				b := tx.Bucket("b")
				require.NotNil(t, b)
				assert.Equal(t, []byte("va"), b.Get([]byte("a")))
				assert.Nil(t, b.Get([]byte("b")))
				assert.NotNil(t, b.Get([]byte("z")), "empty values are not missing values")
				assert.Equal(t, 4, b.Stats().KeyN)

				c := b.Cursor()
				k, v := c.Seek([]byte("b"))
				assert.Equal(t, "c", string(k))
				assert.Equal(t, "vc", string(v))
				k, _ = c.Next()
				assert.Equal(t, "e", string(k))
				k, _ = c.Prev()
				assert.Equal(t, "c", string(k))
				k, _ = c.Prev()
				assert.Equal(t, "a", string(k))
				k, _ = c.Prev()
				assert.Nil(t, k)

				var keys []string
				for k, _ := c.First(); k != nil; k, _ = c.Next() {
					keys = append(keys, string(k))
				}
				assert.Equal(t, []string{"a", "c", "e", "z"}, keys)
				k, _ = c.Last()
				assert.Equal(t, "z", string(k))
				return nil
			}))

			// rolled back changes are invisible
			tx, err := st.BeginTx(true)
			require.NoError(t, err)
			b, err := tx.CreateBucket("b")
			require.NoError(t, err)
			require.NoError(t, b.Delete([]byte("a")))
			require.NoError(t, tx.Rollback())
			require.NoError(t, tx.Rollback())
			ensure(viewStorage(st, func(tx storageTx) error {
				assert.NotNil(t, tx.Bucket("b").Get([]byte("a")))
				return nil
			}))
		})
	}
}

func TestMemStorage_CopyOnWrite(t *testing.T) {
	st := newMemStorage()
	defer st.Close()
	ensure(updateStorage(st, func(tx storageTx) error {
		b, err := tx.CreateBucket("b")
		require.NoError(t, err)
		return b.Put([]byte("k"), []byte("old"))
	}))

	rtx := must(st.BeginTx(false))
	defer rtx.Rollback()
	cur := rtx.Bucket("b").Cursor()
	k, v := cur.First()
	require.Equal(t, "k", string(k))

	ensure(updateStorage(st, func(tx storageTx) error {
		require.NoError(t, tx.Bucket("b").Put([]byte("k"), []byte("new")))
		return tx.Bucket("b").Put([]byte("m"), []byte("x"))
	}))

	assert.Equal(t, "old", string(v))
	assert.Equal(t, "old", string(rtx.Bucket("b").Get([]byte("k"))))
	k, _ = cur.Next()
	assert.Nil(t, k, "read transaction must not see keys committed after it began")
	assert.ErrorIs(t, rtx.Bucket("b").Put([]byte("z"), nil), errMemReadOnly)

	ensure(viewStorage(st, func(tx storageTx) error {
		assert.Equal(t, "new", string(tx.Bucket("b").Get([]byte("k"))))
		assert.Equal(t, 2, tx.Bucket("b").Stats().KeyN)
		return nil
	}))
}

func TestMemStorage_Closed(t *testing.T) {
	st := newMemStorage()
	require.NoError(t, st.Close())
	_, err := st.BeginTx(true)
	assert.ErrorIs(t, err, errMemClosed)
	_, err = st.BeginTx(false)
	assert.ErrorIs(t, err, errMemClosed)
}
