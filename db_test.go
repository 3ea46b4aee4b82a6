package enumdb

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/andreyvit/enumdb/journal"
	"github.com/andreyvit/enumdb/segment"
)

type logWriter struct{ t testing.TB }

func (w logWriter) Write(buf []byte) (int, error) {
	w.t.Log(string(bytes.TrimSuffix(buf, []byte("\n"))))
	return len(buf), nil
}

func openTestDB(t testing.TB, dir string, opt Options) *DB {
	t.Helper()
	opt.IsTesting = true
	if opt.Logger == nil {
		opt.Logger = slog.New(slog.NewTextHandler(logWriter{t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	db, err := Open(dir, opt)
	require.NoError(t, err)
	return db
}

func journalFiles(t testing.TB, dir string) []string {
	names, err := filepath.Glob(filepath.Join(dir, journalDirName, "j*.wal"))
	require.NoError(t, err)
	return names
}

func addAll(t testing.TB, db *DB, keys ...string) {
	for _, k := range keys {
		must(db.Add([]byte(k)))
	}
}

func requireKeys(t testing.TB, db *DB, keys ...string) {
	t.Helper()
	require.Equal(t, uint64(len(keys)), db.Size())
	for i, k := range keys {
		got, ok := db.Lookup([]byte(k))
		require.True(t, ok, k)
		require.Equal(t, uint64(i), got, k)
		require.Equal(t, []byte(k), must(db.Get(uint64(i))))
	}
}

func TestDB_Scenario(t *testing.T) {
	db := openTestDB(t, t.TempDir(), Options{})
	defer db.Close()

	assert.Equal(t, uint64(0), must(db.Add([]byte("abc"))))
	assert.Equal(t, uint64(1), must(db.Add([]byte("aaa"))))
	assert.Equal(t, uint64(0), must(db.Add([]byte("abc"))))
	assert.Equal(t, uint64(2), db.Size())
	assert.Equal(t, []byte("abc"), must(db.Get(0)))
	assert.Equal(t, []byte("aaa"), must(db.Get(1)))
	i, ok := db.Lookup([]byte("abc"))
	assert.True(t, ok)
	assert.Equal(t, uint64(0), i)
	_, ok = db.Lookup([]byte("bbb"))
	assert.False(t, ok)
	_, err := db.Get(2)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestDB_ReopenReplaysJournal(t *testing.T) {
	dir := t.TempDir()
	db := openTestDB(t, dir, Options{})
	id := db.ID()
	addAll(t, db, "one", "two", "", "three")
	require.NoError(t, db.Close())

	db = openTestDB(t, dir, Options{})
	defer db.Close()
	assert.Equal(t, id, db.ID())
	requireKeys(t, db, "one", "two", "", "three")

	assert.Equal(t, uint64(4), must(db.Add([]byte("four"))))
	assert.Equal(t, uint64(1), must(db.Add([]byte("two"))))
}

func TestDB_CheckpointAndJournal(t *testing.T) {
	dir := t.TempDir()
	db := openTestDB(t, dir, Options{Compression: Zstd})
	addAll(t, db, "a", "b", "c")
	require.NoError(t, db.Checkpoint())
	assert.Empty(t, journalFiles(t, dir), "checkpoint drops covered journal segments")

	addAll(t, db, "d", "e")
	st := db.Stats()
	assert.Equal(t, uint64(1), st.LastCheckpoint)
	assert.Equal(t, uint64(2), st.PendingKeys)
	require.NoError(t, db.Close())

	db = openTestDB(t, dir, Options{VerifyOnOpen: true})
	defer db.Close()
	requireKeys(t, db, "a", "b", "c", "d", "e")

	infos := must(db.Snapshots())
	require.Len(t, infos, 1)
	assert.Equal(t, uint64(3), infos[0].Manifest.Count)
	assert.Equal(t, Zstd, infos[0].Manifest.Compression)

	ss := must(db.StorageStats())
	assert.Equal(t, 1, ss.Snapshots)
	assert.Positive(t, ss.TotalSize())
	assert.GreaterOrEqual(t, ss.FileSize, ss.TotalSize())
}

func TestDB_CheckpointEvery(t *testing.T) {
	dir := t.TempDir()
	db := openTestDB(t, dir, Options{CheckpointEvery: 10, KeepSnapshots: 3})
	for i := range 45 {
		must(db.Add([]byte(fmt.Sprint(i))))
		must(db.Add([]byte(fmt.Sprint(i)))) // duplicates do not count
	}
	infos := must(db.Snapshots())
	require.Len(t, infos, 3)
	assert.Equal(t, uint64(4), infos[2].Seq)
	assert.Equal(t, uint64(40), infos[2].Manifest.Count)
	require.NoError(t, db.Close())

	db = openTestDB(t, dir, Options{})
	defer db.Close()
	assert.Equal(t, uint64(45), db.Size())
	assert.Equal(t, uint64(5), db.Stats().PendingKeys)
}

func TestDB_CheckpointOnClose(t *testing.T) {
	dir := t.TempDir()
	db := openTestDB(t, dir, Options{CheckpointOnClose: true})
	addAll(t, db, "x", "y")
	require.NoError(t, db.Close())
	assert.Empty(t, journalFiles(t, dir))

	db = openTestDB(t, dir, Options{})
	defer db.Close()
	requireKeys(t, db, "x", "y")
	assert.Equal(t, uint64(1), db.Stats().LastCheckpoint)
	assert.Zero(t, db.Stats().PendingKeys)
}

func TestDB_ReplaySkipsCheckpointedRecords(t *testing.T) {
	dir := t.TempDir()
	db := openTestDB(t, dir, Options{})
	addAll(t, db, "a", "b")

	// keep the journal as it was before the checkpoint, as if deleting the
	// covered segments had failed
	saved := make(map[string][]byte)
	for _, fn := range journalFiles(t, dir) {
		saved[fn] = must(os.ReadFile(fn))
	}
	require.NoError(t, db.Checkpoint())
	addAll(t, db, "c")
	require.NoError(t, db.Close())
	for fn, data := range saved {
		require.NoError(t, os.WriteFile(fn, data, 0o666))
	}

	db = openTestDB(t, dir, Options{})
	defer db.Close()
	requireKeys(t, db, "a", "b", "c")
}

func appendJournalRecord(t testing.TB, dir string, db *DB, index uint64, key string) {
	var inv [32]byte
	id := db.ID()
	copy(inv[:], id[:])
	j := journal.New(filepath.Join(dir, journalDirName), journal.Options{
		FileName:         journalFileName,
		JournalInvariant: inv,
	})
	j.StartWriting()
	require.NoError(t, j.WriteRecord(0, append(appendUvarint(nil, index), key...)))
	require.NoError(t, j.Commit())
	require.NoError(t, j.FinishWriting())
}

func TestDB_ReplayDetectsInconsistency(t *testing.T) {
	tests := []struct {
		name  string
		index uint64
		key   string
		msg   string
	}{
		{"mismatch", 1, "z", "journal has key 7a at index 1, checkpoint has 62"},
		{"gap", 3, "z", "journal skips from index 2 to 3"},
		{"duplicate", 2, "a", "journal adds duplicate key 61 at index 2, already at 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			db := openTestDB(t, dir, Options{CheckpointOnClose: true})
			addAll(t, db, "a", "b")
			require.NoError(t, db.Close())
			appendJournalRecord(t, dir, db, tt.index, tt.key)

			_, err := Open(dir, Options{IsTesting: true, Logger: slog.New(slog.NewTextHandler(logWriter{t}, nil))})
			var de *DataError
			require.ErrorAs(t, err, &de)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestDB_TornJournalTail(t *testing.T) {
	dir := t.TempDir()
	db := openTestDB(t, dir, Options{})
	addAll(t, db, "k1", "k2", "k3")
	require.NoError(t, db.Close())

	files := journalFiles(t, dir)
	require.Len(t, files, 1)
	data := must(os.ReadFile(files[0]))
	// drop part of the last commit marker
	require.NoError(t, os.WriteFile(files[0], data[:len(data)-2], 0o666))

	db = openTestDB(t, dir, Options{})
	defer db.Close()
	requireKeys(t, db, "k1", "k2")
	assert.Equal(t, uint64(2), must(db.Add([]byte("k3"))))
}

func TestDB_ForeignJournalRejected(t *testing.T) {
	dirA, dirB := t.TempDir(), t.TempDir()
	a := openTestDB(t, dirA, Options{})
	addAll(t, a, "x")
	require.NoError(t, a.Close())
	b := openTestDB(t, dirB, Options{})
	require.NoError(t, b.Close())

	for _, fn := range journalFiles(t, dirA) {
		require.NoError(t, os.WriteFile(filepath.Join(dirB, journalDirName, filepath.Base(fn)), must(os.ReadFile(fn)), 0o666))
	}
	_, err := Open(dirB, Options{IsTesting: true, Logger: slog.New(slog.NewTextHandler(logWriter{t}, nil))})
	require.ErrorIs(t, err, journal.ErrIncompatible)

	// the failed open released the Bolt file
	for _, fn := range journalFiles(t, dirB) {
		require.NoError(t, os.Remove(fn))
	}
	b = openTestDB(t, dirB, Options{})
	assert.Zero(t, b.Size())
	require.NoError(t, b.Close())
}

func TestDB_MappedSegments(t *testing.T) {
	dir := t.TempDir()
	db := openTestDB(t, dir, Options{MappedSegments: true})
	big := bytes.Repeat([]byte{'q'}, segment.PageSize+10)
	addAll(t, db, "small", string(big))
	require.NoError(t, db.Checkpoint())
	addAll(t, db, "after")
	assert.Equal(t, 2, db.Stats().DataPages)
	require.NoError(t, db.Close())

	db = openTestDB(t, dir, Options{MappedSegments: true, VerifyOnOpen: true})
	defer db.Close()
	requireKeys(t, db, "small", string(big), "after")
	fi := must(os.Stat(filepath.Join(dir, dataSegFileName)))
	assert.Equal(t, int64(2*segment.PageSize), fi.Size())
}

func TestDB_MaxPages(t *testing.T) {
	db := openTestDB(t, t.TempDir(), Options{MaxPages: 1})
	defer db.Close()
	must(db.Add(make([]byte, segment.PageSize)))
	_, err := db.Add([]byte("overflow"))
	require.ErrorIs(t, err, segment.ErrExhausted)
	assert.Equal(t, uint64(1), db.Size())

	// the failure is not sticky
	_, err = db.Add(nil)
	require.NoError(t, err)
}

func TestDB_ConcurrentReaders(t *testing.T) {
	db := openTestDB(t, t.TempDir(), Options{CheckpointEvery: 100})
	defer db.Close()

	const n = 500
	var g errgroup.Group
	g.Go(func() error {
		for i := range n {
			got, err := db.Add([]byte(fmt.Sprintf("key-%04d", i)))
			if err != nil {
				return err
			}
			if got != uint64(i) {
				return fmt.Errorf("key-%04d got index %d", i, got)
			}
		}
		return nil
	})
	for r := range 4 {
		g.Go(func() error {
			for range 200 {
				size := db.Size()
				if size == 0 {
					continue
				}
				i := (size - 1) / uint64(r+1)
				k, err := db.Get(i)
				if err != nil {
					return err
				}
				got, ok := db.Lookup(k)
				if !ok || got != i {
					return fmt.Errorf("Lookup(%q) = (%d, %v), wanted %d", k, got, ok, i)
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, uint64(n), db.Size())
}

func TestDB_Closed(t *testing.T) {
	db := openTestDB(t, t.TempDir(), Options{})
	require.NoError(t, db.Close())
	require.ErrorIs(t, db.Close(), ErrClosed)
	_, err := db.Add([]byte("x"))
	require.ErrorIs(t, err, ErrClosed)
	_, err = db.Get(0)
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, db.Checkpoint(), ErrClosed)
	assert.Zero(t, db.Size())
	require.ErrorIs(t, db.View(func(Snapshot) error { return nil }), ErrClosed)
}

func TestDB_ClosedReadsAreEmpty(t *testing.T) {
	db := openTestDB(t, t.TempDir(), Options{})
	addAll(t, db, "x")
	require.NoError(t, db.Close())

	i, ok := db.Lookup([]byte("x"))
	assert.False(t, ok)
	assert.Zero(t, i)
	s := db.Snapshot()
	assert.Nil(t, s.Store)
	assert.Nil(t, s.Tree)
}

func TestDB_View(t *testing.T) {
	db := openTestDB(t, t.TempDir(), Options{})
	defer db.Close()
	addAll(t, db, "p", "q")
	boom := errors.New("boom")
	err := db.View(func(s Snapshot) error {
		assert.Equal(t, uint64(2), Len(s.Tree))
		require.NoError(t, CheckSnapshot(s))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, uint64(2), Len(db.Snapshot().Tree))
}

func TestDB_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	db := openTestDB(t, t.TempDir(), Options{Registerer: reg})
	addAll(t, db, "a", "b", "a")
	db.Lookup([]byte("a"))
	db.Lookup([]byte("nope"))
	require.NoError(t, db.Checkpoint())

	values := gatherValues(t, reg)
	assert.Equal(t, 2.0, values["enumdb_keys_added_total"])
	assert.Equal(t, 1.0, values["enumdb_duplicate_adds_total"])
	assert.Equal(t, 1.0, values["enumdb_lookups_total{result=hit}"])
	assert.Equal(t, 1.0, values["enumdb_lookups_total{result=miss}"])
	assert.Equal(t, 1.0, values["enumdb_checkpoints_total"])
	assert.Equal(t, 2.0, values["enumdb_keys"])
	assert.Equal(t, 2.0, values["enumdb_key_bytes"])

	// a second database on the same registry conflicts
	_, err := Open(t.TempDir(), Options{IsTesting: true, Registerer: reg, Logger: slog.New(slog.NewTextHandler(logWriter{t}, nil))})
	var are prometheus.AlreadyRegisteredError
	require.ErrorAs(t, err, &are)

	require.NoError(t, db.Close())
	assert.Empty(t, gatherValues(t, reg), "Close unregisters collectors")
}

func gatherValues(t testing.TB, g prometheus.Gatherer) map[string]float64 {
	mfs, err := g.Gather()
	require.NoError(t, err)
	result := make(map[string]float64)
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			name := mf.GetName()
			for _, lp := range m.GetLabel() {
				name += fmt.Sprintf("{%s=%s}", lp.GetName(), lp.GetValue())
			}
			switch {
			case m.GetCounter() != nil:
				result[name] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				result[name] = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				result[name] = float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return result
}
