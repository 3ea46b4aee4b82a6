package enumdb

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/andreyvit/enumdb/journal"
	"github.com/andreyvit/enumdb/segment"
)

const (
	boltFileName    = "enum.db"
	journalDirName  = "journal"
	journalFileName = "j*.wal"
	dataSegFileName = "data.seg"
	dirSegFileName  = "dir.seg"
)

// DefaultKeepSnapshots is the number of checkpoints retained when
// Options.KeepSnapshots is zero.
const DefaultKeepSnapshots = 2

// DB is a durable, concurrency-safe Enumeration stored in a directory.
//
// The state is a checkpoint (an encoded Snapshot in a Bolt file) plus a
// journal of keys added since that checkpoint. Writers are serialized;
// readers run concurrently with each other.
type DB struct {
	ctx     context.Context
	dir     string
	id      uuid.UUID
	st      storage
	jrnl    *journal.Journal
	logger  *slog.Logger
	verbose bool
	opt     Options
	metrics *metrics

	mu         sync.RWMutex
	enum       *Enumeration
	closed     bool
	lastSeq    uint64 // latest checkpoint, 0 if none
	checkpoint uint64 // Size() at the latest checkpoint
	writeErr   error
}

type Options struct {
	Logger  *slog.Logger
	Verbose bool

	// Registerer receives the DB's Prometheus collectors. Use a separate
	// registry (or MetricLabels) when opening several databases.
	Registerer   prometheus.Registerer
	MetricLabels prometheus.Labels

	// Compression applies to checkpoint blobs.
	Compression Compression

	// KeepSnapshots is the number of checkpoints retained, DefaultKeepSnapshots
	// if zero, all of them if negative.
	KeepSnapshots int

	// CheckpointEvery triggers a checkpoint after this many new keys; zero
	// disables automatic checkpoints.
	CheckpointEvery int

	// CheckpointOnClose writes a checkpoint in Close if any keys were added
	// since the last one.
	CheckpointOnClose bool

	// VerifyOnOpen validates the restored checkpoint with CheckSnapshot.
	VerifyOnOpen bool

	// MappedSegments keeps key data in memory-mapped files inside the
	// directory instead of the Go heap. The files are rebuilt on every open.
	MappedSegments bool

	// MaxPages limits each segment; zero means no limit.
	MaxPages int

	// SyncOnCommit fdatasyncs the journal after every new key.
	SyncOnCommit bool

	// MaxJournalSize is the journal segment size, journal.DefaultMaxFileSize
	// if zero.
	MaxJournalSize int64

	IsTesting bool
	MmapSize  int
	Now       func() time.Time
}

// Open opens or creates the database in dir.
func Open(dir string, opt Options) (*DB, error) {
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	if opt.KeepSnapshots == 0 {
		opt.KeepSnapshots = DefaultKeepSnapshots
	}

	if err := os.MkdirAll(filepath.Join(dir, journalDirName), 0o777); err != nil {
		return nil, fmt.Errorf("enumdb: %w", err)
	}

	st, err := openBoltStorage(filepath.Join(dir, boltFileName), opt.IsTesting, opt.MmapSize)
	if err != nil {
		return nil, fmt.Errorf("enumdb: %w", err)
	}

	db := &DB{
		ctx:     context.Background(),
		dir:     dir,
		st:      st,
		logger:  opt.Logger,
		verbose: opt.Verbose,
		opt:     opt,
	}
	db.metrics = newMetrics(db, opt.MetricLabels)

	var ok bool
	defer func() {
		if !ok {
			db.abandon()
		}
	}()

	id, created, err := loadOrCreateID(db.st)
	if err != nil {
		return nil, fmt.Errorf("enumdb: %w", err)
	}
	db.id = id
	if created {
		db.logger.LogAttrs(db.ctx, slog.LevelInfo, "enumdb: created database", slog.String("dir", dir), slog.String("id", id.String()))
	}

	if err := db.restore(); err != nil {
		return nil, fmt.Errorf("enumdb: %w", err)
	}

	var inv [32]byte
	copy(inv[:], id[:])
	db.jrnl = journal.New(filepath.Join(dir, journalDirName), journal.Options{
		FileName:         journalFileName,
		MaxFileSize:      opt.MaxJournalSize,
		DebugName:        "enumdb",
		Now:              opt.Now,
		JournalInvariant: inv,
		SyncOnCommit:     opt.SyncOnCommit,
		Logger:           opt.Logger,
		Verbose:          opt.Verbose,
	})
	if err := db.replay(); err != nil {
		return nil, fmt.Errorf("enumdb: journal: %w", err)
	}
	db.jrnl.StartWriting()

	if err := db.metrics.register(opt.Registerer); err != nil {
		return nil, fmt.Errorf("enumdb: metrics: %w", err)
	}

	ok = true
	return db, nil
}

func (db *DB) newSegments() (data, dir segment.Segment, err error) {
	if !db.opt.MappedSegments {
		return segment.NewHeap(db.opt.MaxPages), segment.NewHeap(db.opt.MaxPages), nil
	}
	dataPath := filepath.Join(db.dir, dataSegFileName)
	dirPath := filepath.Join(db.dir, dirSegFileName)
	for _, p := range []string{dataPath, dirPath} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return nil, nil, err
		}
	}
	dm, err := segment.OpenMapped(dataPath, db.opt.MaxPages)
	if err != nil {
		return nil, nil, err
	}
	im, err := segment.OpenMapped(dirPath, db.opt.MaxPages)
	if err != nil {
		dm.Close()
		return nil, nil, err
	}
	return dm, im, nil
}

// restore loads the latest checkpoint, or starts empty.
func (db *DB) restore() error {
	data, dir, err := db.newSegments()
	if err != nil {
		return err
	}

	es, seq, err := loadLatestSnapshot(db.st)
	if err != nil || es == nil {
		if err == nil {
			db.enum = NewWithStore(NewKeyStore(data, dir))
		} else {
			data.Close()
			dir.Close()
		}
		return err
	}

	start := time.Now()
	s, err := DecodeSnapshot(es, data, dir)
	if err != nil {
		data.Close()
		dir.Close()
		return fmt.Errorf("snapshot %d: %w", seq, err)
	}
	db.enum = &Enumeration{}
	if db.opt.VerifyOnOpen {
		if err := db.enum.Unshare(s); err != nil {
			s.Store.Close()
			db.enum = nil
			return fmt.Errorf("snapshot %d: %w", seq, err)
		}
	} else {
		db.enum.UnsafeUnshare(s)
	}
	db.lastSeq = seq
	db.checkpoint = db.enum.Size()

	db.logger.LogAttrs(db.ctx, slog.LevelInfo, "enumdb: restored checkpoint",
		slog.Uint64("seq", seq),
		slog.Uint64("keys", es.Manifest.Count),
		slog.String("compression", es.Manifest.Compression.String()),
		slog.Bool("verified", db.opt.VerifyOnOpen),
		slog.Duration("took", time.Since(start)))
	return nil
}

// replay applies journal records past the checkpoint.
func (db *DB) replay() error {
	var applied int
	err := db.jrnl.Replay(func(rec journal.Record) error {
		index, n := binary.Uvarint(rec.Data)
		if n <= 0 {
			return dataErrf(rec.Data, 0, nil, "segment %d: invalid journal record", rec.Segment)
		}
		key := rec.Data[n:]

		size := db.enum.Size()
		switch {
		case index < size:
			if existing := db.enum.store.Probe(index); string(existing) != string(key) {
				return dataErrf(rec.Data, n, nil, "segment %d: journal has key %s at index %d, checkpoint has %s", rec.Segment, hexstr(key), index, hexstr(existing))
			}
			return nil
		case index > size:
			return dataErrf(rec.Data, 0, nil, "segment %d: journal skips from index %d to %d", rec.Segment, size, index)
		}

		i, err := db.enum.Add(key)
		if err != nil {
			return err
		}
		if i != index {
			return dataErrf(rec.Data, n, nil, "segment %d: journal adds duplicate key %s at index %d, already at %d", rec.Segment, hexstr(key), index, i)
		}
		applied++
		return nil
	})
	if err != nil {
		return err
	}
	db.metrics.replayed.Add(float64(applied))
	if applied > 0 || db.verbose {
		db.logger.LogAttrs(db.ctx, slog.LevelInfo, "enumdb: replayed journal", slog.Int("records", applied), slog.Uint64("size", db.enum.Size()))
	}
	return nil
}

// abandon releases whatever a failed Open has acquired.
func (db *DB) abandon() {
	if db.jrnl != nil {
		db.jrnl.FinishWriting()
	}
	if db.enum != nil {
		db.enum.store.Close()
	}
	db.st.Close()
}

// ID returns the identity generated when the database was created.
func (db *DB) ID() uuid.UUID {
	return db.id
}

func (db *DB) Dir() string {
	return db.dir
}

// Add returns the index of key, assigning and journaling the next index if key
// is new. Once a journal write fails, the key stays in memory but every later
// Add returns the same error; reopen the database to recover.
func (db *DB) Add(key []byte) (uint64, error) {
	db.mu.RLock()
	if db.closed {
		db.mu.RUnlock()
		return 0, ErrClosed
	}
	i, found := db.enum.Lookup(key)
	db.mu.RUnlock()
	if found {
		db.metrics.duplicates.Inc()
		return i, nil
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return 0, ErrClosed
	}
	if db.writeErr != nil {
		return 0, db.writeErr
	}

	size := db.enum.Size()
	i, err := db.enum.Add(key)
	if err != nil {
		return 0, err
	}
	if i < size {
		// added concurrently between the locks
		db.metrics.duplicates.Inc()
		return i, nil
	}

	rec := appendRaw(appendUvarint(journalRecordPool.Get().([]byte), i), key)
	err = db.jrnl.WriteRecord(0, rec)
	releaseJournalRecord(rec)
	if err != nil {
		return 0, db.failWrite(err)
	}
	if err := db.jrnl.Commit(); err != nil {
		return 0, db.failWrite(err)
	}
	db.metrics.added.Inc()
	if db.verbose {
		db.logger.LogAttrs(db.ctx, slog.LevelDebug, "enumdb: added", slog.Uint64("index", i), hexAttr("key", key))
	}

	if n := db.opt.CheckpointEvery; n > 0 && db.enum.Size()-db.checkpoint >= uint64(n) {
		if err := db.checkpoint_locked(); err != nil {
			// the key itself is durable in the journal
			db.logger.LogAttrs(db.ctx, slog.LevelError, "enumdb: automatic checkpoint failed", slog.Any("err", err))
		}
	}
	return i, nil
}

func (db *DB) failWrite(err error) error {
	err = fmt.Errorf("enumdb: journal: %w", err)
	db.writeErr = err
	db.logger.LogAttrs(db.ctx, slog.LevelError, "enumdb: journal write failed", slog.Any("err", err))
	return err
}

// Lookup returns the index of key, if it has been added. A closed database
// holds no keys.
func (db *DB) Lookup(key []byte) (uint64, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return 0, false
	}
	i, ok := db.enum.Lookup(key)
	db.metrics.lookup(ok)
	return i, ok
}

// Get returns a copy of the key at index.
func (db *DB) Get(index uint64) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, ErrClosed
	}
	return db.enum.Get(index)
}

// Size returns the number of keys, or 0 once the database is closed.
func (db *DB) Size() uint64 {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return 0
	}
	return db.enum.Size()
}

// Snapshot returns the current state by reference. Its tree never changes,
// but it shares the key store with the database, so it must only be read
// while no Add is running (heap segments keep old keys readable after
// growth, mapped segments do not). Use EncodeSnapshot under View for a copy.
// A closed database returns the zero Snapshot.
func (db *DB) Snapshot() Snapshot {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return Snapshot{}
	}
	return db.enum.Share()
}

// View runs fn with the current snapshot while holding off writers.
func (db *DB) View(fn func(s Snapshot) error) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return ErrClosed
	}
	return fn(db.enum.Share())
}

// Checkpoint stores the current state in the Bolt file and drops the journal
// segments it covers.
func (db *DB) Checkpoint() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	return db.checkpoint_locked()
}

func (db *DB) checkpoint_locked() error {
	start := time.Now()
	err := db.doCheckpoint_locked()
	if err != nil {
		db.metrics.checkpointFailures.Inc()
		return fmt.Errorf("enumdb: checkpoint: %w", err)
	}
	db.metrics.checkpoints.Inc()
	db.metrics.checkpointDuration.Observe(time.Since(start).Seconds())
	return nil
}

func (db *DB) doCheckpoint_locked() error {
	if db.writeErr != nil {
		return db.writeErr
	}

	// Every record of segments before nextSeg is covered by this checkpoint.
	nextSeg, err := db.jrnl.Rotate()
	if err != nil {
		return db.failWrite(err)
	}

	es := EncodeSnapshot(db.enum.Share(), EncodeOptions{
		Compression: db.opt.Compression,
		Now:         db.opt.Now,
	})
	seq, err := saveSnapshot(db.st, es, db.opt.KeepSnapshots)
	if err != nil {
		return err
	}
	db.lastSeq = seq
	db.checkpoint = es.Manifest.Count

	if err := db.jrnl.DeleteSegmentsBefore(nextSeg); err != nil {
		// stale segments are skipped by replay
		db.logger.LogAttrs(db.ctx, slog.LevelWarn, "enumdb: cannot delete journal segments", slog.Any("err", err))
	}

	db.logger.LogAttrs(db.ctx, slog.LevelInfo, "enumdb: checkpoint",
		slog.Uint64("seq", seq),
		slog.Uint64("keys", es.Manifest.Count),
		slog.Int("bytes", len(es.Tree)+len(es.Dir)+len(es.Data)))
	return nil
}

// Snapshots lists stored checkpoints, oldest first.
func (db *DB) Snapshots() ([]SnapshotInfo, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, ErrClosed
	}
	return listSnapshots(db.st)
}

// Close flushes the journal and releases all resources. Calling Close again
// returns ErrClosed.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}

	var errs []error
	if db.opt.CheckpointOnClose && db.writeErr == nil && db.enum.Size() > db.checkpoint {
		errs = append(errs, db.checkpoint_locked())
	}
	db.metrics.unregister()
	if err := db.jrnl.FinishWriting(); err != nil && db.writeErr == nil {
		errs = append(errs, fmt.Errorf("enumdb: journal: %w", err))
	}
	errs = append(errs, db.enum.store.Close())
	errs = append(errs, db.st.Close())
	db.closed = true
	return errors.Join(errs...)
}
