package decentdb

import (
	"sync"
	"time"

	"github.com/sphildreth/decentdb-sub002/catalog"
	"github.com/sphildreth/decentdb-sub002/pager"
	"github.com/sphildreth/decentdb-sub002/txn"
	"github.com/sphildreth/decentdb-sub002/vfs"
)

// Engine is one open database: the page store, its WAL, the single-writer
// admission protocol, and the system catalog, bound together (spec §4,
// §6.5).
type Engine struct {
	cfg      Config
	dataFile vfs.File
	walFile  vfs.File
	pager    *pager.Pager
	mgr      *txn.Manager
	lock     *vfs.FileLock

	checkpointMu   sync.Mutex
	lastCheckpoint time.Time
}

// walSuffix is appended to the data file path to name its WAL file
// (spec §6.2 "<db>" and "<db>.wal").
const walSuffix = ".wal"

// Open opens path under fsys, creating a new empty database if it does
// not exist. For a database whose header names no system catalog trees
// yet, Open bootstraps all three root trees in a write transaction of its
// own before returning.
func Open(fsys vfs.VFS, path string, cfg Config) (*Engine, error) {
	// The advisory file lock guards against a second process opening the
	// same database file (spec §6.1); it only makes sense against the real
	// filesystem, where "another process" is possible, so a non-OS VFS
	// (MemVFS, FaultyVFS) skips it entirely.
	var lock *vfs.FileLock
	if fsys == vfs.OS {
		l, err := vfs.LockFile(path)
		if err != nil {
			return nil, err
		}
		lock = l
	}

	dataFile, err := fsys.Open(path, vfs.ModeReadWrite)
	if err != nil {
		if lock != nil {
			lock.Unlock()
		}
		return nil, err
	}
	walFile, err := fsys.Open(path+walSuffix, vfs.ModeReadWrite)
	if err != nil {
		dataFile.Close()
		if lock != nil {
			lock.Unlock()
		}
		return nil, err
	}

	p, err := pager.Open(dataFile, walFile, pager.Options{
		PageSize:   cfg.PageSize,
		CachePages: cfg.CacheSizePages,
		SyncMode:   cfg.WALSyncMode.toWAL(),
		Logger:     cfg.Logger,
	})
	if err != nil {
		dataFile.Close()
		walFile.Close()
		if lock != nil {
			lock.Unlock()
		}
		return nil, err
	}

	e := &Engine{
		cfg:            cfg,
		dataFile:       dataFile,
		walFile:        walFile,
		pager:          p,
		mgr:            txn.NewManager(p, cfg.busyTimeout()),
		lock:           lock,
		lastCheckpoint: cfg.clock().Now(),
	}

	// Bootstrapping the catalog's system trees (if this is a brand new
	// database) needs a write transaction: catalog.Open allocates and
	// persists a root page id for any system tree the header doesn't
	// already name.
	w, err := e.mgr.BeginWrite()
	if err != nil {
		e.Close()
		return nil, err
	}
	if _, err := catalog.Open(w.View()); err != nil {
		w.Rollback()
		e.Close()
		return nil, err
	}
	if _, err := w.Commit(); err != nil {
		e.Close()
		return nil, err
	}

	return e, nil
}

// Checkpoint flushes the WAL's committed frames into the page file and
// truncates the WAL up to the oldest registered reader snapshot (spec
// §4.4.4).
func (e *Engine) Checkpoint() error {
	err := e.pager.Checkpoint()
	if err == nil {
		e.checkpointMu.Lock()
		e.lastCheckpoint = e.cfg.clock().Now()
		e.checkpointMu.Unlock()
	}
	return err
}

// maybeAutoCheckpoint is called after every successful write commit and
// attempts a checkpoint if either configured trigger has fired (spec
// §4.4.4 "Triggers: byte threshold ... time threshold"). It runs with the
// writer_lock already released, so it competes for admission with any new
// writer the same way an explicit Engine.Checkpoint call would; a failure
// here is logged and otherwise ignored; it must never fail the commit that
// triggered it; the commit already happened, it is durable regardless.
func (e *Engine) maybeAutoCheckpoint() {
	e.checkpointMu.Lock()
	due := false
	if e.cfg.CheckpointBytes > 0 && int64(e.pager.WALEndOffset()) >= e.cfg.CheckpointBytes {
		due = true
	}
	if !due && e.cfg.CheckpointMillis > 0 {
		elapsed := e.cfg.clock().Now().Sub(e.lastCheckpoint)
		due = elapsed >= time.Duration(e.cfg.CheckpointMillis)*time.Millisecond
	}
	e.checkpointMu.Unlock()
	if !due {
		return
	}
	if err := e.Checkpoint(); err != nil {
		e.cfg.Logger.Warn().Err(err).Msg("auto checkpoint failed")
	}
}

// Close closes the database and WAL files and releases the file lock. Any in-progress
// write transaction must be committed or rolled back first.
func (e *Engine) Close() error {
	err := e.pager.Close()
	if walErr := e.walFile.Close(); err == nil {
		err = walErr
	}
	if e.lock != nil {
		if lockErr := e.lock.Unlock(); err == nil {
			err = lockErr
		}
	}
	return err
}

// BeginWrite acquires the writer_lock and opens a write transaction bound
// to its own view of the system catalog (spec §4.1, §4.2 "begin_write").
func (e *Engine) BeginWrite() (*WriteTxn, error) {
	w, err := e.mgr.BeginWrite()
	if err != nil {
		return nil, err
	}
	cat, err := catalog.Open(w.View())
	if err != nil {
		w.Rollback()
		return nil, err
	}
	return &WriteTxn{w: w, cat: cat, eng: e}, nil
}

// BeginRead opens a snapshot-isolated read transaction. It never blocks
// on the writer_lock (spec §4.2 "begin_read").
func (e *Engine) BeginRead() (*ReadTxn, error) {
	r := e.mgr.BeginRead()
	cat, err := catalog.Open(r.View())
	if err != nil {
		r.End()
		return nil, err
	}
	return &ReadTxn{r: r, cat: cat}, nil
}
