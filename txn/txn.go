package txn

import (
	"time"

	"github.com/sphildreth/decentdb-sub002/errs"
	"github.com/sphildreth/decentdb-sub002/pager"
)

// Manager is the single entry point for beginning transactions against one
// open database (spec §4.2 "Writer"/"Reader" lifecycles).
type Manager struct {
	p           *pager.Pager
	lock        *WriterLock
	busyTimeout time.Duration
}

// NewManager returns a Manager over p. busyTimeout <= 0 means Acquire
// blocks forever (spec §6.3 "busy_timeout_ms").
func NewManager(p *pager.Pager, busyTimeout time.Duration) *Manager {
	return &Manager{p: p, lock: NewWriterLock(), busyTimeout: busyTimeout}
}

// Writer is a single in-progress write transaction. It must be ended by
// exactly one of Commit or Rollback.
type Writer struct {
	mgr        *Manager
	view       *pager.WriterView
	savepoints []pager.Savepoint
	done       bool
}

// BeginWrite acquires the writer_lock (blocking up to the configured busy
// timeout) and starts a new write transaction (spec §4.1 step 1, §4.2
// "begin_write").
func (m *Manager) BeginWrite() (*Writer, error) {
	if err := m.lock.Acquire(m.busyTimeout); err != nil {
		return nil, err
	}
	m.p.BeginWrite()
	return &Writer{mgr: m, view: m.p.Writer()}, nil
}

// View returns the PageStore-shaped handle record/btree operations use to
// read and write pages within this transaction.
func (w *Writer) View() *pager.WriterView { return w.view }

// Savepoint marks the current position and returns an id for a later
// RollbackTo or Release (spec §4.3 "statement-level savepoints").
func (w *Writer) Savepoint() (int, error) {
	if w.done {
		return 0, errs.Busy("transaction_finished", "transaction already committed or rolled back")
	}
	w.savepoints = append(w.savepoints, w.mgr.p.Mark())
	return len(w.savepoints) - 1, nil
}

// RollbackTo undoes every write made since the named savepoint, without
// ending the transaction, and discards it and any later savepoint.
func (w *Writer) RollbackTo(id int) error {
	if w.done {
		return errs.Busy("transaction_finished", "transaction already committed or rolled back")
	}
	if id < 0 || id >= len(w.savepoints) {
		return errs.New(errs.KindTransaction, "unknown_savepoint", "savepoint id is not open on this transaction")
	}
	if err := w.mgr.p.RollbackTo(w.savepoints[id]); err != nil {
		return err
	}
	w.savepoints = w.savepoints[:id]
	return nil
}

// Release discards a savepoint (and any later one) without undoing its
// writes — the statement it guarded succeeded.
func (w *Writer) Release(id int) error {
	if id < 0 || id >= len(w.savepoints) {
		return errs.New(errs.KindTransaction, "unknown_savepoint", "savepoint id is not open on this transaction")
	}
	w.savepoints = w.savepoints[:id]
	return nil
}

// Commit publishes the transaction's writes and releases the writer_lock
// (spec §4.1 step 4-8, §4.2 "commit").
func (w *Writer) Commit() (uint64, error) {
	if w.done {
		return 0, errs.Busy("transaction_finished", "transaction already committed or rolled back")
	}
	w.done = true
	defer w.mgr.lock.Release()
	return w.mgr.p.Commit()
}

// Rollback discards the transaction's writes and releases the writer_lock
// (spec §4.2 "rollback").
func (w *Writer) Rollback() error {
	if w.done {
		return errs.Busy("transaction_finished", "transaction already committed or rolled back")
	}
	w.done = true
	defer w.mgr.lock.Release()
	return w.mgr.p.Rollback()
}

// Reader is a snapshot-isolated read transaction: every page it reads
// reflects the database exactly as of BeginRead, regardless of any writer
// that commits afterward (spec §4.2 "begin_read").
type Reader struct {
	mgr      *Manager
	view     *pager.ReaderView
	snapshot uint64
	done     bool
}

// BeginRead registers a new reader snapshot. It never blocks on the
// writer_lock (spec §209 "any number of reader threads proceed
// concurrently ... with the writer").
func (m *Manager) BeginRead() *Reader {
	snap := m.p.BeginSnapshot()
	return &Reader{mgr: m, view: m.p.Reader(snap), snapshot: snap}
}

// View returns the PageStore-shaped handle bound to this reader's snapshot.
func (r *Reader) View() *pager.ReaderView { return r.view }

// Snapshot returns the WAL offset this reader is pinned to.
func (r *Reader) Snapshot() uint64 { return r.snapshot }

// End releases the reader's snapshot, allowing a future checkpoint to
// reclaim WAL space up to it. Idempotent.
func (r *Reader) End() {
	if r.done {
		return
	}
	r.done = true
	r.mgr.p.EndSnapshot(r.snapshot)
}
