package wal

import (
	"bytes"
	"testing"

	"github.com/sphildreth/decentdb-sub002/page"
	"github.com/sphildreth/decentdb-sub002/vfs"
)

func openMem(t *testing.T) (*WAL, vfs.File, vfs.VFS) {
	t.Helper()
	mv := vfs.NewMemVFS()
	f, err := mv.Open(":memory:", vfs.ModeReadWrite)
	if err != nil {
		t.Fatalf("open mem file: %v", err)
	}
	w, err := Open(f, SyncFull)
	if err != nil {
		t.Fatalf("open wal: %v", err)
	}
	return w, f, mv
}

func TestNewWALHasHeader(t *testing.T) {
	w, _, _ := openMem(t)
	if w.WalEndOffset() != HeaderSize {
		t.Fatalf("fresh WAL end offset = %d, want %d", w.WalEndOffset(), HeaderSize)
	}
}

func TestLogAndCommitMakesPageVisible(t *testing.T) {
	w, _, _ := openMem(t)
	snapshotBefore := w.RegisterReader()
	defer w.UnregisterReader(snapshotBefore)

	data := bytes.Repeat([]byte{0xAB}, page.DefaultPageSize)
	if err := w.LogPage(3, data); err != nil {
		t.Fatalf("log page: %v", err)
	}

	// Not yet visible to the snapshot captured before the write.
	if _, ok := w.Lookup(3, snapshotBefore); ok {
		t.Fatal("uncommitted page should not be visible")
	}

	lsn, err := w.Commit()
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if lsn == 0 {
		t.Fatal("expected nonzero commit lsn")
	}

	snapshotAfter := w.RegisterReader()
	defer w.UnregisterReader(snapshotAfter)
	offset, ok := w.Lookup(3, snapshotAfter)
	if !ok {
		t.Fatal("expected committed page to be visible to a later snapshot")
	}
	id, got, err := w.ReadFrame(offset)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if id != 3 || !bytes.Equal(got, data) {
		t.Fatalf("frame mismatch: id=%v len=%d", id, len(got))
	}
}

func TestRollbackDoesNotPublish(t *testing.T) {
	w, _, _ := openMem(t)
	before := w.WalEndOffset()

	if err := w.LogPage(1, bytes.Repeat([]byte{1}, 100)); err != nil {
		t.Fatalf("log: %v", err)
	}
	if err := w.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	if w.WalEndOffset() != before {
		t.Fatalf("rollback must not move wal_end_offset: before=%d after=%d", before, w.WalEndOffset())
	}
	snap := w.RegisterReader()
	defer w.UnregisterReader(snap)
	if _, ok := w.Lookup(1, snap); ok {
		t.Fatal("rolled-back page must not be visible")
	}
}

// TestRollbackSurvivesRecoveryAfterLaterCommit guards against a rolled-back
// frame getting stitched into a later transaction's commit during recovery:
// Rollback must physically truncate the file, not just forget the frame in
// memory, since recovery replays frames by file position alone.
func TestRollbackSurvivesRecoveryAfterLaterCommit(t *testing.T) {
	mv := vfs.NewMemVFS()
	f, _ := mv.Open(":memory:", vfs.ModeReadWrite)
	w, err := Open(f, SyncFull)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := w.LogPage(9, []byte("aborted")); err != nil {
		t.Fatalf("log: %v", err)
	}
	if err := w.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	if err := w.LogPage(9, []byte("committed")); err != nil {
		t.Fatalf("log: %v", err)
	}
	if _, err := w.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	reopened, err := Open(f, SyncFull)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	snap := reopened.RegisterReader()
	defer reopened.UnregisterReader(snap)
	offset, ok := reopened.Lookup(9, snap)
	if !ok {
		t.Fatal("expected the committed page to survive recovery")
	}
	_, data, err := reopened.ReadFrame(offset)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if string(data) != "committed" {
		t.Fatalf("recovered frame = %q, want %q (rolled-back frame must not resurface)", data, "committed")
	}
}

func TestRecoveryStopsAtTornTail(t *testing.T) {
	mv := vfs.NewMemVFS()
	f, _ := mv.Open(":memory:", vfs.ModeReadWrite)
	w, err := Open(f, SyncFull)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := w.LogPage(1, []byte("aaaa")); err != nil {
		t.Fatalf("log: %v", err)
	}
	if _, err := w.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	committedEnd := w.WalEndOffset()

	// Start a second transaction and simulate a crash before its Commit
	// frame is written by logging a page but never calling Commit, then
	// reopening fresh.
	if err := w.LogPage(2, []byte("bbbb")); err != nil {
		t.Fatalf("log second: %v", err)
	}

	reopened, err := Open(f, SyncFull)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.WalEndOffset() != committedEnd {
		t.Fatalf("recovery end offset = %d, want %d (last good commit)", reopened.WalEndOffset(), committedEnd)
	}
	snap := reopened.RegisterReader()
	defer reopened.UnregisterReader(snap)
	if _, ok := reopened.Lookup(2, snap); ok {
		t.Fatal("uncommitted tail page must not survive recovery")
	}
	if _, ok := reopened.Lookup(1, snap); !ok {
		t.Fatal("committed page before the torn tail must survive recovery")
	}
}

type fakeStore struct {
	pageSize int
	written  map[page.ID][]byte
}

func newFakeStore(pageSize int) *fakeStore {
	return &fakeStore{pageSize: pageSize, written: make(map[page.ID][]byte)}
}

func (s *fakeStore) PageSize() int { return s.pageSize }

func (s *fakeStore) WritePageFileImage(id page.ID, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	s.written[id] = cp
	return nil
}

func (s *fakeStore) FlushPageFile() error { return nil }

func (s *fakeStore) InvalidatePageCache(page.ID) {}

func TestCheckpointCopiesDurablePagesAndTruncatesWhenNoReaders(t *testing.T) {
	w, _, _ := openMem(t)
	if err := w.LogPage(5, bytes.Repeat([]byte{0x11}, 16)); err != nil {
		t.Fatalf("log: %v", err)
	}
	if _, err := w.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	store := newFakeStore(page.DefaultPageSize)
	if err := w.Checkpoint(store); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if _, ok := store.written[5]; !ok {
		t.Fatal("expected checkpoint to copy page 5 into the page file")
	}
	if w.WalEndOffset() != HeaderSize {
		t.Fatalf("expected WAL to be reset to header-only after checkpoint with no readers, got end=%d", w.WalEndOffset())
	}
}

func TestCheckpointRespectsRegisteredReaderSnapshot(t *testing.T) {
	w, _, _ := openMem(t)
	if err := w.LogPage(1, []byte("first")); err != nil {
		t.Fatalf("log: %v", err)
	}
	if _, err := w.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	readerSnapshot := w.RegisterReader()
	defer w.UnregisterReader(readerSnapshot)

	if err := w.LogPage(1, []byte("secnd")); err != nil {
		t.Fatalf("log: %v", err)
	}
	if _, err := w.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	store := newFakeStore(page.DefaultPageSize)
	if err := w.Checkpoint(store); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if w.WalEndOffset() == HeaderSize {
		t.Fatal("checkpoint must not truncate past a straddling reader's snapshot")
	}
}
