package txn

import (
	"bytes"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sphildreth/decentdb-sub002/errs"
	"github.com/sphildreth/decentdb-sub002/page"
	"github.com/sphildreth/decentdb-sub002/pager"
	"github.com/sphildreth/decentdb-sub002/vfs"
)

func openManager(t *testing.T) *Manager {
	t.Helper()
	mv := vfs.NewMemVFS()
	dataFile, err := mv.Open("t.db", vfs.ModeReadWrite)
	if err != nil {
		t.Fatalf("open data file: %v", err)
	}
	walFile, err := mv.Open("t.db.wal", vfs.ModeReadWrite)
	if err != nil {
		t.Fatalf("open wal file: %v", err)
	}
	p, err := pager.Open(dataFile, walFile, pager.Options{Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("open pager: %v", err)
	}
	return NewManager(p, 200*time.Millisecond)
}

func TestWriteCommitVisibleToReader(t *testing.T) {
	m := openManager(t)

	w, err := m.BeginWrite()
	if err != nil {
		t.Fatalf("begin write: %v", err)
	}
	id, err := w.View().AllocatePage()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	pg := page.New(w.View().PageSize(), page.TypeBTreeLef, id)
	copy(pg.Data[page.HeaderSize:], []byte("payload"))
	if err := w.View().WritePage(pg); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := w.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	r := m.BeginRead()
	defer r.End()
	got, err := r.View().ReadPage(id)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.HasPrefix(got.Data[page.HeaderSize:], []byte("payload")) {
		t.Fatal("committed write not visible to a new reader")
	}
}

func TestSecondWriterBlocksUntilFirstFinishes(t *testing.T) {
	m := openManager(t)

	w1, err := m.BeginWrite()
	if err != nil {
		t.Fatalf("begin write 1: %v", err)
	}

	if _, err := m.BeginWrite(); err == nil {
		t.Fatal("expected second concurrent writer to time out")
	} else if !errs.Is(err, errs.KindTransaction) {
		t.Fatalf("expected a transaction-kind busy error, got %v", err)
	}

	if err := w1.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	w2, err := m.BeginWrite()
	if err != nil {
		t.Fatalf("begin write 2 after first released: %v", err)
	}
	if _, err := w2.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestReaderSeesPreCommitSnapshotOnly(t *testing.T) {
	m := openManager(t)

	w, err := m.BeginWrite()
	if err != nil {
		t.Fatalf("begin write: %v", err)
	}
	id, err := w.View().AllocatePage()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	pg := page.New(w.View().PageSize(), page.TypeBTreeLef, id)
	copy(pg.Data[page.HeaderSize:], []byte("v1"))
	if err := w.View().WritePage(pg); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := w.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	r := m.BeginRead()
	defer r.End()

	w2, err := m.BeginWrite()
	if err != nil {
		t.Fatalf("begin write 2: %v", err)
	}
	pg2 := page.New(w2.View().PageSize(), page.TypeBTreeLef, id)
	copy(pg2.Data[page.HeaderSize:], []byte("v2"))
	if err := w2.View().WritePage(pg2); err != nil {
		t.Fatalf("write v2: %v", err)
	}
	if _, err := w2.Commit(); err != nil {
		t.Fatalf("commit v2: %v", err)
	}

	got, err := r.View().ReadPage(id)
	if err != nil {
		t.Fatalf("read via old snapshot: %v", err)
	}
	if !bytes.HasPrefix(got.Data[page.HeaderSize:], []byte("v1")) {
		t.Fatalf("reader snapshot should still see v1, got %q", got.Data[page.HeaderSize:page.HeaderSize+2])
	}
}

func TestSavepointRollbackUndoesOnlyThatStatement(t *testing.T) {
	m := openManager(t)
	w, err := m.BeginWrite()
	if err != nil {
		t.Fatalf("begin write: %v", err)
	}

	id1, err := w.View().AllocatePage()
	if err != nil {
		t.Fatalf("allocate 1: %v", err)
	}
	pg1 := page.New(w.View().PageSize(), page.TypeBTreeLef, id1)
	copy(pg1.Data[page.HeaderSize:], []byte("keep"))
	if err := w.View().WritePage(pg1); err != nil {
		t.Fatalf("write 1: %v", err)
	}

	sp, err := w.Savepoint()
	if err != nil {
		t.Fatalf("savepoint: %v", err)
	}

	id2, err := w.View().AllocatePage()
	if err != nil {
		t.Fatalf("allocate 2: %v", err)
	}
	pg2 := page.New(w.View().PageSize(), page.TypeBTreeLef, id2)
	copy(pg2.Data[page.HeaderSize:], []byte("undone"))
	if err := w.View().WritePage(pg2); err != nil {
		t.Fatalf("write 2: %v", err)
	}

	if err := w.RollbackTo(sp); err != nil {
		t.Fatalf("rollback to savepoint: %v", err)
	}

	if _, err := w.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	r := m.BeginRead()
	defer r.End()
	got, err := r.View().ReadPage(id1)
	if err != nil {
		t.Fatalf("read id1: %v", err)
	}
	if !bytes.HasPrefix(got.Data[page.HeaderSize:], []byte("keep")) {
		t.Fatal("write made before the savepoint must survive RollbackTo")
	}
	if id2 == id1 {
		t.Fatal("allocation must have produced distinct page ids")
	}
}

func TestDoubleFinishIsRejected(t *testing.T) {
	m := openManager(t)
	w, err := m.BeginWrite()
	if err != nil {
		t.Fatalf("begin write: %v", err)
	}
	if _, err := w.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := w.Commit(); err == nil {
		t.Fatal("expected committing an already-finished transaction to fail")
	}
	if err := w.Rollback(); err == nil {
		t.Fatal("expected rolling back an already-finished transaction to fail")
	}
}
