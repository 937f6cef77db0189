package catalog

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/sphildreth/decentdb-sub002/pager"
	"github.com/sphildreth/decentdb-sub002/record"
	"github.com/sphildreth/decentdb-sub002/vfs"
)

func openWriter(t *testing.T) *pager.WriterView {
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
	p, err := pager.Open(dataFile, walFile, pager.Options{PageSize: 512, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("open pager: %v", err)
	}
	p.BeginWrite()
	return p.Writer()
}

func idColumns() []ColumnDef {
	return []ColumnDef{
		{Name: "id", Type: record.KindInt64, NotNull: true},
		{Name: "name", Type: record.KindText},
	}
}

func TestCreateAndLookupTable(t *testing.T) {
	w := openWriter(t)
	cat, err := Open(w)
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}

	before := w.Header().SchemaCookie
	tbl, err := cat.CreateTable("users", idColumns())
	if err != nil {
		t.Fatalf("create table: %v", err)
	}
	if tbl.RootPageID == 0 {
		t.Fatal("expected a non-zero primary storage root")
	}
	if w.Header().SchemaCookie != before+1 {
		t.Fatalf("schema cookie = %d, want %d", w.Header().SchemaCookie, before+1)
	}

	got, ok, err := cat.LookupTable("users")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !ok {
		t.Fatal("expected to find the created table")
	}
	if got.Name != "users" || len(got.Columns) != 2 || got.Columns[1].Name != "name" {
		t.Fatalf("unexpected descriptor: %+v", got)
	}
}

func TestCreateTableDuplicateNameRejected(t *testing.T) {
	w := openWriter(t)
	cat, err := Open(w)
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	if _, err := cat.CreateTable("users", idColumns()); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := cat.CreateTable("users", idColumns()); err == nil {
		t.Fatal("expected duplicate table creation to fail")
	}
}

func TestNextRowIDIncrements(t *testing.T) {
	w := openWriter(t)
	cat, err := Open(w)
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	if _, err := cat.CreateTable("users", idColumns()); err != nil {
		t.Fatalf("create: %v", err)
	}

	first, err := cat.NextRowID("users")
	if err != nil {
		t.Fatalf("next row id: %v", err)
	}
	second, err := cat.NextRowID("users")
	if err != nil {
		t.Fatalf("next row id: %v", err)
	}
	if first != 1 || second != 2 {
		t.Fatalf("rowids = %d, %d, want 1, 2", first, second)
	}
}

func TestCreateIndexAndDropTableCascades(t *testing.T) {
	w := openWriter(t)
	cat, err := Open(w)
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	if _, err := cat.CreateTable("users", idColumns()); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := cat.CreateIndex("idx_users_id", "users", []string{"id"}, IndexUnique); err != nil {
		t.Fatalf("create index: %v", err)
	}

	idxs, err := cat.IndexesOnTable("users")
	if err != nil {
		t.Fatalf("indexes on table: %v", err)
	}
	if len(idxs) != 1 {
		t.Fatalf("expected one index, got %d", len(idxs))
	}

	if err := cat.DropTable("users"); err != nil {
		t.Fatalf("drop table: %v", err)
	}
	if _, ok, err := cat.LookupTable("users"); err != nil || ok {
		t.Fatalf("expected table to be gone, ok=%v err=%v", ok, err)
	}
	if _, ok, err := cat.LookupIndex("idx_users_id"); err != nil || ok {
		t.Fatalf("expected dependent index to be dropped by cascade, ok=%v err=%v", ok, err)
	}
}

func TestCreateIndexRejectsTrigram(t *testing.T) {
	w := openWriter(t)
	cat, err := Open(w)
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	if _, err := cat.CreateTable("docs", idColumns()); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := cat.CreateIndex("idx_docs_trgm", "docs", []string{"name"}, IndexTrigram); err == nil {
		t.Fatal("expected trigram index creation to be rejected")
	}
}

func TestForeignKeyRequiresParentUniqueIndex(t *testing.T) {
	w := openWriter(t)
	cat, err := Open(w)
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	if _, err := cat.CreateTable("parent", idColumns()); err != nil {
		t.Fatalf("create parent: %v", err)
	}
	if _, err := cat.CreateTable("child", idColumns()); err != nil {
		t.Fatalf("create child: %v", err)
	}

	if _, err := cat.CreateForeignKey("fk_child_parent", "child", []string{"id"}, "parent", []string{"id"}, FKRestrict); err == nil {
		t.Fatal("expected foreign key creation to fail without a parent unique index")
	}

	if _, err := cat.CreateIndex("idx_parent_id", "parent", []string{"id"}, IndexUnique); err != nil {
		t.Fatalf("create parent index: %v", err)
	}

	fk, err := cat.CreateForeignKey("fk_child_parent", "child", []string{"id"}, "parent", []string{"id"}, FKRestrict)
	if err != nil {
		t.Fatalf("create foreign key: %v", err)
	}
	if fk.Action != FKRestrict {
		t.Fatalf("action = %v, want FKRestrict", fk.Action)
	}

	// A supporting index on the child side should have been auto-created.
	childIdxs, err := cat.IndexesOnTable("child")
	if err != nil {
		t.Fatalf("indexes on child: %v", err)
	}
	if len(childIdxs) != 1 {
		t.Fatalf("expected an auto-created child index, got %d", len(childIdxs))
	}

	fks, err := cat.ForeignKeysOnParent("parent")
	if err != nil {
		t.Fatalf("foreign keys on parent: %v", err)
	}
	if len(fks) != 1 || fks[0].Name != "fk_child_parent" {
		t.Fatalf("unexpected foreign keys on parent: %+v", fks)
	}
}

func TestColumnDefaultRoundTrips(t *testing.T) {
	w := openWriter(t)
	cat, err := Open(w)
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	cols := []ColumnDef{
		{Name: "id", Type: record.KindInt64, NotNull: true},
		{Name: "active", Type: record.KindBool, HasDefault: true, Default: record.Bool(true)},
	}
	if _, err := cat.CreateTable("flags", cols); err != nil {
		t.Fatalf("create table: %v", err)
	}
	got, ok, err := cat.LookupTable("flags")
	if err != nil || !ok {
		t.Fatalf("lookup: ok=%v err=%v", ok, err)
	}
	if !got.Columns[1].HasDefault || got.Columns[1].Default.Boolean != true {
		t.Fatalf("default did not round-trip: %+v", got.Columns[1])
	}
}
