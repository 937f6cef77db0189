package decentdb

import (
	"github.com/sphildreth/decentdb-sub002/btree"
	"github.com/sphildreth/decentdb-sub002/catalog"
	"github.com/sphildreth/decentdb-sub002/errs"
	"github.com/sphildreth/decentdb-sub002/record"
	"github.com/sphildreth/decentdb-sub002/txn"
)

// WriteTxn is a single in-progress write transaction: the writer_lock is
// held for its entire lifetime (spec §4.1). It must be ended by exactly
// one of Commit or Rollback.
type WriteTxn struct {
	w   *txn.Writer
	cat *catalog.Catalog
	eng *Engine
}

// Catalog returns the system catalog as seen by this transaction.
func (wt *WriteTxn) Catalog() *catalog.Catalog { return wt.cat }

// Savepoint marks the current position for a later RollbackTo or Release
// (spec §4.3).
func (wt *WriteTxn) Savepoint() (int, error) { return wt.w.Savepoint() }

// RollbackTo undoes every write made since the named savepoint.
func (wt *WriteTxn) RollbackTo(id int) error { return wt.w.RollbackTo(id) }

// Release discards a savepoint without undoing its writes.
func (wt *WriteTxn) Release(id int) error { return wt.w.Release(id) }

// Commit publishes every write made in this transaction, releases the
// writer_lock, and opportunistically runs a checkpoint if a configured
// byte or time threshold has been crossed (spec §4.4.4 "Triggers").
func (wt *WriteTxn) Commit() (uint64, error) {
	lsn, err := wt.w.Commit()
	if err == nil && wt.eng != nil {
		wt.eng.maybeAutoCheckpoint()
	}
	return lsn, err
}

// Rollback discards every write made in this transaction and releases the
// writer_lock.
func (wt *WriteTxn) Rollback() error { return wt.w.Rollback() }

// TableCursor returns a Cursor over table's primary storage tree.
func (wt *WriteTxn) TableCursor(table string) (*Cursor, error) {
	td, ok, err := wt.cat.LookupTable(table)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.Constraint("table_not_found", "no such table: "+table)
	}
	return &Cursor{tree: btree.Open(wt.w.View(), td.RootPageID, true)}, nil
}

// IndexCursor returns a Cursor over the named index's tree.
func (wt *WriteTxn) IndexCursor(name string) (*Cursor, error) {
	idx, ok, err := wt.cat.LookupIndex(name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.Constraint("index_not_found", "no such index: "+name)
	}
	return &Cursor{tree: btree.Open(wt.w.View(), idx.RootPageID, idx.Kind == catalog.IndexUnique)}, nil
}

// InsertRow applies column defaults, enforces NOT NULL, unique-index, and
// foreign-key constraints, then inserts values as a new row of table,
// maintaining every index defined on it (spec §4.7, §8 "every index's
// entries agree with the table it's built from").
func (wt *WriteTxn) InsertRow(table string, values record.Record) (uint64, error) {
	td, ok, err := wt.cat.LookupTable(table)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, errs.Constraint("table_not_found", "no such table: "+table)
	}
	values, err = applyDefaults(td, values)
	if err != nil {
		return 0, err
	}

	indexes, err := wt.cat.IndexesOnTable(table)
	if err != nil {
		return 0, err
	}
	view := wt.w.View()
	for _, idx := range indexes {
		if idx.Kind != catalog.IndexUnique {
			continue
		}
		key, err := indexKey(td, idx, values)
		if err != nil {
			return 0, err
		}
		entries, err := btree.Open(view, idx.RootPageID, true).Lookup(key)
		if err != nil {
			return 0, err
		}
		if len(entries) > 0 {
			return 0, errs.Constraint("unique_violation", "value violates unique index "+idx.Name)
		}
	}

	if err := wt.checkForeignKeysOnInsert(table, td, values); err != nil {
		return 0, err
	}

	rowID, err := wt.cat.NextRowID(table)
	if err != nil {
		return 0, err
	}
	encoded, err := record.Encode(values, view)
	if err != nil {
		return 0, err
	}
	if err := btree.Open(view, td.RootPageID, true).Insert(EncodeRowID(rowID), 0, encoded); err != nil {
		return 0, err
	}
	for _, idx := range indexes {
		key, err := indexKey(td, idx, values)
		if err != nil {
			return 0, err
		}
		unique := idx.Kind == catalog.IndexUnique
		if err := btree.Open(view, idx.RootPageID, unique).Insert(key, rowID, EncodeRowID(rowID)); err != nil {
			return 0, err
		}
	}
	return rowID, nil
}

// checkForeignKeysOnInsert rejects a child-row insert whose foreign-key
// columns are not all null and don't match any row of the parent table's
// supporting unique index (spec §4.7 "enforced at statement time").
func (wt *WriteTxn) checkForeignKeysOnInsert(table string, td catalog.TableDef, values record.Record) error {
	fks, err := wt.cat.ForeignKeysOnChild(table)
	if err != nil {
		return err
	}
	if len(fks) == 0 {
		return nil
	}
	view := wt.w.View()
	for _, fk := range fks {
		childKey, err := indexKey(td, catalog.IndexDef{Columns: fk.ChildColumns}, values)
		if err != nil {
			return err
		}
		if allNull(td, fk.ChildColumns, values) {
			continue
		}
		if _, ok, err := wt.cat.LookupTable(fk.ParentTable); err != nil {
			return err
		} else if !ok {
			return errs.Internal("fk_parent_missing", "foreign key "+fk.Name+" references a dropped parent table")
		}
		parentIndexes, err := wt.cat.IndexesOnTable(fk.ParentTable)
		if err != nil {
			return err
		}
		parentIdx, ok := findCoveringIndex(parentIndexes, fk.ParentColumns, true)
		if !ok {
			return errs.Internal("fk_parent_index_missing", "foreign key "+fk.Name+" has no supporting parent index")
		}
		entries, err := btree.Open(view, parentIdx.RootPageID, true).Lookup(childKey)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return errs.Constraint("foreign_key_violation", "value violates foreign key "+fk.Name)
		}
	}
	return nil
}

// allNull reports whether every named column of values is Null, the
// convention under which a foreign key is not enforced for this row.
func allNull(td catalog.TableDef, cols []string, values record.Record) bool {
	for _, name := range cols {
		for j, col := range td.Columns {
			if col.Name == name {
				if !values[j].IsNull() {
					return false
				}
			}
		}
	}
	return true
}

// DeleteRow removes rowID from table, rejecting the delete if another
// table's RESTRICT foreign key still references it, and removes the row's
// entry from every index on table.
func (wt *WriteTxn) DeleteRow(table string, rowID uint64) error {
	td, ok, err := wt.cat.LookupTable(table)
	if err != nil {
		return err
	}
	if !ok {
		return errs.Constraint("table_not_found", "no such table: "+table)
	}
	view := wt.w.View()
	tableTree := btree.Open(view, td.RootPageID, true)
	entries, err := tableTree.Lookup(EncodeRowID(rowID))
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return errs.Constraint("row_not_found", "no such row")
	}
	oldValues, err := record.Decode(entries[0].Value, view)
	if err != nil {
		return err
	}

	if err := wt.checkForeignKeysOnDelete(table, td, oldValues); err != nil {
		return err
	}

	if err := tableTree.Delete(EncodeRowID(rowID), 0); err != nil {
		return err
	}

	indexes, err := wt.cat.IndexesOnTable(table)
	if err != nil {
		return err
	}
	for _, idx := range indexes {
		key, err := indexKey(td, idx, oldValues)
		if err != nil {
			return err
		}
		unique := idx.Kind == catalog.IndexUnique
		if err := btree.Open(view, idx.RootPageID, unique).Delete(key, rowID); err != nil {
			return err
		}
	}
	return nil
}

// checkForeignKeysOnDelete rejects deleting a parent row that a RESTRICT
// foreign key still points to from some child row (spec §4.7 "RESTRICT").
func (wt *WriteTxn) checkForeignKeysOnDelete(table string, td catalog.TableDef, oldValues record.Record) error {
	fks, err := wt.cat.ForeignKeysOnParent(table)
	if err != nil {
		return err
	}
	if len(fks) == 0 {
		return nil
	}
	view := wt.w.View()
	for _, fk := range fks {
		if fk.Action != catalog.FKRestrict {
			continue
		}
		parentKey, err := indexKey(td, catalog.IndexDef{Columns: fk.ParentColumns}, oldValues)
		if err != nil {
			return err
		}
		childIndexes, err := wt.cat.IndexesOnTable(fk.ChildTable)
		if err != nil {
			return err
		}
		childIdx, ok := findCoveringIndex(childIndexes, fk.ChildColumns, false)
		if !ok {
			continue
		}
		entries, err := btree.Open(view, childIdx.RootPageID, childIdx.Kind == catalog.IndexUnique).Lookup(parentKey)
		if err != nil {
			return err
		}
		if len(entries) > 0 {
			return errs.Constraint("foreign_key_restrict", "row is referenced by foreign key "+fk.Name)
		}
	}
	return nil
}

// ReadTxn is a snapshot-isolated read transaction: every page it reads
// reflects the database exactly as of BeginRead (spec §4.2 "begin_read").
type ReadTxn struct {
	r   *txn.Reader
	cat *catalog.Catalog
}

// Catalog returns the system catalog as seen by this transaction.
func (rt *ReadTxn) Catalog() *catalog.Catalog { return rt.cat }

// Snapshot returns the WAL offset this reader is pinned to.
func (rt *ReadTxn) Snapshot() uint64 { return rt.r.Snapshot() }

// End releases the reader's snapshot. Idempotent.
func (rt *ReadTxn) End() { rt.r.End() }

// TableCursor returns a Cursor over table's primary storage tree.
func (rt *ReadTxn) TableCursor(table string) (*Cursor, error) {
	td, ok, err := rt.cat.LookupTable(table)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.Constraint("table_not_found", "no such table: "+table)
	}
	return &Cursor{tree: btree.Open(rt.r.View(), td.RootPageID, true)}, nil
}

// IndexCursor returns a Cursor over the named index's tree.
func (rt *ReadTxn) IndexCursor(name string) (*Cursor, error) {
	idx, ok, err := rt.cat.LookupIndex(name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.Constraint("index_not_found", "no such index: "+name)
	}
	return &Cursor{tree: btree.Open(rt.r.View(), idx.RootPageID, idx.Kind == catalog.IndexUnique)}, nil
}

// GetRow decodes the row stored under rowID in table.
func (rt *ReadTxn) GetRow(table string, rowID uint64) (record.Record, error) {
	c, err := rt.TableCursor(table)
	if err != nil {
		return nil, err
	}
	entries, err := c.Lookup(EncodeRowID(rowID))
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, errs.Constraint("row_not_found", "no such row")
	}
	return record.Decode(entries[0].Value, rt.r.View())
}
