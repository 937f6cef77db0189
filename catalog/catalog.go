// Package catalog is the name -> metadata mapping consulted by the
// executor and by storage (spec §4.7). Grounded on storage/pager.go's
// flushMeta/loadMetaPage family — a flat collection/index/view directory
// baked into the header page's bytes — generalized into three proper
// system B+trees (table, index, and foreign-key catalogs), each with its
// own root page id recorded in the database header, since a flat directory
// does not scale and cannot express foreign keys.
package catalog

import (
	"sort"

	"github.com/sphildreth/decentdb-sub002/btree"
	"github.com/sphildreth/decentdb-sub002/errs"
	"github.com/sphildreth/decentdb-sub002/page"
)

// Reader is the minimal surface catalog lookups need: any PageStore-shaped
// view over an open database. pager.WriterView and pager.ReaderView both
// satisfy it.
type Reader interface {
	btree.PageStore
	Header() page.Header
}

// Store additionally lets DDL persist new system-tree roots and advance
// the schema cookie. Only pager.WriterView satisfies it — DDL requires a
// write transaction.
type Store interface {
	Reader
	SetCatalogTables(id page.ID)
	SetCatalogIndexes(id page.ID)
	SetCatalogForeign(id page.ID)
	BumpSchemaCookie() uint64
}

// Catalog is the opened view of the three system trees against one
// database view (a writer or a snapshot reader).
type Catalog struct {
	store   Reader
	tables  *btree.Tree
	indexes *btree.Tree
	foreign *btree.Tree
}

// Open binds a Catalog to store. If store is a Store (a write view) and any
// system tree has no root yet (header field is 0), a fresh empty tree is
// allocated and the new root is persisted immediately — the first writer
// to touch the catalog bootstraps it. A read-only Reader over a database
// whose catalog has never been touched gets trees rooted at page 0, so any
// lookup through them fails with a page read error.
func Open(store Reader) (*Catalog, error) {
	h := store.Header()
	c := &Catalog{store: store}

	var err error
	c.tables, err = openOrCreate(store, h.CatalogTables, func(id page.ID) { storeSet(store, setTables, id) })
	if err != nil {
		return nil, err
	}
	c.indexes, err = openOrCreate(store, h.CatalogIndexes, func(id page.ID) { storeSet(store, setIndexes, id) })
	if err != nil {
		return nil, err
	}
	c.foreign, err = openOrCreate(store, h.CatalogForeign, func(id page.ID) { storeSet(store, setForeign, id) })
	if err != nil {
		return nil, err
	}
	return c, nil
}

type catalogRoot int

const (
	setTables catalogRoot = iota
	setIndexes
	setForeign
)

func storeSet(store Reader, which catalogRoot, id page.ID) {
	s, ok := store.(Store)
	if !ok {
		return
	}
	switch which {
	case setTables:
		s.SetCatalogTables(id)
	case setIndexes:
		s.SetCatalogIndexes(id)
	case setForeign:
		s.SetCatalogForeign(id)
	}
}

func openOrCreate(store Reader, root page.ID, persist func(page.ID)) (*btree.Tree, error) {
	if root != 0 {
		return btree.Open(store, root, true), nil
	}
	if _, ok := store.(Store); !ok {
		// Read-only view of a catalog that was never bootstrapped: an
		// unbacked empty tree that errors on any lookup attempt beyond
		// "not found" would be misleading, so hand back a tree rooted at
		// page 0 and let Lookup's ReadPage(0) fail loudly if ever hit.
		return btree.Open(store, 0, true), nil
	}
	t, err := btree.New(store, true)
	if err != nil {
		return nil, err
	}
	persist(t.RootPageID)
	return t, nil
}

func mustStore(store Reader) (Store, error) {
	s, ok := store.(Store)
	if !ok {
		return nil, errs.New(errs.KindTransaction, "catalog_read_only", "catalog DDL requires a write transaction")
	}
	return s, nil
}

// CreateTable adds a new table with an empty, freshly allocated primary
// storage tree and persists its descriptor, bumping the schema cookie
// (spec §4.7 "every DDL change ... increments the schema_cookie").
func (c *Catalog) CreateTable(name string, columns []ColumnDef) (TableDef, error) {
	var zero TableDef
	s, err := mustStore(c.store)
	if err != nil {
		return zero, err
	}
	if _, ok, err := c.LookupTable(name); err != nil {
		return zero, err
	} else if ok {
		return zero, errs.Constraint("table_exists", "a table with this name already exists")
	}

	rows, err := btree.New(s, true)
	if err != nil {
		return zero, err
	}
	t := TableDef{Name: name, RootPageID: rows.RootPageID, NextRowID: 1, Columns: columns}
	encoded, err := t.Encode()
	if err != nil {
		return zero, err
	}
	if err := c.tables.Insert([]byte(name), 0, encoded); err != nil {
		return zero, err
	}
	s.BumpSchemaCookie()
	return t, nil
}

// DropTable removes a table descriptor and every index or foreign key that
// references it. The table's primary tree and the dropped indexes' trees
// are left allocated (not freed): the same deferred-reclamation tradeoff
// btree.Compact documents, since unlinking live structure pages safely
// requires a rebuild, not a page-at-a-time free.
func (c *Catalog) DropTable(name string) error {
	s, err := mustStore(c.store)
	if err != nil {
		return err
	}
	if _, ok, err := c.LookupTable(name); err != nil {
		return err
	} else if !ok {
		return errs.Constraint("table_not_found", "no table with this name exists")
	}
	if err := c.tables.Delete([]byte(name), 0); err != nil {
		return err
	}

	idxEntries, err := c.indexes.AllEntries()
	if err != nil {
		return err
	}
	for _, e := range idxEntries {
		idx, err := DecodeIndexDef(e.Value)
		if err != nil {
			return err
		}
		if idx.Table == name {
			if err := c.indexes.Delete(e.Key, e.RowID); err != nil {
				return err
			}
		}
	}

	fkEntries, err := c.foreign.AllEntries()
	if err != nil {
		return err
	}
	for _, e := range fkEntries {
		fk, err := DecodeForeignKeyDef(e.Value)
		if err != nil {
			return err
		}
		if fk.ChildTable == name || fk.ParentTable == name {
			if err := c.foreign.Delete(e.Key, e.RowID); err != nil {
				return err
			}
		}
	}

	s.BumpSchemaCookie()
	return nil
}

// LookupTable returns a table's descriptor by name.
func (c *Catalog) LookupTable(name string) (TableDef, bool, error) {
	entries, err := c.tables.Lookup([]byte(name))
	if err != nil {
		return TableDef{}, false, err
	}
	if len(entries) == 0 {
		return TableDef{}, false, nil
	}
	t, err := DecodeTableDef(entries[0].Value)
	if err != nil {
		return TableDef{}, false, err
	}
	return t, true, nil
}

// ListTables returns every table descriptor, ordered by name.
func (c *Catalog) ListTables() ([]TableDef, error) {
	entries, err := c.tables.AllEntries()
	if err != nil {
		return nil, err
	}
	out := make([]TableDef, 0, len(entries))
	for _, e := range entries {
		t, err := DecodeTableDef(e.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// saveTable overwrites a table's descriptor (e.g. after NextRowID advances
// or a column set changes). It does not bump the schema cookie by itself;
// callers performing DDL must do so.
func (c *Catalog) saveTable(t TableDef) error {
	encoded, err := t.Encode()
	if err != nil {
		return err
	}
	return c.tables.Insert([]byte(t.Name), 0, encoded)
}

// NextRowID allocates and persists the next rowid for table name's primary
// storage, for use as the key when inserting a new row.
func (c *Catalog) NextRowID(name string) (uint64, error) {
	if _, err := mustStore(c.store); err != nil {
		return 0, err
	}
	t, ok, err := c.LookupTable(name)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, errs.Constraint("table_not_found", "no table with this name exists")
	}
	id := t.NextRowID
	t.NextRowID++
	if err := c.saveTable(t); err != nil {
		return 0, err
	}
	return id, nil
}

// CreateIndex adds a secondary index over table's columns. Trigram indexes
// are metadata-only here: building and maintaining a trigram posting list
// is out of scope for this core (spec.md §1 non-goal), so CreateIndex
// rejects IndexTrigram rather than silently accepting a descriptor nothing
// will ever populate.
func (c *Catalog) CreateIndex(name, table string, columns []string, kind IndexKind) (IndexDef, error) {
	var zero IndexDef
	s, err := mustStore(c.store)
	if err != nil {
		return zero, err
	}
	if kind == IndexTrigram {
		return zero, errs.Constraint("trigram_unsupported", "trigram index construction is not implemented by this core")
	}
	if _, ok, err := c.LookupTable(table); err != nil {
		return zero, err
	} else if !ok {
		return zero, errs.Constraint("table_not_found", "index target table does not exist")
	}
	if _, ok, err := c.LookupIndex(name); err != nil {
		return zero, err
	} else if ok {
		return zero, errs.Constraint("index_exists", "an index with this name already exists")
	}

	tree, err := btree.New(s, kind == IndexUnique)
	if err != nil {
		return zero, err
	}
	idx := IndexDef{Name: name, Table: table, Columns: append([]string(nil), columns...), Kind: kind, RootPageID: tree.RootPageID}
	if err := c.indexes.Insert([]byte(name), 0, idx.Encode()); err != nil {
		return zero, err
	}
	s.BumpSchemaCookie()
	return idx, nil
}

// DropIndex removes an index descriptor. The index's own tree pages are
// left allocated, per the same deferred-reclamation rationale as DropTable.
func (c *Catalog) DropIndex(name string) error {
	s, err := mustStore(c.store)
	if err != nil {
		return err
	}
	if _, ok, err := c.LookupIndex(name); err != nil {
		return err
	} else if !ok {
		return errs.Constraint("index_not_found", "no index with this name exists")
	}
	if err := c.indexes.Delete([]byte(name), 0); err != nil {
		return err
	}
	s.BumpSchemaCookie()
	return nil
}

// LookupIndex returns an index's descriptor by name.
func (c *Catalog) LookupIndex(name string) (IndexDef, bool, error) {
	entries, err := c.indexes.Lookup([]byte(name))
	if err != nil {
		return IndexDef{}, false, err
	}
	if len(entries) == 0 {
		return IndexDef{}, false, nil
	}
	idx, err := DecodeIndexDef(entries[0].Value)
	if err != nil {
		return IndexDef{}, false, err
	}
	return idx, true, nil
}

// IndexesOnTable returns every index descriptor targeting table, ordered
// by name.
func (c *Catalog) IndexesOnTable(table string) ([]IndexDef, error) {
	entries, err := c.indexes.AllEntries()
	if err != nil {
		return nil, err
	}
	var out []IndexDef
	for _, e := range entries {
		idx, err := DecodeIndexDef(e.Value)
		if err != nil {
			return nil, err
		}
		if idx.Table == table {
			out = append(out, idx)
		}
	}
	return out, nil
}

// findCoveringIndex returns the first index on table whose Columns slice
// is exactly cols, in order. When requireUnique is set only unique indexes
// qualify; otherwise the first match is returned whatever its kind.
func findCoveringIndex(indexes []IndexDef, cols []string, requireUnique bool) (IndexDef, bool) {
	for _, idx := range indexes {
		if requireUnique && idx.Kind != IndexUnique {
			continue
		}
		if len(idx.Columns) != len(cols) {
			continue
		}
		match := true
		for i := range cols {
			if idx.Columns[i] != cols[i] {
				match = false
				break
			}
		}
		if match {
			return idx, true
		}
	}
	return IndexDef{}, false
}

// CreateForeignKey adds a foreign key from childTable(childColumns) to
// parentTable(parentColumns). A unique index on the parent columns must
// already exist — that is what makes a RESTRICT check a point lookup
// rather than a scan (spec §4.7 "a parent-side RESTRICT check requires a
// supporting index on the parent key, enforced at CREATE TABLE"). If no
// index on the child columns exists yet, a non-unique one is created under
// a conventional name (spec §4.7 "a child-side index is auto-created with
// a conventional name if absent").
func (c *Catalog) CreateForeignKey(name, childTable string, childColumns []string, parentTable string, parentColumns []string, action FKAction) (ForeignKeyDef, error) {
	var zero ForeignKeyDef
	s, err := mustStore(c.store)
	if err != nil {
		return zero, err
	}
	if _, ok, err := c.LookupTable(childTable); err != nil {
		return zero, err
	} else if !ok {
		return zero, errs.Constraint("child_table_not_found", "foreign key child table does not exist")
	}
	if _, ok, err := c.LookupTable(parentTable); err != nil {
		return zero, err
	} else if !ok {
		return zero, errs.Constraint("parent_table_not_found", "foreign key parent table does not exist")
	}
	if _, ok, err := c.LookupForeignKey(name); err != nil {
		return zero, err
	} else if ok {
		return zero, errs.Constraint("foreign_key_exists", "a foreign key with this name already exists")
	}

	parentIndexes, err := c.IndexesOnTable(parentTable)
	if err != nil {
		return zero, err
	}
	if _, ok := findCoveringIndex(parentIndexes, parentColumns, true); !ok {
		return zero, errs.Constraint("missing_parent_index", "parent table has no unique index covering the referenced columns")
	}

	childIndexes, err := c.IndexesOnTable(childTable)
	if err != nil {
		return zero, err
	}
	if _, ok := findCoveringIndex(childIndexes, childColumns, false); !ok {
		autoName := "idx_fk_" + name + "_child"
		if _, err := c.CreateIndex(autoName, childTable, childColumns, IndexNonUnique); err != nil {
			return zero, err
		}
	}

	fk := ForeignKeyDef{
		Name:          name,
		ChildTable:    childTable,
		ChildColumns:  append([]string(nil), childColumns...),
		ParentTable:   parentTable,
		ParentColumns: append([]string(nil), parentColumns...),
		Action:        action,
	}
	if err := c.foreign.Insert([]byte(name), 0, fk.Encode()); err != nil {
		return zero, err
	}
	s.BumpSchemaCookie()
	return fk, nil
}

// DropForeignKey removes a foreign-key descriptor by name.
func (c *Catalog) DropForeignKey(name string) error {
	s, err := mustStore(c.store)
	if err != nil {
		return err
	}
	if _, ok, err := c.LookupForeignKey(name); err != nil {
		return err
	} else if !ok {
		return errs.Constraint("foreign_key_not_found", "no foreign key with this name exists")
	}
	if err := c.foreign.Delete([]byte(name), 0); err != nil {
		return err
	}
	s.BumpSchemaCookie()
	return nil
}

// LookupForeignKey returns a foreign-key descriptor by name.
func (c *Catalog) LookupForeignKey(name string) (ForeignKeyDef, bool, error) {
	entries, err := c.foreign.Lookup([]byte(name))
	if err != nil {
		return ForeignKeyDef{}, false, err
	}
	if len(entries) == 0 {
		return ForeignKeyDef{}, false, nil
	}
	fk, err := DecodeForeignKeyDef(entries[0].Value)
	if err != nil {
		return ForeignKeyDef{}, false, err
	}
	return fk, true, nil
}

// ForeignKeysOnChild returns every foreign key whose child table is table,
// ordered by name — the set a row insert/update into table must satisfy.
func (c *Catalog) ForeignKeysOnChild(table string) ([]ForeignKeyDef, error) {
	entries, err := c.foreign.AllEntries()
	if err != nil {
		return nil, err
	}
	var out []ForeignKeyDef
	for _, e := range entries {
		fk, err := DecodeForeignKeyDef(e.Value)
		if err != nil {
			return nil, err
		}
		if fk.ChildTable == table {
			out = append(out, fk)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ForeignKeysOnParent returns every foreign key whose parent table is
// table — the set a RESTRICT delete/update of a parent row must check.
func (c *Catalog) ForeignKeysOnParent(table string) ([]ForeignKeyDef, error) {
	entries, err := c.foreign.AllEntries()
	if err != nil {
		return nil, err
	}
	var out []ForeignKeyDef
	for _, e := range entries {
		fk, err := DecodeForeignKeyDef(e.Value)
		if err != nil {
			return nil, err
		}
		if fk.ParentTable == table {
			out = append(out, fk)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
