package decentdb

import "github.com/sphildreth/decentdb-sub002/btree"

// Cursor is a thin handle onto one table's or index's underlying B+tree,
// keyed by the root page id the catalog resolved (spec §6.5 "table and
// index cursor helpers keyed by catalog-resolved root page ids").
type Cursor struct {
	tree *btree.Tree
}

// Lookup returns every entry stored under key (more than one only in a
// non-unique index).
func (c *Cursor) Lookup(key []byte) ([]btree.Entry, error) {
	return c.tree.Lookup(key)
}

// RangeScan returns every entry with minKey <= key <= maxKey, in key
// order. A nil bound is open-ended.
func (c *Cursor) RangeScan(minKey, maxKey []byte) ([]btree.Entry, error) {
	return c.tree.RangeScan(minKey, maxKey)
}

// All returns every entry in the tree, in key order.
func (c *Cursor) All() ([]btree.Entry, error) {
	return c.tree.AllEntries()
}

// Insert adds key/rowID/value. rowID is only significant in a non-unique
// tree, where it breaks ties between duplicate keys.
func (c *Cursor) Insert(key []byte, rowID uint64, value []byte) error {
	return c.tree.Insert(key, rowID, value)
}

// Delete removes the entry matching key and rowID exactly.
func (c *Cursor) Delete(key []byte, rowID uint64) error {
	return c.tree.Delete(key, rowID)
}

// RootPageID returns the root page of the underlying tree.
func (c *Cursor) RootPageID() uint32 { return uint32(c.tree.RootPageID) }
