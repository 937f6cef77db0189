package btree

import (
	"encoding/binary"

	"github.com/sphildreth/decentdb-sub002/page"
)

// Leaf cell layout, following each entry after the common page.HeaderSize:
//
//	[keyLen uint16][key][rowid uint64][valueLen uint32][value]
//
// Internal node layout: a leading child0 (uint32), then per separator:
//
//	[keyLen uint16][key][rowid uint64][child uint32]
//
// Both generalize index/btree.go's slotted-append layout from string keys
// with a bare recordID to arbitrary byte keys carrying an explicit rowid
// tiebreak and an arbitrary value payload.

const (
	leafCellFixed     = 2 + 8 + 4 // keyLen + rowid + valueLen
	internalCellFixed = 2 + 8 + 4 // keyLen + rowid + child
)

func maxLeafPayload(pageSize int) int {
	return pageSize - page.HeaderSize
}

func maxInternalPayload(pageSize int) int {
	return pageSize - page.HeaderSize
}

func leafEntriesSize(entries []Entry) int {
	n := 0
	for _, e := range entries {
		n += leafCellFixed + len(e.Key) + len(e.Value)
	}
	return n
}

func writeLeaf(p *page.Page, entries []Entry, next page.ID) {
	for i := range p.Data[page.HeaderSize:] {
		p.Data[page.HeaderSize+i] = 0
	}
	off := page.HeaderSize
	for _, e := range entries {
		binary.LittleEndian.PutUint16(p.Data[off:], uint16(len(e.Key)))
		off += 2
		copy(p.Data[off:], e.Key)
		off += len(e.Key)
		binary.LittleEndian.PutUint64(p.Data[off:], e.RowID)
		off += 8
		binary.LittleEndian.PutUint32(p.Data[off:], uint32(len(e.Value)))
		off += 4
		copy(p.Data[off:], e.Value)
		off += len(e.Value)
	}
	p.SetCount(uint16(len(entries)))
	p.SetFreeSpaceOffset(uint16(off))
	p.SetNextPageID(next)
}

func readLeafEntries(p *page.Page) []Entry {
	count := int(p.Count())
	entries := make([]Entry, 0, count)
	off := page.HeaderSize
	for i := 0; i < count; i++ {
		keyLen := int(binary.LittleEndian.Uint16(p.Data[off:]))
		off += 2
		key := append([]byte(nil), p.Data[off:off+keyLen]...)
		off += keyLen
		rowID := binary.LittleEndian.Uint64(p.Data[off:])
		off += 8
		valLen := int(binary.LittleEndian.Uint32(p.Data[off:]))
		off += 4
		value := append([]byte(nil), p.Data[off:off+valLen]...)
		off += valLen
		entries = append(entries, Entry{Key: key, RowID: rowID, Value: value})
	}
	return entries
}

// internalNode is the in-memory form of an internal page: len(Children) ==
// len(Keys)+1, and Children[i] is the subtree for keys < (Keys[i], RowIDs[i])
// (or all keys, for the final child).
type internalNode struct {
	Keys     [][]byte
	RowIDs   []uint64
	Children []page.ID
}

func internalNodeSize(n internalNode) int {
	size := 4 // child0
	for i := range n.Keys {
		size += internalCellFixed + len(n.Keys[i])
	}
	return size
}

func writeInternal(p *page.Page, n internalNode) {
	for i := range p.Data[page.HeaderSize:] {
		p.Data[page.HeaderSize+i] = 0
	}
	off := page.HeaderSize
	binary.LittleEndian.PutUint32(p.Data[off:], uint32(n.Children[0]))
	off += 4
	for i, key := range n.Keys {
		binary.LittleEndian.PutUint16(p.Data[off:], uint16(len(key)))
		off += 2
		copy(p.Data[off:], key)
		off += len(key)
		binary.LittleEndian.PutUint64(p.Data[off:], n.RowIDs[i])
		off += 8
		binary.LittleEndian.PutUint32(p.Data[off:], uint32(n.Children[i+1]))
		off += 4
	}
	p.SetCount(uint16(len(n.Keys)))
	p.SetFreeSpaceOffset(uint16(off))
}

func readInternal(p *page.Page) internalNode {
	count := int(p.Count())
	n := internalNode{
		Keys:     make([][]byte, 0, count),
		RowIDs:   make([]uint64, 0, count),
		Children: make([]page.ID, 0, count+1),
	}
	off := page.HeaderSize
	child0 := page.ID(binary.LittleEndian.Uint32(p.Data[off:]))
	off += 4
	n.Children = append(n.Children, child0)
	for i := 0; i < count; i++ {
		keyLen := int(binary.LittleEndian.Uint16(p.Data[off:]))
		off += 2
		key := append([]byte(nil), p.Data[off:off+keyLen]...)
		off += keyLen
		rowID := binary.LittleEndian.Uint64(p.Data[off:])
		off += 8
		child := page.ID(binary.LittleEndian.Uint32(p.Data[off:]))
		off += 4
		n.Keys = append(n.Keys, key)
		n.RowIDs = append(n.RowIDs, rowID)
		n.Children = append(n.Children, child)
	}
	return n
}
