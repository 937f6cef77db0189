package catalog

import (
	"encoding/binary"

	"github.com/sphildreth/decentdb-sub002/errs"
	"github.com/sphildreth/decentdb-sub002/page"
	"github.com/sphildreth/decentdb-sub002/record"
)

// IndexKind is the variety of index a descriptor names (spec §4.7 "kind:
// unique/non-unique/trigram").
type IndexKind byte

const (
	IndexUnique IndexKind = iota
	IndexNonUnique
	IndexTrigram
)

// FKAction is what a foreign key does when its parent key would otherwise
// be violated. Cascading actions are not MVP (spec §4.7 "RESTRICT or
// NO_ACTION for MVP").
type FKAction byte

const (
	FKRestrict FKAction = iota
	FKNoAction
)

// ColumnDef describes one column of a table (spec §4.7 "columns with type,
// not-null, default").
type ColumnDef struct {
	Name       string
	Type       record.Kind
	NotNull    bool
	HasDefault bool
	Default    record.Value
}

// TableDef is a catalog table descriptor (spec §3.1 "table entries (name ->
// table PageId, column list, constraints)").
type TableDef struct {
	Name       string
	RootPageID page.ID
	NextRowID  uint64
	Columns    []ColumnDef
}

// IndexDef is a catalog index descriptor (spec §3.1 "index entries (name ->
// index PageId, target table/columns, kind)").
type IndexDef struct {
	Name       string
	Table      string
	Columns    []string
	Kind       IndexKind
	RootPageID page.ID
}

// ForeignKeyDef is a catalog foreign-key descriptor (spec §3.1
// "foreign-key entries (child, parent, columns, action)").
type ForeignKeyDef struct {
	Name          string
	ChildTable    string
	ChildColumns  []string
	ParentTable   string
	ParentColumns []string
	Action        FKAction
}

// The descriptor wire format below mirrors storage/pager.go's meta-page
// encoding (length-prefixed strings, a count then repeated fixed-shape
// records), generalized from that flat header-page directory into entries
// of a proper system B+tree (spec §4.7 "rebuilt as proper system B+trees").

func putString(buf []byte, s string) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], uint64(len(s)))
	buf = append(buf, tmp[:n]...)
	return append(buf, s...)
}

func getString(data []byte) (string, int, error) {
	n, m := binary.Uvarint(data)
	if m <= 0 {
		return "", 0, errs.Corruption("catalog_bad_string_len", "catalog entry string length varint is malformed")
	}
	if m+int(n) > len(data) {
		return "", 0, errs.Corruption("catalog_short_string", "catalog entry truncated mid-string")
	}
	return string(data[m : m+int(n)]), m + int(n), nil
}

func putUvarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

func getUvarint(data []byte) (uint64, int, error) {
	v, n := binary.Uvarint(data)
	if n <= 0 {
		return 0, 0, errs.Corruption("catalog_bad_varint", "catalog entry varint is malformed")
	}
	return v, n, nil
}

// Encode serializes a ColumnDef: [name][type byte][notNull byte][hasDefault
// byte][default value, if present].
func (c ColumnDef) Encode() ([]byte, error) {
	buf := putString(nil, c.Name)
	buf = append(buf, byte(c.Type))
	if c.NotNull {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	if c.HasDefault {
		buf = append(buf, 1)
		// store is nil: defaults are always small scalars and never spill
		// to an overflow chain, so this cannot fail on a size check.
		encoded, err := record.Encode(record.Record{c.Default}, nil)
		if err != nil {
			return nil, err
		}
		buf = append(buf, encoded...)
	} else {
		buf = append(buf, 0)
	}
	return buf, nil
}

func decodeColumn(data []byte) (ColumnDef, int, error) {
	var c ColumnDef
	name, n, err := getString(data)
	if err != nil {
		return c, 0, err
	}
	c.Name = name
	offset := n
	if offset >= len(data) {
		return c, 0, errs.Corruption("catalog_short_column", "column descriptor truncated before type tag")
	}
	c.Type = record.Kind(data[offset])
	offset++
	if offset >= len(data) {
		return c, 0, errs.Corruption("catalog_short_column", "column descriptor truncated before not-null flag")
	}
	c.NotNull = data[offset] != 0
	offset++
	if offset >= len(data) {
		return c, 0, errs.Corruption("catalog_short_column", "column descriptor truncated before default flag")
	}
	c.HasDefault = data[offset] != 0
	offset++
	if c.HasDefault {
		rec, err := record.Decode(data[offset:], nil)
		if err != nil {
			return c, 0, err
		}
		if len(rec) != 1 {
			return c, 0, errs.Corruption("catalog_bad_default", "column default did not decode to exactly one field")
		}
		c.Default = rec[0]
		encoded, err := record.Encode(record.Record{c.Default}, nil)
		if err != nil {
			return c, 0, err
		}
		offset += len(encoded)
	}
	return c, offset, nil
}

// Encode serializes a TableDef for storage as a system B+tree leaf value.
func (t TableDef) Encode() ([]byte, error) {
	buf := make([]byte, 0, 64)
	buf = putString(buf, t.Name)
	var idBuf [4]byte
	binary.LittleEndian.PutUint32(idBuf[:], uint32(t.RootPageID))
	buf = append(buf, idBuf[:]...)
	buf = putUvarint(buf, t.NextRowID)
	buf = putUvarint(buf, uint64(len(t.Columns)))
	for _, c := range t.Columns {
		encoded, err := c.Encode()
		if err != nil {
			return nil, err
		}
		buf = append(buf, encoded...)
	}
	return buf, nil
}

// DecodeTableDef parses a TableDef previously produced by Encode.
func DecodeTableDef(data []byte) (TableDef, error) {
	var t TableDef
	name, n, err := getString(data)
	if err != nil {
		return t, err
	}
	t.Name = name
	offset := n
	if offset+4 > len(data) {
		return t, errs.Corruption("catalog_short_table", "table descriptor truncated before root page id")
	}
	t.RootPageID = page.ID(binary.LittleEndian.Uint32(data[offset : offset+4]))
	offset += 4
	nextRowID, n, err := getUvarint(data[offset:])
	if err != nil {
		return t, err
	}
	t.NextRowID = nextRowID
	offset += n
	count, n, err := getUvarint(data[offset:])
	if err != nil {
		return t, err
	}
	offset += n
	t.Columns = make([]ColumnDef, 0, count)
	for i := uint64(0); i < count; i++ {
		c, n, err := decodeColumn(data[offset:])
		if err != nil {
			return t, err
		}
		t.Columns = append(t.Columns, c)
		offset += n
	}
	return t, nil
}

func putStringList(buf []byte, ss []string) []byte {
	buf = putUvarint(buf, uint64(len(ss)))
	for _, s := range ss {
		buf = putString(buf, s)
	}
	return buf
}

func getStringList(data []byte) ([]string, int, error) {
	count, n, err := getUvarint(data)
	if err != nil {
		return nil, 0, err
	}
	offset := n
	out := make([]string, 0, count)
	for i := uint64(0); i < count; i++ {
		s, n, err := getString(data[offset:])
		if err != nil {
			return nil, 0, err
		}
		out = append(out, s)
		offset += n
	}
	return out, offset, nil
}

// Encode serializes an IndexDef for storage as a system B+tree leaf value.
func (idx IndexDef) Encode() []byte {
	buf := make([]byte, 0, 64)
	buf = putString(buf, idx.Name)
	buf = putString(buf, idx.Table)
	buf = putStringList(buf, idx.Columns)
	buf = append(buf, byte(idx.Kind))
	var idBuf [4]byte
	binary.LittleEndian.PutUint32(idBuf[:], uint32(idx.RootPageID))
	buf = append(buf, idBuf[:]...)
	return buf
}

// DecodeIndexDef parses an IndexDef previously produced by Encode.
func DecodeIndexDef(data []byte) (IndexDef, error) {
	var idx IndexDef
	name, n, err := getString(data)
	if err != nil {
		return idx, err
	}
	idx.Name = name
	offset := n
	table, n, err := getString(data[offset:])
	if err != nil {
		return idx, err
	}
	idx.Table = table
	offset += n
	cols, n, err := getStringList(data[offset:])
	if err != nil {
		return idx, err
	}
	idx.Columns = cols
	offset += n
	if offset >= len(data) {
		return idx, errs.Corruption("catalog_short_index", "index descriptor truncated before kind byte")
	}
	idx.Kind = IndexKind(data[offset])
	offset++
	if offset+4 > len(data) {
		return idx, errs.Corruption("catalog_short_index", "index descriptor truncated before root page id")
	}
	idx.RootPageID = page.ID(binary.LittleEndian.Uint32(data[offset : offset+4]))
	return idx, nil
}

// Encode serializes a ForeignKeyDef for storage as a system B+tree leaf
// value.
func (fk ForeignKeyDef) Encode() []byte {
	buf := make([]byte, 0, 64)
	buf = putString(buf, fk.Name)
	buf = putString(buf, fk.ChildTable)
	buf = putStringList(buf, fk.ChildColumns)
	buf = putString(buf, fk.ParentTable)
	buf = putStringList(buf, fk.ParentColumns)
	buf = append(buf, byte(fk.Action))
	return buf
}

// DecodeForeignKeyDef parses a ForeignKeyDef previously produced by Encode.
func DecodeForeignKeyDef(data []byte) (ForeignKeyDef, error) {
	var fk ForeignKeyDef
	name, n, err := getString(data)
	if err != nil {
		return fk, err
	}
	fk.Name = name
	offset := n
	childTable, n, err := getString(data[offset:])
	if err != nil {
		return fk, err
	}
	fk.ChildTable = childTable
	offset += n
	childCols, n, err := getStringList(data[offset:])
	if err != nil {
		return fk, err
	}
	fk.ChildColumns = childCols
	offset += n
	parentTable, n, err := getString(data[offset:])
	if err != nil {
		return fk, err
	}
	fk.ParentTable = parentTable
	offset += n
	parentCols, n, err := getStringList(data[offset:])
	if err != nil {
		return fk, err
	}
	fk.ParentColumns = parentCols
	offset += n
	if offset >= len(data) {
		return fk, errs.Corruption("catalog_short_fk", "foreign key descriptor truncated before action byte")
	}
	fk.Action = FKAction(data[offset])
	return fk, nil
}
