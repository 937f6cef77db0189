package decentdb

import (
	"github.com/sphildreth/decentdb-sub002/catalog"
	"github.com/sphildreth/decentdb-sub002/errs"
	"github.com/sphildreth/decentdb-sub002/record"
)

// applyDefaults fills in HasDefault columns left Null by the caller and
// rejects a Null value in a NotNull column that has no default (spec
// §4.7 "columns with type, not-null, default").
func applyDefaults(td catalog.TableDef, values record.Record) (record.Record, error) {
	if len(values) != len(td.Columns) {
		return nil, errs.Constraint("column_count_mismatch", "value count does not match the table's column count")
	}
	out := make(record.Record, len(values))
	copy(out, values)
	for i, col := range td.Columns {
		if out[i].IsNull() && col.HasDefault {
			out[i] = col.Default
		}
		if out[i].IsNull() && col.NotNull {
			return nil, errs.Constraint("not_null_violation", "column "+col.Name+" may not be null")
		}
	}
	return out, nil
}

// indexKey encodes the subset of values an index's Columns list names, in
// that order, as the byte string the index's B+tree is keyed on.
func indexKey(td catalog.TableDef, idx catalog.IndexDef, values record.Record) ([]byte, error) {
	positions := make([]int, len(idx.Columns))
	for i, name := range idx.Columns {
		pos := -1
		for j, col := range td.Columns {
			if col.Name == name {
				pos = j
				break
			}
		}
		if pos < 0 {
			return nil, errs.Internal("index_column_missing", "indexed column "+name+" not found on table "+td.Name)
		}
		positions[i] = pos
	}
	rec := make(record.Record, len(positions))
	for i, pos := range positions {
		rec[i] = values[pos]
	}
	// nil store: index keys are always small scalar columns, never
	// overflowed text/blob, so this never needs to allocate a page.
	return record.Encode(rec, nil)
}

// columnsEqual reports whether two ordered column-name lists name exactly
// the same columns in the same order.
func columnsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// findCoveringIndex returns the first index over indexes whose Columns
// match cols exactly, in order, optionally requiring it to be unique. This
// mirrors catalog's own (unexported) foreign-key support-index search,
// since an engine-level statement needs the same lookup to enforce a
// RESTRICT check against a parent table's key.
func findCoveringIndex(indexes []catalog.IndexDef, cols []string, requireUnique bool) (catalog.IndexDef, bool) {
	for _, idx := range indexes {
		if requireUnique && idx.Kind != catalog.IndexUnique {
			continue
		}
		if columnsEqual(idx.Columns, cols) {
			return idx, true
		}
	}
	return catalog.IndexDef{}, false
}
