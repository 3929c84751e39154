package engine

import (
	"strconv"

	"github.com/proximadb/proximadb/internal/index"
	"github.com/proximadb/proximadb/internal/index/btree"
	"github.com/proximadb/proximadb/internal/index/hash"
	"github.com/proximadb/proximadb/internal/index/isam"
	"github.com/proximadb/proximadb/internal/index/rtree"
	"github.com/proximadb/proximadb/internal/index/sequential"
	"github.com/proximadb/proximadb/internal/mm"
	"github.com/proximadb/proximadb/internal/record"
	"github.com/proximadb/proximadb/internal/text"
	"github.com/proximadb/proximadb/internal/types"
)

// Table is one bound table: a record store plus exactly one primary
// index referring to one key field. Multimedia tables swap the
// ordinary index family for a descriptor store and codebook (mm.Index)
// instead.
type Table struct {
	tableLock

	dir  string
	meta Meta

	store *record.Store

	seq   *sequential.Seq
	isam  *isam.ISAM
	hash  *hash.Hash
	btree *btree.BTree
	rtree *rtree.RTree
	spimi *text.Index
	media *mm.Index
}

// primary returns whichever ordered/hash/spatial index backs this
// table, as the narrowest capability interface it actually satisfies.
func (t *Table) primary() index.Index {
	switch {
	case t.seq != nil:
		return t.seq
	case t.isam != nil:
		return t.isam
	case t.hash != nil:
		return t.hash
	case t.btree != nil:
		return t.btree
	case t.rtree != nil:
		return t.rtree
	}
	return nil
}

func (t *Table) rangeIndex() (index.RangeIndex, bool) {
	switch {
	case t.seq != nil:
		return t.seq, true
	case t.isam != nil:
		return t.isam, true
	case t.btree != nil:
		return t.btree, true
	}
	return nil, false
}

func (t *Table) spatialIndex() (index.SpatialIndex, bool) {
	if t.rtree != nil {
		return t.rtree, true
	}
	return nil, false
}

func (t *Table) headerIndex(field string) int {
	for i, h := range t.meta.Headers {
		if h == field {
			return i
		}
	}
	return -1
}

func (t *Table) fieldIsNumeric(field string) bool {
	return t.meta.FieldTypes[field] == string(types.FieldTypeInt) || t.meta.FieldTypes[field] == string(types.FieldTypeFloat)
}

func (t *Table) keyOf(field, raw string) index.Key {
	return index.ParseKey(raw, t.fieldIsNumeric(field))
}

// projectRow narrows a record's fields to the requested select list; nil
// or empty fields means "*".
func (t *Table) projectRow(fields []string, rowFields []string) []string {
	if len(fields) == 0 {
		return rowFields
	}
	out := make([]string, len(fields))
	for i, f := range fields {
		idx := t.headerIndex(f)
		if idx < 0 {
			out[i] = ""
			continue
		}
		out[i] = rowFields[idx]
	}
	return out
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
