package engine

import (
	"fmt"
	"math/rand"
	"strconv"

	"github.com/proximadb/proximadb/internal/index"
	"github.com/proximadb/proximadb/internal/text"
	"github.com/proximadb/proximadb/internal/types"
	"github.com/proximadb/proximadb/pkg"
)

func (e *Engine) execInsert(s *InsertStmt) error {
	t, err := e.lookupTable(s.Table)
	if err != nil {
		return err
	}

	var values [][]string
	if s.GenerateData > 0 {
		values = e.generateRows(t, s.GenerateData)
	} else {
		if len(s.Values) != len(t.meta.Headers) {
			return types.NewError(types.ErrBuild, "expected %d values, got %d", len(t.meta.Headers), len(s.Values))
		}
		values = [][]string{s.Values}
	}

	pkg.LockWrap(t, func() {
		for _, row := range values {
			err = t.insertLocked(row)
			if err != nil {
				return
			}
		}
	})
	return err
}

func (t *Table) insertLocked(row []string) error {
	if t.meta.Multimedia {
		return types.NewError(types.ErrUnsupportedPredicate, "INSERT INTO a multimedia table is not supported; rebuild the table")
	}

	rid, err := t.store.Append(row)
	if err != nil {
		return err
	}

	if t.spimi != nil {
		fields := map[string]string{}
		for _, f := range t.meta.TextFields {
			idx := t.headerIndex(f)
			if idx >= 0 && idx < len(row) {
				fields[f] = row[idx]
			}
		}
		return t.spimi.Insert(text.Doc{DocID: rid, Fields: fields})
	}

	keyFieldIdx := t.headerIndex(t.meta.IndexField)
	if t.rtree != nil {
		lat, err1 := parseCoord(row, t.headerIndex(splitFirst(t.meta.IndexField)))
		lon, err2 := parseCoord(row, t.headerIndex(splitSecond(t.meta.IndexField)))
		if err1 != nil || err2 != nil {
			return types.NewError(types.ErrBuild, "non-numeric coordinate in inserted row")
		}
		return t.rtree.InsertPoint(index.Point{lat, lon}, rid)
	}

	if keyFieldIdx < 0 {
		return types.NewError(types.ErrUnknownField, "index field %q not found", t.meta.IndexField)
	}
	key := t.keyOf(t.meta.IndexField, row[keyFieldIdx])
	prim := t.primary()
	if prim == nil {
		return types.NewError(types.ErrUnsupportedPredicate, "table has no insertable index")
	}
	return prim.Insert(key, rid)
}

func parseCoord(row []string, idx int) (float64, error) {
	if idx < 0 || idx >= len(row) {
		return 0, fmt.Errorf("coordinate field missing")
	}
	return strconv.ParseFloat(row[idx], 64)
}

// splitFirst/splitSecond decode the "lat,lon" encoding CreateTable
// writes into meta.IndexField for rtree tables.
func splitFirst(indexField string) string  { return splitPair(indexField)[0] }
func splitSecond(indexField string) string { return splitPair(indexField)[1] }

func splitPair(s string) [2]string {
	for i, c := range s {
		if c == ',' {
			return [2]string{s[:i], s[i+1:]}
		}
	}
	return [2]string{s, s}
}

// generateRows synthesizes n rows for GENERATE_DATA(n). Real schema
// inference and data synthesis is the ingestion collaborator's job
//; this is a minimal, deterministic-enough stand-in
// so the statement is runnable without an external generator.
func (e *Engine) generateRows(t *Table, n int) [][]string {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()

	rows := make([][]string, n)
	for i := 0; i < n; i++ {
		row := make([]string, len(t.meta.Headers))
		for j, h := range t.meta.Headers {
			row[j] = synthesizeValue(e.rng, t.meta.FieldTypes[h], i)
		}
		rows[i] = row
	}
	return rows
}

func synthesizeValue(rng *rand.Rand, fieldType string, seq int) string {
	switch types.FieldType(fieldType) {
	case types.FieldTypeInt:
		return strconv.Itoa(rng.Intn(1_000_000))
	case types.FieldTypeFloat:
		return strconv.FormatFloat(rng.Float64()*1000, 'f', 4, 64)
	default:
		return fmt.Sprintf("gen_%d_%d", seq, rng.Intn(1_000_000))
	}
}
