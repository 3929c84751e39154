package engine

import (
	"strconv"
	"strings"

	"github.com/proximadb/proximadb/internal/index"
	"github.com/proximadb/proximadb/internal/mm"
	"github.com/proximadb/proximadb/internal/record"
	"github.com/proximadb/proximadb/internal/types"
	"github.com/proximadb/proximadb/pkg"
)

func (e *Engine) execSelect(s *SelectStmt) (*Result, error) {
	t, err := e.lookupTable(s.Table)
	if err != nil {
		return nil, err
	}

	var res *Result
	pkg.RLockWrap(t, func() {
		res, err = t.selectLocked(e, s)
	})
	return res, err
}

func (t *Table) selectLocked(e *Engine, s *SelectStmt) (*Result, error) {
	pred := s.Predicate

	var rids []int64
	var ranked []mm.Scored
	var err error

	switch {
	case pred.isZero():
		rows, scanErr := t.store.Scan()
		if scanErr != nil {
			return nil, scanErr
		}
		for _, r := range rows {
			rids = append(rids, r.Rid)
		}
	case pred.HasEq:
		rids, err = t.dispatchEq(pred)
	case pred.HasBetween:
		rids, err = t.dispatchBetween(pred)
	case pred.HasIn:
		rids, err = t.dispatchIn(pred)
	case pred.HasText:
		ranked, err = t.dispatchText(pred)
	case pred.HasSimilarity:
		ranked, err = t.dispatchSimilarity(e, pred)
	default:
		err = types.NewError(types.ErrParse, "malformed predicate")
	}
	if err != nil {
		return nil, err
	}

	if ranked != nil {
		return t.materializeRanked(s, ranked)
	}
	return t.materializeRids(s, rids)
}

// dispatchEq serves `f = v`. If f is the table's bound field, the
// primary index answers it directly; otherwise this falls back to a
// full scan plus filter, failing loudly if the field does not exist at
// all.
func (t *Table) dispatchEq(pred Predicate) ([]int64, error) {
	if t.meta.Multimedia {
		return nil, types.NewError(types.ErrUnsupportedPredicate, "multimedia tables do not support equality predicates")
	}
	if pred.Field == t.meta.IndexField {
		prim := t.primary()
		if prim == nil {
			return nil, types.NewError(types.ErrUnsupportedPredicate, "table has no usable index for equality")
		}
		key := t.keyOf(pred.Field, pred.Eq)
		return prim.Search(key)
	}
	return t.scanFilterEq(pred)
}

func (t *Table) scanFilterEq(pred Predicate) ([]int64, error) {
	idx := t.headerIndex(pred.Field)
	if idx < 0 {
		return nil, types.NewError(types.ErrUnknownField, "unknown field %q", pred.Field)
	}
	rows, err := t.store.Scan()
	if err != nil {
		return nil, err
	}
	matches := pkg.Filter(rows, func(r record.Row) bool {
		return idx < len(r.Fields) && r.Fields[idx] == pred.Eq
	})
	rids := make([]int64, len(matches))
	for i, r := range matches {
		rids[i] = r.Rid
	}
	return rids, nil
}

// dispatchBetween serves `f BETWEEN a AND b`. Only the ordered index
// families implement Range; anything else fails fast with
// UnsupportedPredicate.
func (t *Table) dispatchBetween(pred Predicate) ([]int64, error) {
	if pred.Field != t.meta.IndexField {
		return nil, types.NewError(types.ErrUnsupportedPredicate, "field %q is not range-indexed", pred.Field)
	}
	rng, ok := t.rangeIndex()
	if !ok {
		return nil, types.NewError(types.ErrUnsupportedPredicate, "index kind %q does not support BETWEEN", t.meta.IndexKind)
	}
	lo := t.keyOf(pred.Field, pred.Lo)
	hi := t.keyOf(pred.Field, pred.Hi)
	entries, err := rng.Range(lo, hi)
	if err != nil {
		return nil, err
	}
	rids := make([]int64, len(entries))
	for i, ent := range entries {
		rids[i] = ent.Rid
	}
	return rids, nil
}

// dispatchIn serves `f IN ("lat,lon", r)`: radius search if r is a
// float, kNN if r is an int. Only  (R-tree) implements SpatialIndex.
func (t *Table) dispatchIn(pred Predicate) ([]int64, error) {
	sp, ok := t.spatialIndex()
	if !ok {
		return nil, types.NewError(types.ErrUnsupportedPredicate, "index kind %q does not support spatial IN", t.meta.IndexKind)
	}
	lat, lon, err := parseLatLon(pred.Coords)
	if err != nil {
		return nil, err
	}
	query := index.Point{lat, lon}

	var entries []index.Entry
	if pred.IsKNN {
		entries, err = sp.KNN(query, pred.K)
	} else {
		entries, err = sp.Radius(query, pred.Radius)
	}
	if err != nil {
		return nil, err
	}
	rids := make([]int64, len(entries))
	for i, ent := range entries {
		rids[i] = ent.Rid
	}
	return rids, nil
}

func parseLatLon(coords string) (float64, float64, error) {
	parts := strings.SplitN(coords, ",", 2)
	if len(parts) != 2 {
		return 0, 0, types.NewError(types.ErrParse, "expected \"lat,lon\", got %q", coords)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, types.WrapError(types.ErrParse, err, "parse latitude")
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, types.WrapError(types.ErrParse, err, "parse longitude")
	}
	return lat, lon, nil
}

// dispatchText serves `f @@ "query"`, available only on SPIMI tables.
func (t *Table) dispatchText(pred Predicate) ([]mm.Scored, error) {
	if t.spimi == nil {
		return nil, types.NewError(types.ErrUnsupportedPredicate, "table has no text index")
	}
	scopeField := ""
	if pred.Field != "" && !contains(t.meta.TextFields, pred.Field) {
		return nil, types.NewError(types.ErrUnknownField, "field %q is not a text field", pred.Field)
	}
	if pred.Field != "" {
		scopeField = pred.Field
	}
	results, err := t.spimi.Query(pred.Query, scopeField, 10)
	if err != nil {
		return nil, err
	}
	out := make([]mm.Scored, len(results))
	for i, r := range results {
		out[i] = mm.Scored{AssetID: r.DocID, Similarity: r.Score}
	}
	return out, nil
}

func contains(haystack []string, needle string) bool {
	for _, h := range haystack {
		if h == needle {
			return true
		}
	}
	return false
}

// dispatchSimilarity serves `f <-> "path" [METHOD {inverted|sequential}]`,
// available only on multimedia tables. METHOD here picks the kNN search
// strategy (inverted file vs exhaustive); the extractor that turns the
// query path into descriptors is the one bound to the table at CREATE
// MULTIMEDIA TABLE time.
func (t *Table) dispatchSimilarity(e *Engine, pred Predicate) ([]mm.Scored, error) {
	if t.media == nil {
		return nil, types.NewError(types.ErrUnsupportedPredicate, "table has no multimedia index")
	}
	ext, ok := e.extractor(t.meta.Method)
	if !ok {
		return nil, types.NewError(types.ErrBuild, "no extractor registered for method %q", t.meta.Method)
	}
	if err := t.media.CheckExtractor(ext.Identity()); err != nil {
		return nil, err
	}
	desc, err := ext.Extract(pred.AssetPath)
	if err != nil {
		return nil, types.WrapError(types.ErrBuild, err, "extract descriptors for query asset %q", pred.AssetPath)
	}
	histogram := t.media.QueryHistogram(desc)

	k := 10
	if pred.Method == "sequential" {
		return t.media.ExhaustiveKNN(histogram, k)
	}
	return t.media.InvertedKNN(histogram, k)
}

func (t *Table) materializeRids(s *SelectStmt, rids []int64) (*Result, error) {
	cols := s.Fields
	if len(cols) == 0 {
		cols = t.meta.Headers
	}
	var out [][]string
	for _, rid := range rids {
		fields, live, err := t.store.Read(rid)
		if err != nil {
			return nil, err
		}
		if !live {
			continue
		}
		out = append(out, t.projectRow(s.Fields, fields))
		if s.Limit > 0 && len(out) >= s.Limit {
			break
		}
	}
	return &Result{Columns: cols, Rows: out, Count: len(out)}, nil
}

func (t *Table) materializeRanked(s *SelectStmt, ranked []mm.Scored) (*Result, error) {
	cols := s.Fields
	if len(cols) == 0 {
		cols = append([]string{}, t.meta.Headers...)
	}
	cols = append(cols, "similarity")

	var out [][]string
	for _, r := range ranked {
		fields, live, err := t.store.Read(r.AssetID)
		if err != nil {
			return nil, err
		}
		if !live {
			continue
		}
		row := t.projectRow(s.Fields, fields)
		row = append(row, formatFloat(r.Similarity))
		out = append(out, row)
		if s.Limit > 0 && len(out) >= s.Limit {
			break
		}
	}
	return &Result{Columns: cols, Rows: out, Count: len(out)}, nil
}
