package engine

import (
	"github.com/proximadb/proximadb/internal/index"
	"github.com/proximadb/proximadb/internal/types"
	"github.com/proximadb/proximadb/pkg"
)

// execDelete implements `DELETE FROM name WHERE f = v` (the dialect
// only supports equality deletes).
func (e *Engine) execDelete(s *DeleteStmt) error {
	t, err := e.lookupTable(s.Table)
	if err != nil {
		return err
	}
	if !s.Predicate.HasEq {
		return types.NewError(types.ErrParse, "DELETE only supports WHERE f = v")
	}

	pkg.LockWrap(t, func() {
		err = t.deleteLocked(s.Predicate)
	})
	return err
}

func (t *Table) deleteLocked(pred Predicate) error {
	if t.meta.Multimedia {
		if pred.Field != t.meta.PathField {
			return types.NewError(types.ErrUnsupportedPredicate, "multimedia DELETE must match on the path field")
		}
		rids, err := t.scanFilterEq(pred)
		if err != nil {
			return err
		}
		for _, rid := range rids {
			if err := t.store.Tombstone(rid); err != nil {
				return err
			}
			if err := t.media.DeleteAsset(rid); err != nil {
				return err
			}
		}
		return nil
	}

	if t.spimi != nil {
		return t.deleteTextLocked(pred)
	}

	var rids []int64
	var err error
	if pred.Field == t.meta.IndexField {
		prim := t.primary()
		if prim == nil {
			return types.NewError(types.ErrUnsupportedPredicate, "table has no deletable index")
		}
		key := t.keyOf(pred.Field, pred.Eq)
		rids, err = prim.Search(key)
		if err != nil {
			return err
		}
		for _, rid := range rids {
			if err := t.store.Tombstone(rid); err != nil {
				return err
			}
			if err := prim.Delete(key, rid); err != nil {
				return err
			}
		}
		return nil
	}

	if t.rtree != nil {
		if pred.Field != splitFirst(t.meta.IndexField) && pred.Field != splitSecond(t.meta.IndexField) {
			return types.NewError(types.ErrUnsupportedPredicate, "field %q is not deletable on a spatial table", pred.Field)
		}
		rids, err = t.scanFilterEq(pred)
		if err != nil {
			return err
		}
		for _, rid := range rids {
			if err := t.store.Tombstone(rid); err != nil {
				return err
			}
			if err := t.rtree.Delete(index.Key{}, rid); err != nil {
				return err
			}
		}
		return nil
	}

	rids, err = t.scanFilterEq(pred)
	if err != nil {
		return err
	}
	for _, rid := range rids {
		if err := t.store.Tombstone(rid); err != nil {
			return err
		}
	}
	return nil
}

// deleteTextLocked handles DELETE on a SPIMI-indexed table. The inverted
// index has no lookup by exact field value, so matching rids always come
// from a store scan; each match is tombstoned in the store and removed
// from the text index, whether the predicate targets the indexed field
// or any other column.
func (t *Table) deleteTextLocked(pred Predicate) error {
	rids, err := t.scanFilterEq(pred)
	if err != nil {
		return err
	}
	for _, rid := range rids {
		if err := t.store.Tombstone(rid); err != nil {
			return err
		}
		if err := t.spimi.Delete(rid); err != nil {
			return err
		}
	}
	return nil
}
