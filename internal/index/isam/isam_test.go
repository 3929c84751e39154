package isam

import (
	"testing"

	"github.com/proximadb/proximadb/internal/index"
	"gotest.tools/v3/assert"
)

func buildSorted(t *testing.T, dir string, n int) *ISAM {
	ix := New(dir, false)
	ix.blockingFactor = 4
	ix.leafGroupSize = 2

	entries := make([]index.Entry, 0, n)
	for i := 0; i < n; i++ {
		entries = append(entries, index.Entry{Key: index.NewNumericKey(float64(i)), Rid: int64(i)})
	}
	assert.NilError(t, ix.Build(entries))
	return ix
}

func TestPointSearchAcrossPages(t *testing.T) {
	ix := buildSorted(t, t.TempDir(), 50)
	for i := 0; i < 50; i++ {
		rids, err := ix.Search(index.NewNumericKey(float64(i)))
		assert.NilError(t, err)
		assert.DeepEqual(t, rids, []int64{int64(i)})
	}
}

func TestRangeOrdersAcrossPages(t *testing.T) {
	ix := buildSorted(t, t.TempDir(), 50)
	entries, err := ix.Range(index.NewNumericKey(10), index.NewNumericKey(20))
	assert.NilError(t, err)
	assert.Equal(t, len(entries), 11)
	for i, e := range entries {
		assert.Equal(t, e.Key.Float(), float64(10+i))
	}
}

func TestInsertOverflowsFullPage(t *testing.T) {
	ix := buildSorted(t, t.TempDir(), 4) // exactly fills one page

	assert.NilError(t, ix.Insert(index.NewNumericKey(1.5), 100))
	rids, err := ix.Search(index.NewNumericKey(1.5))
	assert.NilError(t, err)
	assert.DeepEqual(t, rids, []int64{100})
	assert.Equal(t, len(ix.overflow), 1)
}

func TestDeleteThenSearchEmpty(t *testing.T) {
	ix := buildSorted(t, t.TempDir(), 10)
	assert.NilError(t, ix.Delete(index.NewNumericKey(3), 3))
	rids, err := ix.Search(index.NewNumericKey(3))
	assert.NilError(t, err)
	assert.Equal(t, len(rids), 0)

	// idempotent
	assert.NilError(t, ix.Delete(index.NewNumericKey(3), 3))
}
