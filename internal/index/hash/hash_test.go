package hash

import (
	"fmt"
	"testing"

	"github.com/proximadb/proximadb/internal/index"
	"gotest.tools/v3/assert"
)

func TestInsertLookupManyUniqueIds(t *testing.T) {
	dir := t.TempDir()
	hx := New(dir, true)

	const n = 2000
	for i := 0; i < n; i++ {
		key := index.NewTextKey(fmt.Sprintf("order-%d", i))
		assert.NilError(t, hx.Insert(key, int64(i)))
	}

	for i := 0; i < n; i++ {
		key := index.NewTextKey(fmt.Sprintf("order-%d", i))
		rids, err := hx.Search(key)
		assert.NilError(t, err)
		assert.DeepEqual(t, rids, []int64{int64(i)})
	}

	rids, err := hx.Search(index.NewTextKey("order-does-not-exist"))
	assert.NilError(t, err)
	assert.Equal(t, len(rids), 0)
}

func TestDirectoryInvariants(t *testing.T) {
	dir := t.TempDir()
	hx := New(dir, false)
	hx.bucketSize = 2

	for i := 0; i < 500; i++ {
		assert.NilError(t, hx.Insert(index.NewNumericKey(float64(i)), int64(i)))
	}

	assert.Equal(t, hx.DirectorySize(), 1<<hx.GlobalDepth())

	counts := make(map[int]int)
	for slot, bi := range hx.directory {
		counts[bi]++
		_ = slot
	}
	for bi, b := range hx.buckets {
		want := 1 << (hx.GlobalDepth() - b.LocalDepth)
		assert.Equal(t, counts[bi], want)
	}
}

func TestDuplicateRejectedWhenUnique(t *testing.T) {
	dir := t.TempDir()
	hx := New(dir, true)
	assert.NilError(t, hx.Insert(index.NewTextKey("a"), 0))
	err := hx.Insert(index.NewTextKey("a"), 1)
	assert.ErrorContains(t, err, "duplicate")
}

func TestDeleteIdempotent(t *testing.T) {
	dir := t.TempDir()
	hx := New(dir, false)
	assert.NilError(t, hx.Insert(index.NewTextKey("a"), 0))
	assert.NilError(t, hx.Delete(index.NewTextKey("a"), 0))
	rids, _ := hx.Search(index.NewTextKey("a"))
	assert.Equal(t, len(rids), 0)
	assert.NilError(t, hx.Delete(index.NewTextKey("a"), 0))
}
