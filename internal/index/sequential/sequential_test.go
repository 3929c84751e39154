package sequential

import (
	"testing"

	"github.com/proximadb/proximadb/internal/index"
	"gotest.tools/v3/assert"
)

func TestInsertSearchDelete(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, false)

	assert.NilError(t, s.Insert(index.NewNumericKey(5), 0))
	assert.NilError(t, s.Insert(index.NewNumericKey(3), 1))
	assert.NilError(t, s.Insert(index.NewNumericKey(7), 2))

	rids, err := s.Search(index.NewNumericKey(3))
	assert.NilError(t, err)
	assert.DeepEqual(t, rids, []int64{1})

	assert.NilError(t, s.Delete(index.NewNumericKey(3), 1))
	rids, err = s.Search(index.NewNumericKey(3))
	assert.NilError(t, err)
	assert.Equal(t, len(rids), 0)

	// deleting a missing key is a no-op
	assert.NilError(t, s.Delete(index.NewNumericKey(999), 0))
}

func TestRangeAscendingAcrossMainAndAux(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, false)
	s.mergeRatio = 1000 // effectively disable auto-merge for this test

	for i, v := range []float64{10, 20, 30, 40, 50} {
		assert.NilError(t, s.Insert(index.NewNumericKey(v), int64(i)))
	}

	entries, err := s.Range(index.NewNumericKey(15), index.NewNumericKey(45))
	assert.NilError(t, err)
	var got []float64
	for _, e := range entries {
		got = append(got, e.Key.Float())
	}
	assert.DeepEqual(t, got, []float64{20, 30, 40})
}

func TestDuplicateKeyRejectedWhenUnique(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, true)
	assert.NilError(t, s.Insert(index.NewTextKey("a"), 0))
	err := s.Insert(index.NewTextKey("a"), 1)
	assert.ErrorContains(t, err, "duplicate")
}

func TestMergeThenReload(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, false)
	for i := 0; i < 20; i++ {
		assert.NilError(t, s.Insert(index.NewNumericKey(float64(i)), int64(i)))
	}

	s2, err := Load(dir, false)
	assert.NilError(t, err)
	rids, err := s2.Search(index.NewNumericKey(5))
	assert.NilError(t, err)
	assert.DeepEqual(t, rids, []int64{5})
}
