package text

import (
	"testing"

	"gotest.tools/v3/assert"
)

// TestRankingOrdersDocsByTfIdfCosine: D1="love and light", D2="light
// and shadow"; "light love" ranks D1 before D2; "shadow" returns only
// D2.
func TestRankingOrdersDocsByTfIdfCosine(t *testing.T) {
	dir := t.TempDir()
	ix := New(dir, "english", []string{"body"})

	docs := []Doc{
		{DocID: 1, Fields: map[string]string{"body": "love and light"}},
		{DocID: 2, Fields: map[string]string{"body": "light and shadow"}},
	}
	assert.NilError(t, ix.Build(docs))

	results, err := ix.Query("light love", "", 10)
	assert.NilError(t, err)
	assert.Assert(t, len(results) >= 1)
	assert.Equal(t, results[0].DocID, int64(1))

	shadowResults, err := ix.Query("shadow", "", 10)
	assert.NilError(t, err)
	assert.Equal(t, len(shadowResults), 1)
	assert.Equal(t, shadowResults[0].DocID, int64(2))
}

func TestDeletedDocIsExcludedFromQuery(t *testing.T) {
	dir := t.TempDir()
	ix := New(dir, "english", []string{"body"})
	assert.NilError(t, ix.Build([]Doc{
		{DocID: 1, Fields: map[string]string{"body": "rocket science"}},
	}))

	assert.NilError(t, ix.Delete(1))
	results, err := ix.Query("rocket", "", 10)
	assert.NilError(t, err)
	assert.Equal(t, len(results), 0)
}

func TestIncrementalInsertMergesIntoDeltaAndIsQueryable(t *testing.T) {
	dir := t.TempDir()
	ix := New(dir, "english", []string{"body"})
	assert.NilError(t, ix.Build([]Doc{
		{DocID: 1, Fields: map[string]string{"body": "alpha beta"}},
	}))

	assert.NilError(t, ix.Insert(Doc{DocID: 2, Fields: map[string]string{"body": "alpha gamma"}}))

	results, err := ix.Query("alpha", "", 10)
	assert.NilError(t, err)
	assert.Equal(t, len(results), 2)
}

func TestFieldScopedQuery(t *testing.T) {
	dir := t.TempDir()
	ix := New(dir, "english", []string{"title", "body"})
	assert.NilError(t, ix.Build([]Doc{
		{DocID: 1, Fields: map[string]string{"title": "rocket", "body": "space travel"}},
		{DocID: 2, Fields: map[string]string{"title": "space", "body": "rocket fuel"}},
	}))

	results, err := ix.Query("rocket", "title", 10)
	assert.NilError(t, err)
	assert.Equal(t, len(results), 1)
	assert.Equal(t, results[0].DocID, int64(1))
}

func TestReloadAfterBuild(t *testing.T) {
	dir := t.TempDir()
	ix := New(dir, "english", []string{"body"})
	assert.NilError(t, ix.Build([]Doc{
		{DocID: 1, Fields: map[string]string{"body": "persisted document text"}},
	}))

	ix2, err := Load(dir, "english", []string{"body"})
	assert.NilError(t, err)
	results, err := ix2.Query("persisted", "", 10)
	assert.NilError(t, err)
	assert.Equal(t, len(results), 1)
}
