package mm

import (
	"testing"

	"gotest.tools/v3/assert"

	"github.com/proximadb/proximadb/internal/types"
)

var testExtractor = types.ExtractorIdentity{Name: "orb", Version: "1", Params: "default"}

// TestIdentityCodebookCosineOrdering covers three global-vector
// assets with a codebook of size 8 (identity codebook since these are
// already global vectors), ranked by cosine similarity.
func TestIdentityCodebookCosineOrdering(t *testing.T) {
	dir := t.TempDir()
	ix := New(dir, 8, testExtractor)

	assets := []AssetDescriptors{
		{AssetID: 1, Global: Vector{1, 0, 0, 0, 0, 0, 0, 0}},
		{AssetID: 2, Global: Vector{0.9, 0.1, 0, 0, 0, 0, 0, 0}},
		{AssetID: 3, Global: Vector{0, 0, 0, 0, 0, 0, 0, 1}},
	}
	assert.NilError(t, ix.Build(assets, 1))

	results, err := ix.ExhaustiveKNN(Vector{1, 0, 0, 0, 0, 0, 0, 0}, 3)
	assert.NilError(t, err)
	assert.Equal(t, len(results), 3)
	assert.Equal(t, results[0].AssetID, int64(1))
	assert.Equal(t, results[1].AssetID, int64(2))
	assert.Equal(t, results[2].AssetID, int64(3))
}

func TestInvertedKNNMatchesExhaustiveOrdering(t *testing.T) {
	dir := t.TempDir()
	ix := New(dir, 8, testExtractor)

	assets := []AssetDescriptors{
		{AssetID: 1, Global: Vector{1, 0, 0, 0}},
		{AssetID: 2, Global: Vector{0.8, 0.2, 0, 0}},
		{AssetID: 3, Global: Vector{0, 1, 0, 0}},
	}
	assert.NilError(t, ix.Build(assets, 1))

	query := ix.codebook.Histogram([]Vector{{1, 0, 0, 0}})

	exhaustive, err := ix.ExhaustiveKNN(query, 3)
	assert.NilError(t, err)
	inverted, err := ix.InvertedKNN(query, 3)
	assert.NilError(t, err)

	assert.Equal(t, len(exhaustive), len(inverted))
	for i := range exhaustive {
		assert.Equal(t, exhaustive[i].AssetID, inverted[i].AssetID)
	}
}

func TestDeletedAssetExcludedFromBothKNNPaths(t *testing.T) {
	dir := t.TempDir()
	ix := New(dir, 8, testExtractor)
	assert.NilError(t, ix.Build([]AssetDescriptors{
		{AssetID: 1, Global: Vector{1, 0}},
		{AssetID: 2, Global: Vector{0, 1}},
	}, 1))

	assert.NilError(t, ix.DeleteAsset(1))

	query := Vector{1, 0}
	ex, err := ix.ExhaustiveKNN(query, 5)
	assert.NilError(t, err)
	for _, r := range ex {
		assert.Assert(t, r.AssetID != 1)
	}

	inv, err := ix.InvertedKNN(query, 5)
	assert.NilError(t, err)
	for _, r := range inv {
		assert.Assert(t, r.AssetID != 1)
	}
}

func TestCodebookSurvivesAssetDeletion(t *testing.T) {
	dir := t.TempDir()
	ix := New(dir, 4, testExtractor)
	local := []Vector{{0, 0}, {0, 0}, {10, 10}, {10, 10}}
	assert.NilError(t, ix.Build([]AssetDescriptors{
		{AssetID: 1, Local: local},
	}, 42))

	before := ix.codebook.Centroids

	assert.NilError(t, ix.DeleteAsset(1))

	assert.Equal(t, len(ix.codebook.Centroids), len(before))
	for i := range before {
		assert.Equal(t, before[i][0], ix.codebook.Centroids[i][0])
	}
}

func TestExtractorIdentityMismatchRejected(t *testing.T) {
	dir := t.TempDir()
	ix := New(dir, 8, testExtractor)
	assert.NilError(t, ix.Build([]AssetDescriptors{{AssetID: 1, Global: Vector{1, 0}}}, 1))

	err := ix.CheckExtractor(types.ExtractorIdentity{Name: "other", Version: "1", Params: "default"})
	assert.Assert(t, err != nil)
	qerr, ok := err.(*types.QueryError)
	assert.Assert(t, ok)
	assert.Equal(t, qerr.Kind, types.ErrBuild)
}

func TestReloadAfterBuildQueriesCorrectly(t *testing.T) {
	dir := t.TempDir()
	ix := New(dir, 8, testExtractor)
	assert.NilError(t, ix.Build([]AssetDescriptors{
		{AssetID: 1, Global: Vector{1, 0}},
		{AssetID: 2, Global: Vector{0, 1}},
	}, 1))

	ix2, err := Load(dir, 8, testExtractor)
	assert.NilError(t, err)
	results, err := ix2.ExhaustiveKNN(Vector{1, 0}, 1)
	assert.NilError(t, err)
	assert.Equal(t, len(results), 1)
	assert.Equal(t, results[0].AssetID, int64(1))
}

func TestBoundedTopKMatchesSortedResults(t *testing.T) {
	topk := TopK(2)
	topk.Add(Scored{AssetID: 1, Similarity: 0.3})
	topk.Add(Scored{AssetID: 2, Similarity: 0.9})
	topk.Add(Scored{AssetID: 3, Similarity: 0.5})

	results := topk.Results()
	assert.Equal(t, len(results), 2)
	assert.Equal(t, results[0].AssetID, int64(2))
	assert.Equal(t, results[1].AssetID, int64(3))
}

// TestBoundedTopKTiesBreakByAssetIDRegardlessOfOrder covers more ties
// at the same similarity than fit in k: the survivors must be the
// lowest asset_ids no matter what order Add sees the tied candidates
// in, since callers feed it off Go map iteration.
func TestBoundedTopKTiesBreakByAssetIDRegardlessOfOrder(t *testing.T) {
	orders := [][]int64{
		{5, 4, 3, 2, 1},
		{1, 2, 3, 4, 5},
		{3, 1, 5, 2, 4},
	}
	for _, order := range orders {
		topk := TopK(2)
		for _, id := range order {
			topk.Add(Scored{AssetID: id, Similarity: 0.7})
		}
		results := topk.Results()
		assert.Equal(t, len(results), 2)
		assert.Equal(t, results[0].AssetID, int64(1))
		assert.Equal(t, results[1].AssetID, int64(2))
	}
}
