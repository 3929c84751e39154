// Index ties a trained Codebook to per-asset histograms and their
// inverted file, persisted under mm/codebook, mm/hist, mm/inv.
package mm

import (
	"bytes"
	"container/heap"
	"encoding/gob"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/proximadb/proximadb/internal/types"
)

func newSeededRand(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}

const defaultClusters = 256
const defaultKMeansIterations = 25
const defaultSampleSize = 20000

// invPosting is an inverted-file entry: (asset_id, tf*idf weight)
// under one codeword.
type invPosting struct {
	AssetID int64
	Weight  float64
}

// Index holds the multimedia table's queryable state. Codebook is
// immutable once built; removing an asset does not retrain it.
type Index struct {
	mu sync.RWMutex

	dir       string
	clusters  int
	extractor types.ExtractorIdentity

	codebook   *Codebook
	histograms map[int64]Vector
	norms      map[int64]float64
	deleted    map[int64]bool
	inverted   map[int][]invPosting
	docFreq    map[int]int // word_id -> number of assets with nonzero weight
	assetCount int
}

func New(dir string, clusters int, extractor types.ExtractorIdentity) *Index {
	if clusters <= 0 {
		clusters = defaultClusters
	}
	return &Index{
		dir:        dir,
		clusters:   clusters,
		extractor:  extractor,
		histograms: map[int64]Vector{},
		norms:      map[int64]float64{},
		deleted:    map[int64]bool{},
		inverted:   map[int][]invPosting{},
		docFreq:    map[int]int{},
	}
}

// AssetDescriptors is an extractor's descriptor output for one asset:
// either a set of local descriptors (Local non-empty) or one global
// vector (Global non-nil); the core only ever sees vectors.
type AssetDescriptors struct {
	AssetID int64
	Local   []Vector
	Global  Vector
}

func (a AssetDescriptors) toVectors() []Vector {
	if a.Global != nil {
		return []Vector{a.Global}
	}
	return a.Local
}

type persisted struct {
	Clusters   int
	Extractor  types.ExtractorIdentity
	Codebook   *Codebook
	Histograms map[int64]Vector
	Norms      map[int64]float64
	Deleted    map[int64]bool
	Inverted   map[int][]invPosting
	DocFreq    map[int]int
	AssetCount int
}

func paths(dir string) (codebook, hist, inv string) {
	base := filepath.Join(dir, "mm")
	return filepath.Join(base, "codebook"), filepath.Join(base, "hist"), filepath.Join(base, "inv")
}

func Load(dir string, clusters int, extractor types.ExtractorIdentity) (*Index, error) {
	ix := New(dir, clusters, extractor)
	cbPath, _, _ := paths(dir)
	buf, err := os.ReadFile(cbPath)
	if err != nil {
		if os.IsNotExist(err) {
			return ix, nil
		}
		return nil, types.WrapError(types.ErrIO, err, "load mm index")
	}
	var p persisted
	if err := gob.NewDecoder(bytes.NewReader(buf)).Decode(&p); err != nil {
		return nil, types.WrapError(types.ErrIO, errors.Wrap(err, "decode"), "load mm index")
	}
	ix.clusters, ix.extractor, ix.codebook = p.Clusters, p.Extractor, p.Codebook
	ix.histograms, ix.norms, ix.deleted = p.Histograms, p.Norms, p.Deleted
	ix.inverted, ix.docFreq, ix.assetCount = p.Inverted, p.DocFreq, p.AssetCount
	return ix, nil
}

func (ix *Index) persist() error {
	cbPath, histPath, invPath := paths(ix.dir)
	if err := os.MkdirAll(filepath.Dir(cbPath), 0755); err != nil {
		return types.WrapError(types.ErrIO, err, "mkdir mm dir")
	}
	p := persisted{ix.clusters, ix.extractor, ix.codebook, ix.histograms, ix.norms, ix.deleted, ix.inverted, ix.docFreq, ix.assetCount}
	if err := writeAtomic(cbPath, p); err != nil {
		return types.WrapError(types.ErrIO, err, "persist mm codebook")
	}
	// hist and inv are kept as sibling artifact names; the actual state
	// lives in the codebook file's persisted struct.
	os.WriteFile(histPath, []byte{}, 0644)
	os.WriteFile(invPath, []byte{}, 0644)
	return nil
}

func writeAtomic(path string, v any) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return errors.Wrap(err, "encode")
	}
	tmp := path + ".tmp-" + uuid.NewString()
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return errors.Wrap(err, "write temp file")
	}
	if f, err := os.Open(tmp); err == nil {
		f.Sync()
		f.Close()
	}
	return errors.Wrap(os.Rename(tmp, path), "rename temp file")
}

// Build trains the codebook (if the extractor yields local descriptor
// sets) over a bounded random sample, assigns every asset's histogram,
// and builds the inverted file.
func (ix *Index) Build(assets []AssetDescriptors, seed int64) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	isLocal := false
	for _, a := range assets {
		if len(a.Local) > 0 {
			isLocal = true
			break
		}
	}

	if isLocal {
		rng := newSeededRand(seed)
		var all []Vector
		for _, a := range assets {
			all = append(all, a.Local...)
		}
		if len(all) > defaultSampleSize {
			rng.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })
			all = all[:defaultSampleSize]
		}
		ix.codebook = trainKMeans(all, ix.clusters, defaultKMeansIterations, rng)
	} else {
		ix.codebook = &Codebook{Identity: true}
	}

	ix.histograms = map[int64]Vector{}
	ix.deleted = map[int64]bool{}
	for _, a := range assets {
		ix.histograms[a.AssetID] = ix.codebook.Histogram(a.toVectors())
	}
	ix.assetCount = len(assets)

	ix.rebuildInvertedLocked()
	return ix.persist()
}

// rebuildInvertedLocked recomputes the inverted file and per-asset
// norms from histograms, using idf = log(N/df). Caller holds ix.mu.
func (ix *Index) rebuildInvertedLocked() {
	ix.docFreq = map[int]int{}
	for _, h := range ix.histograms {
		for w, v := range h {
			if v != 0 {
				ix.docFreq[w]++
			}
		}
	}

	ix.inverted = map[int][]invPosting{}
	ix.norms = map[int64]float64{}
	n := len(ix.histograms)
	for assetID, h := range ix.histograms {
		sumsq := 0.0
		for w, v := range h {
			if v == 0 {
				continue
			}
			idf := idfOf(n, ix.docFreq[w])
			weight := v * idf
			ix.inverted[w] = append(ix.inverted[w], invPosting{AssetID: assetID, Weight: weight})
			sumsq += weight * weight
		}
		ix.norms[assetID] = math.Sqrt(sumsq)
	}
	for w := range ix.inverted {
		sort.Slice(ix.inverted[w], func(i, j int) bool { return ix.inverted[w][i].AssetID < ix.inverted[w][j].AssetID })
	}
}

func idfOf(n, df int) float64 {
	if df <= 0 || n <= 0 {
		return 0
	}
	return math.Log(float64(n) / float64(df))
}

// InsertAsset adds one asset's histogram and folds it into the
// inverted file and norms. The codebook itself is never retrained
// on insert.
func (ix *Index) InsertAsset(a AssetDescriptors) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.codebook == nil {
		return types.NewError(types.ErrBuild, "mm index has no codebook; build the table first")
	}
	ix.histograms[a.AssetID] = ix.codebook.Histogram(a.toVectors())
	ix.assetCount = len(ix.histograms)
	ix.rebuildInvertedLocked()
	return ix.persist()
}

// DeleteAsset tombstones an asset. idf is not renormalized: the asset's
// histogram stays in place, so rebuildInvertedLocked keeps counting it
// in df and N until a full Build.
func (ix *Index) DeleteAsset(assetID int64) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.deleted[assetID] = true
	return ix.persist()
}

// QueryHistogram turns a query asset's descriptors into the same
// histogram space as the stored assets, via the table's (immutable)
// codebook.
func (ix *Index) QueryHistogram(a AssetDescriptors) Vector {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.codebook == nil {
		return nil
	}
	return ix.codebook.Histogram(a.toVectors())
}

// CheckExtractor rejects a query whose descriptor identity differs from
// the table's extractor identity.
func (ix *Index) CheckExtractor(identity types.ExtractorIdentity) error {
	if !ix.extractor.Equal(identity) {
		return types.NewError(types.ErrBuild, "descriptor identity %s does not match table identity %s", identity, ix.extractor)
	}
	return nil
}

// Scored is one ranked kNN result.
type Scored struct {
	AssetID    int64
	Similarity float64
}

func cosine(a, b Vector, normA, normB float64) float64 {
	if normA == 0 || normB == 0 {
		return 0
	}
	dot := 0.0
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
	}
	return dot / (normA * normB)
}

func vecNorm(v Vector) float64 {
	sum := 0.0
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// ExhaustiveKNN computes cosine similarity between the query histogram
// and every live asset; top-k, deterministic ties by asset_id.
func (ix *Index) ExhaustiveKNN(query Vector, k int) ([]Scored, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	qNorm := vecNorm(query)
	top := TopK(k)
	for assetID, h := range ix.histograms {
		if ix.deleted[assetID] {
			continue
		}
		sim := cosine(query, h, qNorm, vecNorm(h))
		top.Add(Scored{AssetID: assetID, Similarity: sim})
	}
	return top.Results(), nil
}

// InvertedKNN enumerates only assets sharing at least one non-zero word
// with the query: this is exact because cosine is zero on disjoint
// supports, so it is a superset-safe restriction of ExhaustiveKNN's
// candidate set.
func (ix *Index) InvertedKNN(queryHistogram Vector, k int) ([]Scored, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	n := len(ix.histograms)
	qWeights := map[int]float64{}
	qSumSq := 0.0
	for w, v := range queryHistogram {
		if v == 0 {
			continue
		}
		idf := idfOf(n, ix.docFreq[w])
		weight := v * idf
		qWeights[w] = weight
		qSumSq += weight * weight
	}
	qNorm := math.Sqrt(qSumSq)

	scores := map[int64]float64{}
	for w, qw := range qWeights {
		for _, p := range ix.inverted[w] {
			if ix.deleted[p.AssetID] {
				continue
			}
			scores[p.AssetID] += qw * p.Weight
		}
	}

	top := TopK(k)
	for assetID, raw := range scores {
		assetNorm := ix.norms[assetID]
		sim := 0.0
		if qNorm != 0 && assetNorm != 0 {
			sim = raw / (qNorm * assetNorm)
		}
		top.Add(Scored{AssetID: assetID, Similarity: sim})
	}
	return top.Results(), nil
}

// scoredHeap backs BoundedTopK, the streaming bounded-min-heap top-k
// accumulator both ExhaustiveKNN and InvertedKNN feed scored candidates
// into as they enumerate them.
type scoredHeap []Scored

func (h scoredHeap) Len() int { return len(h) }

// Less ranks by (Similarity asc, AssetID desc) so the heap root is
// always the single worst-ranked entry currently held, independent of
// the order candidates were Add-ed in — map iteration order elsewhere
// in this package must never affect which entries survive a tie.
func (h scoredHeap) Less(i, j int) bool {
	if h[i].Similarity != h[j].Similarity {
		return h[i].Similarity < h[j].Similarity
	}
	return h[i].AssetID > h[j].AssetID
}
func (h scoredHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *scoredHeap) Push(x any)         { *h = append(*h, x.(Scored)) }
func (h *scoredHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// TopK maintains a bounded min-heap of size k over a stream of scored
// candidates, evicting the smallest similarity when it overflows.
func TopK(k int) *BoundedTopK {
	return &BoundedTopK{k: k}
}

type BoundedTopK struct {
	k int
	h scoredHeap
}

func (b *BoundedTopK) Add(s Scored) {
	if b.k <= 0 {
		return
	}
	if len(b.h) < b.k {
		heap.Push(&b.h, s)
		return
	}
	root := b.h[0]
	better := s.Similarity > root.Similarity || (s.Similarity == root.Similarity && s.AssetID < root.AssetID)
	if better {
		heap.Pop(&b.h)
		heap.Push(&b.h, s)
	}
}

// Results drains the heap into descending-similarity order, ties broken
// by ascending asset_id.
func (b *BoundedTopK) Results() []Scored {
	out := append([]Scored{}, b.h...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].AssetID < out[j].AssetID
	})
	return out
}
