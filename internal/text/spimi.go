// Package text implements a SPIMI-built block inverted index with
// TF-IDF cosine ranking, an incremental delta index, and document
// tombstones.
//
// Follows the classic block-accumulate-then-merge SPIMI shape, stripped
// of any external NLP dependency in favor of internal/text/lang.
// In-memory block accumulation uses github.com/tobshub/go-sortedmap for
// (term -> postings) storage during a block, spilled to disk sorted by
// term once the block crosses its posting-count bound.
package text

import (
	"bytes"
	"container/heap"
	"encoding/gob"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	sorted "github.com/tobshub/go-sortedmap"

	"github.com/proximadb/proximadb/internal/text/lang"
	"github.com/proximadb/proximadb/internal/types"
)

const defaultBlockPostings = 50000
const defaultDeltaThreshold = 500

// posting is one (doc_id, weight) pair in a term's posting list.
// Weight is raw frequency until finalization, then TF-IDF.
type posting struct {
	DocID int64
	TF    float64
}

// dictEntry is the dictionary's per-term bookkeeping:
// document frequency plus an offset into the contiguous posting list.
type dictEntry struct {
	DF     int
	Offset int
	Length int
}

// Index holds a table's queryable text state. Persistent state is the
// frozen dict+postings+norms; inserts route to an in-memory delta that
// queries merge in.
type Index struct {
	mu sync.RWMutex

	dir     string
	profile *lang.Profile
	fields  []string

	dict     map[string]dictEntry
	postings []posting
	norms    map[int64]float64
	deleted  map[int64]bool

	docCount int

	delta     map[string][]posting
	deltaDocs map[int64]bool
}

func New(dir string, languageProfile string, fields []string) *Index {
	return &Index{
		dir:        dir,
		profile:    lang.Get(languageProfile),
		fields:     fields,
		dict:       map[string]dictEntry{},
		norms:      map[int64]float64{},
		deleted:    map[int64]bool{},
		delta:      map[string][]posting{},
		deltaDocs:  map[int64]bool{},
	}
}

// Doc is one record's worth of text-field content fed to Build/Insert.
type Doc struct {
	DocID  int64
	Fields map[string]string // field name -> raw text
}

// dictFile / postFile / normsFile are gob'd separately, even though
// together they describe one logical index.
type dictFile struct {
	Dict     map[string]dictEntry
	DocCount int
}

type postFile struct {
	Postings []posting
}

type normsFile struct {
	Norms   map[int64]float64
	Deleted map[int64]bool
}

func paths(dir string) (dict, post, norms string) {
	base := filepath.Join(dir, "spimi")
	return filepath.Join(base, "dict"), filepath.Join(base, "post"), filepath.Join(base, "norms")
}

// Load reads a previously built index back from dir; a missing spimi
// directory is an empty index (first build for this table).
func Load(dir string, languageProfile string, fields []string) (*Index, error) {
	ix := New(dir, languageProfile, fields)
	dictPath, postPath, normsPath := paths(dir)

	var df dictFile
	if err := readGob(dictPath, &df); err != nil {
		if !os.IsNotExist(err) {
			return nil, types.WrapError(types.ErrIO, err, "load spimi dict")
		}
		return ix, nil
	}
	var pf postFile
	if err := readGob(postPath, &pf); err != nil && !os.IsNotExist(err) {
		return nil, types.WrapError(types.ErrIO, err, "load spimi post")
	}
	var nf normsFile
	if err := readGob(normsPath, &nf); err != nil && !os.IsNotExist(err) {
		return nil, types.WrapError(types.ErrIO, err, "load spimi norms")
	}

	ix.dict, ix.docCount = df.Dict, df.DocCount
	ix.postings = pf.Postings
	ix.norms, ix.deleted = nf.Norms, nf.Deleted
	if ix.deleted == nil {
		ix.deleted = map[int64]bool{}
	}
	return ix, nil
}

func readGob(path string, out any) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return gob.NewDecoder(bytes.NewReader(buf)).Decode(out)
}

func writeAtomicGob(path string, v any) error {
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

func (ix *Index) persist() error {
	dictPath, postPath, normsPath := paths(ix.dir)
	if err := os.MkdirAll(filepath.Dir(dictPath), 0755); err != nil {
		return types.WrapError(types.ErrIO, err, "mkdir spimi dir")
	}
	if err := writeAtomicGob(dictPath, dictFile{ix.dict, ix.docCount}); err != nil {
		return types.WrapError(types.ErrIO, err, "persist spimi dict")
	}
	if err := writeAtomicGob(postPath, postFile{ix.postings}); err != nil {
		return types.WrapError(types.ErrIO, err, "persist spimi post")
	}
	if err := writeAtomicGob(normsPath, normsFile{ix.norms, ix.deleted}); err != nil {
		return types.WrapError(types.ErrIO, err, "persist spimi norms")
	}
	return nil
}

// tokenizeDoc normalizes a doc's designated fields, returning per-term
// raw counts twice over: once under the bare term (the union view) and
// once under "field:term" (the scoped view).
func (ix *Index) tokenizeDoc(d Doc) map[string]int {
	counts := map[string]int{}
	for _, field := range ix.fields {
		text, ok := d.Fields[field]
		if !ok {
			continue
		}
		for _, tok := range ix.profile.Normalize(text) {
			counts[tok]++
			counts[field+":"+tok]++
		}
	}
	return counts
}

// block is one SPIMI spill unit: a sortedmap accumulating postings per
// term, plus the insertion-order term list used to produce a
// deterministic sorted dump without relying on an unverified iteration
// order from the map itself.
type block struct {
	m        *sorted.SortedMap[string, []posting]
	terms    []string
	postings int
}

func newBlock() *block {
	return &block{m: sorted.New[string, []posting](0, func(a, b []posting) bool { return len(a) < len(b) })}
}

func (b *block) add(term string, p posting) int {
	b.postings++
	if existing, ok := b.m.Get(term); ok {
		existing = append(existing, p)
		b.m.Replace(term, existing)
		return len(existing)
	}
	b.m.Insert(term, []posting{p})
	b.terms = append(b.terms, term)
	return 1
}

func (b *block) count() int { return b.postings }

// spill writes the block to disk sorted by term,
// returning the temp file path for the later merge pass.
func (b *block) spill(dir string) (string, error) {
	sort.Strings(b.terms)
	out := make([]termPostings, 0, len(b.terms))
	for _, term := range b.terms {
		postings, _ := b.m.Get(term)
		sort.Slice(postings, func(i, j int) bool { return postings[i].DocID < postings[j].DocID })
		out = append(out, termPostings{term, postings})
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(out); err != nil {
		return "", errors.Wrap(err, "encode spimi block")
	}
	path := filepath.Join(dir, "block-"+uuid.NewString()+".tmp")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return "", errors.Wrap(err, "write spimi block")
	}
	return path, nil
}

type termPostings struct {
	Term     string
	Postings []posting
}

func loadBlock(path string) ([]termPostings, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []termPostings
	if err := gob.NewDecoder(bytes.NewReader(buf)).Decode(&out); err != nil {
		return nil, errors.Wrap(err, "decode spimi block")
	}
	return out, nil
}

// Build performs the full SPIMI pipeline: stream docs into
// memory-bounded blocks, spill each sorted, then m-way merge into the
// final dictionary + contiguous posting list, finishing with per-doc
// l2 norms.
func (ix *Index) Build(docs []Doc) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	tmpDir, err := os.MkdirTemp("", "spimi-build-*")
	if err != nil {
		return types.WrapError(types.ErrIO, err, "create spimi temp dir")
	}
	defer os.RemoveAll(tmpDir)

	var blockPaths []string
	cur := newBlock()
	for _, d := range docs {
		counts := ix.tokenizeDoc(d)
		for term, tf := range counts {
			cur.add(term, posting{DocID: d.DocID, TF: float64(tf)})
		}
		if cur.count() >= defaultBlockPostings {
			p, err := cur.spill(tmpDir)
			if err != nil {
				return types.WrapError(types.ErrBuild, err, "spill spimi block")
			}
			blockPaths = append(blockPaths, p)
			cur = newBlock()
		}
	}
	if cur.count() > 0 {
		p, err := cur.spill(tmpDir)
		if err != nil {
			return types.WrapError(types.ErrBuild, err, "spill spimi block")
		}
		blockPaths = append(blockPaths, p)
	}

	dict, postings, err := mergeBlocks(blockPaths)
	if err != nil {
		return types.WrapError(types.ErrBuild, err, "merge spimi blocks")
	}

	ix.dict = dict
	ix.postings = postings
	ix.deleted = map[int64]bool{}
	ix.docCount = len(docs)
	ix.norms = computeNorms(dict, postings, ix.docCount)
	ix.delta = map[string][]posting{}
	ix.deltaDocs = map[int64]bool{}

	return ix.persist()
}

// mergeHeapItem is one block's current head posting list for a term,
// used to drive the m-way merge over several spilled blocks.
type mergeHeapItem struct {
	term    string
	entries []termPostings
	idx     int // index into blocks and cursors
}

type mergeHeap []mergeHeapItem

func (h mergeHeap) Len() int            { return len(h) }
func (h mergeHeap) Less(i, j int) bool  { return h[i].term < h[j].term }
func (h mergeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x any)         { *h = append(*h, x.(mergeHeapItem)) }
func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// mergeBlocks performs an m-way merge: repeatedly pop the
// lexicographically smallest current term across all blocks,
// concatenate and dedup its postings, and append to the final list.
func mergeBlocks(blockPaths []string) (map[string]dictEntry, []posting, error) {
	blocks := make([][]termPostings, len(blockPaths))
	cursors := make([]int, len(blockPaths))
	for i, p := range blockPaths {
		b, err := loadBlock(p)
		if err != nil {
			return nil, nil, err
		}
		blocks[i] = b
	}

	h := &mergeHeap{}
	heap.Init(h)
	for i, b := range blocks {
		if len(b) > 0 {
			heap.Push(h, mergeHeapItem{term: b[0].Term, entries: b, idx: i})
		}
	}

	dict := map[string]dictEntry{}
	var allPostings []posting

	for h.Len() > 0 {
		term := (*h)[0].term
		merged := map[int64]float64{}
		var order []int64

		for h.Len() > 0 && (*h)[0].term == term {
			item := heap.Pop(h).(mergeHeapItem)
			for _, p := range item.entries[cursors[item.idx]].Postings {
				if _, seen := merged[p.DocID]; !seen {
					order = append(order, p.DocID)
				}
				merged[p.DocID] += p.TF
			}
			cursors[item.idx]++
			if cursors[item.idx] < len(item.entries) {
				heap.Push(h, mergeHeapItem{term: item.entries[cursors[item.idx]].Term, entries: item.entries, idx: item.idx})
			}
		}

		sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
		offset := len(allPostings)
		for _, docID := range order {
			allPostings = append(allPostings, posting{DocID: docID, TF: merged[docID]})
		}
		dict[term] = dictEntry{DF: len(order), Offset: offset, Length: len(order)}
	}

	return dict, allPostings, nil
}

// computeNorms computes per-doc l2 norms over weights
// (1+log tf)*log(N/df).
func computeNorms(dict map[string]dictEntry, postings []posting, docCount int) map[int64]float64 {
	sumsq := map[int64]float64{}
	for _, de := range dict {
		idf := idfOf(docCount, de.DF)
		for _, p := range postings[de.Offset : de.Offset+de.Length] {
			w := tfWeight(p.TF) * idf
			sumsq[p.DocID] += w * w
		}
	}
	norms := make(map[int64]float64, len(sumsq))
	for doc, sq := range sumsq {
		norms[doc] = math.Sqrt(sq)
	}
	return norms
}

func tfWeight(tf float64) float64 {
	if tf <= 0 {
		return 0
	}
	return 1 + math.Log(tf)
}

func idfOf(n, df int) float64 {
	if df <= 0 || n <= 0 {
		return 0
	}
	return math.Log(float64(n) / float64(df))
}

// Insert routes one document into the in-memory delta index, merging
// the delta into the persistent index once it crosses
// defaultDeltaThreshold documents.
func (ix *Index) Insert(d Doc) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	counts := ix.tokenizeDoc(d)
	for term, tf := range counts {
		ix.delta[term] = append(ix.delta[term], posting{DocID: d.DocID, TF: float64(tf)})
	}
	ix.deltaDocs[d.DocID] = true
	ix.docCount++

	if len(ix.deltaDocs) >= defaultDeltaThreshold {
		ix.mergeDeltaLocked()
	}

	return ix.persist()
}

// mergeDeltaLocked folds the delta into the persistent dict/postings —
// a full rebuild of affected terms. Caller holds ix.mu.
func (ix *Index) mergeDeltaLocked() {
	for term, deltaPostings := range ix.delta {
		existing := dictEntry{Offset: len(ix.postings)}
		if de, ok := ix.dict[term]; ok {
			existing = de
		}
		merged := append([]posting{}, ix.postings[existing.Offset:existing.Offset+existing.Length]...)
		merged = append(merged, deltaPostings...)
		sort.Slice(merged, func(i, j int) bool { return merged[i].DocID < merged[j].DocID })

		// Appending a rebuilt term's postings to the tail keeps earlier
		// terms' offsets valid; the old range becomes unreachable
		// garbage in a non-compacting arena.
		newOffset := len(ix.postings)
		ix.postings = append(ix.postings, merged...)
		ix.dict[term] = dictEntry{DF: len(merged), Offset: newOffset, Length: len(merged)}
	}
	ix.delta = map[string][]posting{}
	ix.deltaDocs = map[int64]bool{}
	ix.norms = computeNorms(ix.dict, ix.postings, ix.docCount)
}

// Delete tombstones a document; consulted at query time. idf is not
// renormalized here; a delta merge still counts tombstoned documents in
// df and N, and only a full Build drops them.
func (ix *Index) Delete(docID int64) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.deleted[docID] = true
	return ix.persist()
}

// Scored is one ranked query result.
type Scored struct {
	DocID int64
	Score float64
}

// Query tokenizes and normalizes the query identically to indexing,
// accumulates scores over both the persistent and delta postings,
// normalizes by doc norm, and returns the top-k by sorting every
// candidate and truncating to k (no bounded heap is used), ties broken
// by smaller doc_id.
//
// field, if non-empty, scopes the match to one field via the
// "field:term" keying; empty means the union view.
func (ix *Index) Query(query string, field string, k int) ([]Scored, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	terms := ix.profile.Normalize(query)
	if field != "" {
		for i, t := range terms {
			terms[i] = field + ":" + t
		}
	}

	qtf := map[string]int{}
	for _, t := range terms {
		qtf[t]++
	}

	scores := map[int64]float64{}
	for term, tf := range qtf {
		de, ok := ix.dict[term]
		deltaList := ix.delta[term]
		if !ok && len(deltaList) == 0 {
			continue
		}
		df := de.DF
		// Delta postings widen document frequency for idf purposes only
		// approximately — exact df correction happens at the next merge.
		seenInDelta := map[int64]bool{}
		for _, p := range deltaList {
			if !seenInDelta[p.DocID] {
				seenInDelta[p.DocID] = true
			}
		}
		df += len(seenInDelta)
		idf := idfOf(ix.docCount, df)
		wq := tfWeight(float64(tf)) * idf

		if ok {
			for _, p := range ix.postings[de.Offset : de.Offset+de.Length] {
				if ix.deleted[p.DocID] {
					continue
				}
				wd := tfWeight(p.TF) * idf
				scores[p.DocID] += wq * wd
			}
		}
		for _, p := range deltaList {
			if ix.deleted[p.DocID] {
				continue
			}
			wd := tfWeight(p.TF) * idf
			scores[p.DocID] += wq * wd
		}
	}

	type candidate struct {
		docID int64
		score float64
	}
	var candidates []candidate
	for doc, raw := range scores {
		norm := ix.norms[doc]
		if norm == 0 {
			norm = 1
		}
		candidates = append(candidates, candidate{doc, raw / norm})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].docID < candidates[j].docID
	})

	if k > 0 && len(candidates) > k {
		candidates = candidates[:k]
	}

	out := make([]Scored, len(candidates))
	for i, c := range candidates {
		out[i] = Scored{DocID: c.docID, Score: c.score}
	}
	return out, nil
}
