// Package isam implements a static two-level sparse ISAM index over
// ordered data pages, each with its own overflow chain.
//
// Nodes are stored as array arenas keyed by int index rather than as an
// on-disk page-per-file layout, then gob-encoded as a whole to
// isam.data/isam.lf/isam.rt on Build, Insert and Delete using a write-temp/rename
// discipline for crash safety.
package isam

import (
	"bytes"
	"encoding/gob"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/proximadb/proximadb/internal/index"
	"github.com/proximadb/proximadb/internal/types"
)

const (
	defaultBlockingFactor = 32
	defaultLeafGroupSize  = 32
)

type dataPage struct {
	Entries      []index.Entry
	OverflowHead int // index into overflow, -1 if none
}

type overflowPage struct {
	Entries []index.Entry
	Next    int // -1 if none
}

type leafEntry struct {
	FirstKey index.Key
	PageIdx  int
}

type leafPage struct {
	Entries []leafEntry
}

type rootEntry struct {
	FirstKey index.Key
	LeafIdx  int
}

// ISAM is a static two-level sparse ISAM index. It satisfies
// index.RangeIndex.
type ISAM struct {
	dataPath, leafPath, rootPath string
	unique                       bool

	blockingFactor int
	leafGroupSize  int

	data     []dataPage
	overflow []overflowPage
	leaves   []leafPage
	root     []rootEntry
}

func New(dir string, unique bool) *ISAM {
	return &ISAM{
		dataPath:       filepath.Join(dir, "isam.data"),
		leafPath:       filepath.Join(dir, "isam.lf"),
		rootPath:       filepath.Join(dir, "isam.rt"),
		unique:         unique,
		blockingFactor: defaultBlockingFactor,
		leafGroupSize:  defaultLeafGroupSize,
	}
}

// Build performs the one-pass construction of the index over entries,
// which must already be sorted ascending by key.
func (ix *ISAM) Build(entries []index.Entry) error {
	ix.data = nil
	ix.overflow = nil
	ix.leaves = nil
	ix.root = nil

	for i := 0; i < len(entries); i += ix.blockingFactor {
		end := i + ix.blockingFactor
		if end > len(entries) {
			end = len(entries)
		}
		page := dataPage{Entries: append([]index.Entry{}, entries[i:end]...), OverflowHead: -1}
		ix.data = append(ix.data, page)
	}

	var allLeafEntries []leafEntry
	for pi, p := range ix.data {
		if len(p.Entries) == 0 {
			continue
		}
		allLeafEntries = append(allLeafEntries, leafEntry{FirstKey: p.Entries[0].Key, PageIdx: pi})
	}

	for i := 0; i < len(allLeafEntries); i += ix.leafGroupSize {
		end := i + ix.leafGroupSize
		if end > len(allLeafEntries) {
			end = len(allLeafEntries)
		}
		ix.leaves = append(ix.leaves, leafPage{Entries: append([]leafEntry{}, allLeafEntries[i:end]...)})
	}

	for li, lp := range ix.leaves {
		if len(lp.Entries) == 0 {
			continue
		}
		ix.root = append(ix.root, rootEntry{FirstKey: lp.Entries[0].FirstKey, LeafIdx: li})
	}

	return ix.persist()
}

func Load(dir string, unique bool) (*ISAM, error) {
	ix := New(dir, unique)
	if err := readGob(ix.dataPath, &ix.data); err != nil && !os.IsNotExist(err) {
		return nil, types.WrapError(types.ErrIO, err, "load isam.data")
	}
	if err := readGob(ix.leafPath, &ix.leaves); err != nil && !os.IsNotExist(err) {
		return nil, types.WrapError(types.ErrIO, err, "load isam.lf")
	}
	if err := readGob(ix.rootPath, &ix.root); err != nil && !os.IsNotExist(err) {
		return nil, types.WrapError(types.ErrIO, err, "load isam.rt")
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

func (ix *ISAM) persist() error {
	if err := writeAtomic(ix.dataPath, ix.data); err != nil {
		return types.WrapError(types.ErrIO, err, "persist isam.data")
	}
	if err := writeAtomic(ix.leafPath, ix.leaves); err != nil {
		return types.WrapError(types.ErrIO, err, "persist isam.lf")
	}
	if err := writeAtomic(ix.rootPath, ix.root); err != nil {
		return types.WrapError(types.ErrIO, err, "persist isam.rt")
	}
	return nil
}

// findDataPage descends root -> leaf-index -> data page index for key.
// Returns -1 if the index is empty.
func (ix *ISAM) findDataPage(key index.Key) int {
	if len(ix.root) == 0 {
		return -1
	}
	ri := sort.Search(len(ix.root), func(i int) bool { return key.Less(ix.root[i].FirstKey) }) - 1
	if ri < 0 {
		ri = 0
	}
	leaf := ix.leaves[ix.root[ri].LeafIdx]
	if len(leaf.Entries) == 0 {
		return -1
	}
	li := sort.Search(len(leaf.Entries), func(i int) bool { return key.Less(leaf.Entries[i].FirstKey) }) - 1
	if li < 0 {
		li = 0
	}
	return leaf.Entries[li].PageIdx
}

func (ix *ISAM) Search(key index.Key) ([]int64, error) {
	pi := ix.findDataPage(key)
	if pi < 0 {
		return nil, nil
	}

	var out []int64
	for _, e := range ix.data[pi].Entries {
		if e.Key.Equal(key) {
			out = append(out, e.Rid)
		}
	}
	for oi := ix.data[pi].OverflowHead; oi != -1; oi = ix.overflow[oi].Next {
		for _, e := range ix.overflow[oi].Entries {
			if e.Key.Equal(key) {
				out = append(out, e.Rid)
			}
		}
	}
	return out, nil
}

func (ix *ISAM) Range(lo, hi index.Key) ([]index.Entry, error) {
	startPage := ix.findDataPage(lo)
	if startPage < 0 {
		return nil, nil
	}

	var out []index.Entry
	for pi := startPage; pi < len(ix.data); pi++ {
		page := ix.data[pi]
		stop := false
		for _, e := range page.Entries {
			if hi.Less(e.Key) {
				stop = true
				continue
			}
			if !e.Key.Less(lo) {
				out = append(out, e)
			}
		}
		for oi := page.OverflowHead; oi != -1; oi = ix.overflow[oi].Next {
			for _, e := range ix.overflow[oi].Entries {
				if !e.Key.Less(lo) && !hi.Less(e.Key) {
					out = append(out, e)
				}
			}
		}
		if stop {
			break
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Key.Less(out[j].Key) })
	return out, nil
}

// Insert finds the target data page and, if full, appends to its
// overflow chain. The index is never rebuilt on inserts.
func (ix *ISAM) Insert(key index.Key, rid int64) error {
	if ix.unique {
		if rids, _ := ix.Search(key); len(rids) > 0 {
			return types.NewError(types.ErrDuplicateKey, "duplicate key %s", key.String())
		}
	}

	pi := ix.findDataPage(key)
	if pi < 0 {
		// empty index: seed a single data page.
		ix.data = append(ix.data, dataPage{OverflowHead: -1})
		ix.leaves = append(ix.leaves, leafPage{Entries: []leafEntry{{PageIdx: 0}}})
		ix.root = append(ix.root, rootEntry{LeafIdx: 0})
		pi = 0
	}

	entry := index.Entry{Key: key, Rid: rid}
	page := &ix.data[pi]
	if len(page.Entries) < ix.blockingFactor {
		page.Entries = append(page.Entries, entry)
		if len(ix.root) == 1 && len(ix.leaves[0].Entries) == 1 && len(page.Entries) == 1 {
			ix.root[0].FirstKey = key
			ix.leaves[0].Entries[0].FirstKey = key
		}
	} else {
		newOverflow := overflowPage{Entries: []index.Entry{entry}, Next: page.OverflowHead}
		ix.overflow = append(ix.overflow, newOverflow)
		page.OverflowHead = len(ix.overflow) - 1
	}

	return ix.persist()
}

// Delete removes the matching (key, rid) entry from its data page or
// overflow chain in place, without rebuilding; no tombstone is kept.
// A no-op if absent.
func (ix *ISAM) Delete(key index.Key, rid int64) error {
	pi := ix.findDataPage(key)
	if pi < 0 {
		return nil
	}

	found := false
	page := &ix.data[pi]
	if removed, ok := tryRemove(page.Entries, key, rid); ok {
		page.Entries = removed
		found = true
	}
	for oi := page.OverflowHead; oi != -1; oi = ix.overflow[oi].Next {
		if removed, ok := tryRemove(ix.overflow[oi].Entries, key, rid); ok {
			ix.overflow[oi].Entries = removed
			found = true
		}
	}

	if !found {
		return nil
	}
	return ix.persist()
}

func tryRemove(entries []index.Entry, key index.Key, rid int64) ([]index.Entry, bool) {
	for i, e := range entries {
		if e.Key.Equal(key) && e.Rid == rid {
			return append(entries[:i:i], entries[i+1:]...), true
		}
	}
	return entries, false
}

var _ index.RangeIndex = (*ISAM)(nil)
