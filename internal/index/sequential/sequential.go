// Package sequential implements an ordered main file with a bounded
// auxiliary area, periodically merged back into main.
//
// Persistence follows a write-temp/fsync/rename discipline so a crash
// mid-merge never corrupts main.seq/aux.seq.
package sequential

import (
	"bytes"
	"encoding/gob"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/proximadb/proximadb/internal/index"
	"github.com/proximadb/proximadb/internal/types"
)

const defaultMergeRatio = 0.1

// slot is an entry plus a singly-linked "next" pointer. Because main is
// always kept fully sorted after a merge, next[i] is i+1 for live slots
// in steady state; dead slots keep their place and their Next pointer,
// are skipped by readers, and are physically removed at the next merge.
type slot struct {
	Entry index.Entry
	Next  int // index into main, -1 if none
	Dead  bool
}

// Seq is an ordered main-plus-auxiliary sequential index. It satisfies
// index.RangeIndex.
type Seq struct {
	mu sync.RWMutex

	mainPath, auxPath string
	unique            bool
	mergeRatio        float64

	main  []slot
	aux   []slot
	first int // index of smallest live key in main, -1 if main is empty
}

// New creates an empty sequential index persisted under dir.
func New(dir string, unique bool) *Seq {
	return &Seq{
		mainPath:   filepath.Join(dir, "main.seq"),
		auxPath:    filepath.Join(dir, "aux.seq"),
		unique:     unique,
		mergeRatio: defaultMergeRatio,
		first:      -1,
	}
}

// Load reads a previously persisted index back from dir. Missing files
// are treated as an empty index (first CREATE TABLE for this table).
func Load(dir string, unique bool) (*Seq, error) {
	s := New(dir, unique)
	if main, err := readSlots(s.mainPath); err == nil {
		s.main = main
	} else if !os.IsNotExist(err) {
		return nil, types.WrapError(types.ErrIO, err, "load main.seq")
	}
	if aux, err := readSlots(s.auxPath); err == nil {
		s.aux = aux
	} else if !os.IsNotExist(err) {
		return nil, types.WrapError(types.ErrIO, err, "load aux.seq")
	}
	s.relink()
	return s, nil
}

func readSlots(path string) ([]slot, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []slot
	if err := gob.NewDecoder(bytes.NewReader(buf)).Decode(&out); err != nil {
		return nil, errors.Wrap(err, "decode slots")
	}
	return out, nil
}

func writeAtomic(path string, slots []slot) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(slots); err != nil {
		return errors.Wrap(err, "encode slots")
	}

	tmp := path + ".tmp-" + uuid.NewString()
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return errors.Wrap(err, "write temp file")
	}
	f, err := os.Open(tmp)
	if err == nil {
		f.Sync()
		f.Close()
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrap(err, "rename temp file")
	}
	return nil
}

// relink rebuilds the linked-list Next pointers and first index after a
// sort or load; main is assumed already sorted by key.
func (s *Seq) relink() {
	s.first = -1
	for i := range s.main {
		if i+1 < len(s.main) {
			s.main[i].Next = i + 1
		} else {
			s.main[i].Next = -1
		}
	}
	for i, sl := range s.main {
		if !sl.Dead {
			s.first = i
			break
		}
	}
}

func (s *Seq) persist() error {
	if err := writeAtomic(s.mainPath, s.main); err != nil {
		return types.WrapError(types.ErrIO, err, "persist main.seq")
	}
	if err := writeAtomic(s.auxPath, s.aux); err != nil {
		return types.WrapError(types.ErrIO, err, "persist aux.seq")
	}
	return nil
}

// binarySearchMain returns the index of the first main slot whose key is
// >= target (ignoring Dead), or len(main) if none.
func (s *Seq) binarySearchMain(target index.Key) int {
	lo, hi := 0, len(s.main)
	for lo < hi {
		mid := (lo + hi) / 2
		if s.main[mid].Entry.Key.Less(target) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

func (s *Seq) Insert(key index.Key, rid int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unique {
		if s.searchLocked(key) != nil {
			return types.NewError(types.ErrDuplicateKey, "duplicate key %s", key.String())
		}
	}

	s.aux = append(s.aux, slot{Entry: index.Entry{Key: key, Rid: rid}})

	threshold := int(float64(len(s.main)) * s.mergeRatio)
	if threshold < 1 {
		threshold = 1
	}
	if len(s.aux) >= threshold {
		s.mergeLocked()
	}

	return s.persist()
}

// mergeLocked stable-sorts main ∪ aux by key, drops tombstones, rewrites
// main, and clears aux. Caller holds s.mu.
func (s *Seq) mergeLocked() {
	merged := make([]slot, 0, len(s.main)+len(s.aux))
	for _, sl := range s.main {
		if !sl.Dead {
			merged = append(merged, slot{Entry: sl.Entry})
		}
	}
	for _, sl := range s.aux {
		if !sl.Dead {
			merged = append(merged, slot{Entry: sl.Entry})
		}
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Entry.Key.Less(merged[j].Entry.Key) })

	s.main = merged
	s.aux = s.aux[:0]
	s.relink()
}

func (s *Seq) searchLocked(key index.Key) []int64 {
	var out []int64
	idx := s.binarySearchMain(key)
	for idx != -1 && idx < len(s.main) {
		sl := s.main[idx]
		if !sl.Entry.Key.Equal(key) {
			break
		}
		if !sl.Dead {
			out = append(out, sl.Entry.Rid)
		}
		idx = sl.Next
	}
	for _, sl := range s.aux {
		if !sl.Dead && sl.Entry.Key.Equal(key) {
			out = append(out, sl.Entry.Rid)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (s *Seq) Search(key index.Key) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.searchLocked(key), nil
}

func (s *Seq) Range(lo, hi index.Key) ([]index.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []index.Entry
	idx := s.binarySearchMain(lo)
	for idx != -1 && idx < len(s.main) {
		sl := s.main[idx]
		if hi.Less(sl.Entry.Key) {
			break
		}
		if !sl.Dead {
			out = append(out, sl.Entry)
		}
		idx = sl.Next
	}
	for _, sl := range s.aux {
		if sl.Dead {
			continue
		}
		k := sl.Entry.Key
		if !k.Less(lo) && !hi.Less(k) {
			out = append(out, sl.Entry)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Key.Less(out[j].Key) })
	return out, nil
}

// Delete tombstones every entry matching (key, rid) in main and aux.
// Deleting a missing key is a no-op.
func (s *Seq) Delete(key index.Key, rid int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	for i := range s.main {
		if !s.main[i].Dead && s.main[i].Entry.Key.Equal(key) && s.main[i].Entry.Rid == rid {
			s.main[i].Dead = true
			found = true
		}
	}
	for i := range s.aux {
		if !s.aux[i].Dead && s.aux[i].Entry.Key.Equal(key) && s.aux[i].Entry.Rid == rid {
			s.aux[i].Dead = true
			found = true
		}
	}
	if !found {
		return nil
	}
	return s.persist()
}

// Rebuild forces main+aux merge and tombstone removal; callers may run
// this on a schedule independent of the insert-driven threshold.
func (s *Seq) Rebuild() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mergeLocked()
	return s.persist()
}

var _ index.RangeIndex = (*Seq)(nil)
