// Package hash implements extendible hashing with a directory of
// 2^g bucket pointers, buckets with their own local depth, and
// directory doubling / bucket splitting on overflow.
//
// Buckets and overflow buckets are array arenas keyed by int index;
// directory expansion is in-memory doubling followed by an atomic
// write-temp/rename persist.
package hash

import (
	"bytes"
	"encoding/gob"
	"hash/fnv"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/proximadb/proximadb/internal/index"
	"github.com/proximadb/proximadb/internal/types"
)

const defaultBucketSize = 8

type bucket struct {
	LocalDepth   int
	Entries      []index.Entry
	OverflowHead int // -1 if none
}

type overflowBucket struct {
	Entries []index.Entry
	Next    int // -1 if none
}

// Hash is an extendible-hash point index. It satisfies index.Index
// (no range support).
type Hash struct {
	dirPath, bucketsPath string
	unique               bool
	bucketSize           int

	globalDepth int
	directory   []int // slot -> bucket index
	buckets     []bucket
	overflow    []overflowBucket
}

func New(dir string, unique bool) *Hash {
	return &Hash{
		dirPath:     filepath.Join(dir, "hash.dir"),
		bucketsPath: filepath.Join(dir, "hash.buckets"),
		unique:      unique,
		bucketSize:  defaultBucketSize,
		globalDepth: 0,
		directory:   []int{0},
		buckets:     []bucket{{LocalDepth: 0, OverflowHead: -1}},
	}
}

type persisted struct {
	GlobalDepth int
	Directory   []int
	Buckets     []bucket
	Overflow    []overflowBucket
}

func Load(dir string, unique bool) (*Hash, error) {
	hx := New(dir, unique)
	buf, err := os.ReadFile(hx.dirPath)
	if err != nil {
		if os.IsNotExist(err) {
			return hx, nil
		}
		return nil, types.WrapError(types.ErrIO, err, "load hash.dir")
	}
	var p persisted
	if err := gob.NewDecoder(bytes.NewReader(buf)).Decode(&p); err != nil {
		return nil, types.WrapError(types.ErrIO, err, "decode hash.dir")
	}
	hx.globalDepth, hx.directory, hx.buckets, hx.overflow = p.GlobalDepth, p.Directory, p.Buckets, p.Overflow
	return hx, nil
}

func (hx *Hash) persist() error {
	p := persisted{hx.globalDepth, hx.directory, hx.buckets, hx.overflow}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(p); err != nil {
		return types.WrapError(types.ErrIO, errors.Wrap(err, "encode"), "persist hash index")
	}
	tmp := hx.dirPath + ".tmp-" + uuid.NewString()
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return types.WrapError(types.ErrIO, err, "write temp hash file")
	}
	if f, err := os.Open(tmp); err == nil {
		f.Sync()
		f.Close()
	}
	if err := os.Rename(tmp, hx.dirPath); err != nil {
		return types.WrapError(types.ErrIO, err, "rename temp hash file")
	}
	// hash.buckets is kept as a placeholder sibling artifact; the actual
	// state is embedded in hash.dir's persisted struct above.
	os.WriteFile(hx.bucketsPath, []byte{}, 0644)
	return nil
}

func hashKey(k index.Key) uint64 {
	h := fnv.New64a()
	h.Write([]byte(k.String()))
	return h.Sum64()
}

func mask(g int) uint64 {
	if g == 0 {
		return 0
	}
	return (uint64(1) << uint(g)) - 1
}

func (hx *Hash) bucketForKey(key index.Key) int {
	slot := hashKey(key) & mask(hx.globalDepth)
	return hx.directory[slot]
}

func (hx *Hash) Search(key index.Key) ([]int64, error) {
	bi := hx.bucketForKey(key)
	var out []int64
	for _, e := range hx.buckets[bi].Entries {
		if e.Key.Equal(key) {
			out = append(out, e.Rid)
		}
	}
	for oi := hx.buckets[bi].OverflowHead; oi != -1; oi = hx.overflow[oi].Next {
		for _, e := range hx.overflow[oi].Entries {
			if e.Key.Equal(key) {
				out = append(out, e.Rid)
			}
		}
	}
	return out, nil
}

func (hx *Hash) doubleDirectory() {
	hx.directory = append(hx.directory, hx.directory...)
	hx.globalDepth++
}

// splitBucket splits bi into two buckets at local depth+1, redistributing
// entries and redirecting exactly half its directory pointers. Returns
// false if the split failed to separate any entry out of bi (every entry
// shares the new depth bit); the caller then places the key in the new
// bucket if it maps there with room, else chains an overflow bucket.
func (hx *Hash) splitBucket(bi int) bool {
	b := &hx.buckets[bi]
	oldLen := len(b.Entries)
	newDepth := b.LocalDepth + 1
	newIdx := len(hx.buckets)
	hx.buckets = append(hx.buckets, bucket{LocalDepth: newDepth, OverflowHead: -1})
	hx.buckets[bi].LocalDepth = newDepth

	for i, ptr := range hx.directory {
		if ptr != bi {
			continue
		}
		if (uint64(i)>>uint(newDepth-1))&1 == 1 {
			hx.directory[i] = newIdx
		}
	}

	old := hx.buckets[bi].Entries
	hx.buckets[bi].Entries = nil
	for _, e := range old {
		if (hashKey(e.Key)>>uint(newDepth-1))&1 == 1 {
			hx.buckets[newIdx].Entries = append(hx.buckets[newIdx].Entries, e)
		} else {
			hx.buckets[bi].Entries = append(hx.buckets[bi].Entries, e)
		}
	}

	return len(hx.buckets[bi].Entries) < oldLen
}

func (hx *Hash) appendOverflow(bi int, entry index.Entry) {
	ov := overflowBucket{Entries: []index.Entry{entry}, Next: hx.buckets[bi].OverflowHead}
	hx.overflow = append(hx.overflow, ov)
	hx.buckets[bi].OverflowHead = len(hx.overflow) - 1
}

// Insert bounds the split-and-retry loop so a misbehaving hash function
// can't spin forever before falling back to overflow chaining.
func (hx *Hash) Insert(key index.Key, rid int64) error {
	if hx.unique {
		if rids, _ := hx.Search(key); len(rids) > 0 {
			return types.NewError(types.ErrDuplicateKey, "duplicate key %s", key.String())
		}
	}

	entry := index.Entry{Key: key, Rid: rid}
	for attempts := 0; attempts < 64; attempts++ {
		bi := hx.bucketForKey(key)
		if len(hx.buckets[bi].Entries) < hx.bucketSize {
			hx.buckets[bi].Entries = append(hx.buckets[bi].Entries, entry)
			return hx.persist()
		}

		// A bucket with an overflow chain is not split again, since
		// splitBucket redistributes only its primary entries.
		if hx.buckets[bi].OverflowHead != -1 {
			hx.appendOverflow(bi, entry)
			return hx.persist()
		}

		if hx.buckets[bi].LocalDepth == hx.globalDepth {
			hx.doubleDirectory()
			bi = hx.bucketForKey(key)
		}

		if !hx.splitBucket(bi) {
			if nb := hx.bucketForKey(key); len(hx.buckets[nb].Entries) < hx.bucketSize {
				continue
			}
			hx.appendOverflow(bi, entry)
			return hx.persist()
		}
	}

	return types.NewError(types.ErrIO, "extendible hash failed to place key %s after repeated splits", key.String())
}

// Delete removes one entry matching (key, rid). A no-op if absent.
// Bucket/buddy compaction on underflow is optional and is not
// performed here.
func (hx *Hash) Delete(key index.Key, rid int64) error {
	bi := hx.bucketForKey(key)
	if removed, ok := removeMatch(hx.buckets[bi].Entries, key, rid); ok {
		hx.buckets[bi].Entries = removed
		return hx.persist()
	}
	for oi := hx.buckets[bi].OverflowHead; oi != -1; oi = hx.overflow[oi].Next {
		if removed, ok := removeMatch(hx.overflow[oi].Entries, key, rid); ok {
			hx.overflow[oi].Entries = removed
			return hx.persist()
		}
	}
	return nil
}

func removeMatch(entries []index.Entry, key index.Key, rid int64) ([]index.Entry, bool) {
	for i, e := range entries {
		if e.Key.Equal(key) && e.Rid == rid {
			return append(entries[:i:i], entries[i+1:]...), true
		}
	}
	return entries, false
}

// DirectorySize and BucketLocalDepth expose the structural invariants
// for tests: directory size = 2^g, and every slot's bucket has a local
// depth consistent with the pointer-count invariant.
func (hx *Hash) DirectorySize() int { return len(hx.directory) }
func (hx *Hash) GlobalDepth() int   { return hx.globalDepth }
func (hx *Hash) BucketLocalDepth(slot int) int {
	return hx.buckets[hx.directory[slot]].LocalDepth
}

var _ index.Index = (*Hash)(nil)
