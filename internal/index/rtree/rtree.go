// Package rtree implements a multidimensional R-tree with minimum
// bounding rectangles, best-first kNN and radius search, hand-written
// against container/heap and math with nodes kept as an array arena
// keyed by int index.
package rtree

import (
	"bytes"
	"container/heap"
	"encoding/gob"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/proximadb/proximadb/internal/index"
	"github.com/proximadb/proximadb/internal/types"
)

const (
	defaultMaxEntries = 8
	defaultMinEntries = defaultMaxEntries / 2
)

// mbr is the minimum axis-aligned bounding rectangle of a subtree.
type mbr struct {
	Lo, Hi index.Point
}

func pointMBR(p index.Point) mbr {
	lo := append(index.Point{}, p...)
	hi := append(index.Point{}, p...)
	return mbr{Lo: lo, Hi: hi}
}

func (m mbr) union(o mbr) mbr {
	lo := make(index.Point, len(m.Lo))
	hi := make(index.Point, len(m.Hi))
	for i := range m.Lo {
		lo[i] = math.Min(m.Lo[i], o.Lo[i])
		hi[i] = math.Max(m.Hi[i], o.Hi[i])
	}
	return mbr{Lo: lo, Hi: hi}
}

func (m mbr) area() float64 {
	a := 1.0
	for i := range m.Lo {
		a *= m.Hi[i] - m.Lo[i]
	}
	return a
}

// enlargement returns the area added to m by unioning it with o.
func (m mbr) enlargement(o mbr) float64 {
	return m.union(o).area() - m.area()
}

// node is an array-arena entry: either an internal node whose children
// are other arena indices, or a leaf whose children are rids.
type node struct {
	Leaf     bool
	MBR      mbr
	Children []int // internal: child arena indices
	Entries  []leafEntry
	Parent   int
}

type leafEntry struct {
	MBR mbr
	Rid int64
}

// RTree is a spatial index. It satisfies index.SpatialIndex. Keys are
// unused for lookup (data is addressed by Point, not by the scalar Key
// order the other indexes use); Insert/Delete/Search exist so RTree
// satisfies the shared index.Index surface for the engine's dispatch
// table, and ignore the Key they are given.
type RTree struct {
	path string
	geo  bool

	nodes []node
	root  int
}

func New(dir string, geo bool) *RTree {
	rt := &RTree{path: filepath.Join(dir, "rtree.idx"), geo: geo}
	rt.nodes = []node{{Leaf: true, Parent: -1}}
	rt.root = 0
	return rt
}

type persisted struct {
	Geo   bool
	Nodes []node
	Root  int
}

func Load(dir string, geo bool) (*RTree, error) {
	rt := New(dir, geo)
	buf, err := os.ReadFile(rt.path)
	if err != nil {
		if os.IsNotExist(err) {
			return rt, nil
		}
		return nil, types.WrapError(types.ErrIO, err, "load rtree.idx")
	}
	var p persisted
	if err := gob.NewDecoder(bytes.NewReader(buf)).Decode(&p); err != nil {
		return nil, types.WrapError(types.ErrIO, errors.Wrap(err, "decode"), "load rtree.idx")
	}
	rt.geo, rt.nodes, rt.root = p.Geo, p.Nodes, p.Root
	return rt, nil
}

func (rt *RTree) persist() error {
	p := persisted{rt.geo, rt.nodes, rt.root}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(p); err != nil {
		return types.WrapError(types.ErrIO, errors.Wrap(err, "encode"), "persist rtree.idx")
	}
	tmp := rt.path + ".tmp-" + uuid.NewString()
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return types.WrapError(types.ErrIO, err, "write temp rtree file")
	}
	if f, err := os.Open(tmp); err == nil {
		f.Sync()
		f.Close()
	}
	if err := os.Rename(tmp, rt.path); err != nil {
		return types.WrapError(types.ErrIO, err, "rename temp rtree file")
	}
	return nil
}

// distance uses Haversine for geographic tables, Euclidean otherwise.
// Geographic points are (lat, lon) pairs.
func (rt *RTree) distance(a, b index.Point) float64 {
	if rt.geo {
		return haversine(a[0], a[1], b[0], b[1])
	}
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

const earthRadiusKm = 6371.0

func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

// minDistToMBR returns the minimum possible distance from a query point to
// any point inside m, used to prune/prioritize node expansion.
func (rt *RTree) minDistToMBR(q index.Point, m mbr) float64 {
	if rt.geo {
		// Clamp the query point onto the MBR, then Haversine to that
		// clamped point — exact for small regions, a safe admissible
		// lower bound in general since Haversine is monotone in each
		// coordinate locally.
		clamped := index.Point{clamp(q[0], m.Lo[0], m.Hi[0]), clamp(q[1], m.Lo[1], m.Hi[1])}
		return haversine(q[0], q[1], clamped[0], clamped[1])
	}
	sum := 0.0
	for i := range q {
		v := q[i]
		if v < m.Lo[i] {
			sum += (m.Lo[i] - v) * (m.Lo[i] - v)
		} else if v > m.Hi[i] {
			sum += (v - m.Hi[i]) * (v - m.Hi[i])
		}
	}
	return math.Sqrt(sum)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// InsertPoint adds (point, rid) following a least-enlargement subtree
// choice, quadratic-split on leaf overflow.
func (rt *RTree) InsertPoint(p index.Point, rid int64) error {
	leafIdx := rt.chooseLeaf(p)
	leaf := &rt.nodes[leafIdx]
	leaf.Entries = append(leaf.Entries, leafEntry{MBR: pointMBR(p), Rid: rid})

	if len(leaf.Entries) > defaultMaxEntries {
		rt.splitLeaf(leafIdx)
	} else {
		rt.adjustMBRUp(leafIdx)
	}

	return rt.persist()
}

func (rt *RTree) chooseLeaf(p index.Point) int {
	n := rt.root
	for !rt.nodes[n].Leaf {
		cur := &rt.nodes[n]
		best, bestEnl, bestArea := -1, math.Inf(1), math.Inf(1)
		for _, c := range cur.Children {
			cm := rt.nodes[c].MBR
			enl := cm.enlargement(pointMBR(p))
			area := cm.area()
			if enl < bestEnl || (enl == bestEnl && area < bestArea) {
				best, bestEnl, bestArea = c, enl, area
			}
		}
		n = best
	}
	return n
}

func (rt *RTree) adjustMBRUp(ni int) {
	for ni != -1 {
		n := &rt.nodes[ni]
		if n.Leaf {
			n.MBR = unionOfLeaf(n.Entries)
		} else {
			n.MBR = unionOfChildren(rt.nodes, n.Children)
		}
		ni = n.Parent
	}
}

func unionOfLeaf(entries []leafEntry) mbr {
	m := entries[0].MBR
	for _, e := range entries[1:] {
		m = m.union(e.MBR)
	}
	return m
}

func unionOfChildren(nodes []node, children []int) mbr {
	m := nodes[children[0]].MBR
	for _, c := range children[1:] {
		m = m.union(nodes[c].MBR)
	}
	return m
}

// splitLeaf implements quadratic pick-seeds: pick the pair
// of entries whose combined MBR wastes the most area, seed two groups
// with them, then greedily assign the rest to whichever group's
// enlargement is smallest.
func (rt *RTree) splitLeaf(li int) {
	leaf := &rt.nodes[li]
	entries := leaf.Entries

	seedA, seedB := quadraticSeeds(entries)
	groupA := []leafEntry{entries[seedA]}
	groupB := []leafEntry{entries[seedB]}
	mbrA, mbrB := entries[seedA].MBR, entries[seedB].MBR

	for i, e := range entries {
		if i == seedA || i == seedB {
			continue
		}
		enlA := mbrA.enlargement(e.MBR)
		enlB := mbrB.enlargement(e.MBR)
		if enlA < enlB {
			groupA = append(groupA, e)
			mbrA = mbrA.union(e.MBR)
		} else {
			groupB = append(groupB, e)
			mbrB = mbrB.union(e.MBR)
		}
	}

	leaf.Entries = groupA
	leaf.MBR = mbrA

	newIdx := len(rt.nodes)
	rt.nodes = append(rt.nodes, node{Leaf: true, Entries: groupB, MBR: mbrB, Parent: leaf.Parent})

	rt.insertChildIntoParent(li, newIdx)
}

func quadraticSeeds(entries []leafEntry) (int, int) {
	bestA, bestB, bestWaste := 0, 1, -1.0
	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			u := entries[i].MBR.union(entries[j].MBR)
			waste := u.area() - entries[i].MBR.area() - entries[j].MBR.area()
			if waste > bestWaste {
				bestA, bestB, bestWaste = i, j, waste
			}
		}
	}
	return bestA, bestB
}

// insertChildIntoParent wires a freshly-split sibling into the parent's
// child list (creating a new root if split happened at the root),
// splitting the parent in turn on overflow.
func (rt *RTree) insertChildIntoParent(left, right int) {
	parent := rt.nodes[left].Parent
	if parent == -1 {
		newRoot := node{
			Leaf:     false,
			Children: []int{left, right},
			Parent:   -1,
		}
		newRoot.MBR = unionOfChildren(rt.nodes, newRoot.Children)
		ri := len(rt.nodes)
		rt.nodes = append(rt.nodes, newRoot)
		rt.nodes[left].Parent = ri
		rt.nodes[right].Parent = ri
		rt.root = ri
		return
	}

	rt.nodes[right].Parent = parent
	p := &rt.nodes[parent]
	p.Children = append(p.Children, right)
	rt.adjustMBRUp(parent)

	if len(p.Children) > defaultMaxEntries {
		rt.splitInternal(parent)
	}
}

func (rt *RTree) splitInternal(ni int) {
	n := &rt.nodes[ni]
	children := n.Children

	bestA, bestB, bestWaste := 0, 1, -1.0
	for i := 0; i < len(children); i++ {
		for j := i + 1; j < len(children); j++ {
			u := rt.nodes[children[i]].MBR.union(rt.nodes[children[j]].MBR)
			waste := u.area() - rt.nodes[children[i]].MBR.area() - rt.nodes[children[j]].MBR.area()
			if waste > bestWaste {
				bestA, bestB, bestWaste = i, j, waste
			}
		}
	}

	groupA := []int{children[bestA]}
	groupB := []int{children[bestB]}
	mbrA, mbrB := rt.nodes[children[bestA]].MBR, rt.nodes[children[bestB]].MBR

	for i, c := range children {
		if i == bestA || i == bestB {
			continue
		}
		cm := rt.nodes[c].MBR
		enlA := mbrA.enlargement(cm)
		enlB := mbrB.enlargement(cm)
		if enlA < enlB {
			groupA = append(groupA, c)
			mbrA = mbrA.union(cm)
		} else {
			groupB = append(groupB, c)
			mbrB = mbrB.union(cm)
		}
	}

	n.Children = groupA
	n.MBR = mbrA
	for _, c := range groupA {
		rt.nodes[c].Parent = ni
	}

	newIdx := len(rt.nodes)
	rt.nodes = append(rt.nodes, node{Children: groupB, MBR: mbrB, Parent: n.Parent})
	for _, c := range groupB {
		rt.nodes[c].Parent = newIdx
	}

	rt.insertChildIntoParent(ni, newIdx)
}

// heapItem is a best-first search frontier entry: either a node to
// expand or a leaf entry already resolved to a candidate result.
type heapItem struct {
	dist   float64
	nodeID int
	isLeaf bool
	entry  leafEntry
	seq    int // insertion order, for deterministic tie-break
}

type candidateHeap []heapItem

func (h candidateHeap) Len() int { return len(h) }
func (h candidateHeap) Less(i, j int) bool {
	if h[i].dist != h[j].dist {
		return h[i].dist < h[j].dist
	}
	return h[i].seq < h[j].seq
}
func (h candidateHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x any)        { *h = append(*h, x.(heapItem)) }
func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// KNN runs a best-first priority-queue traversal: pop the closest node
// or entry off a min-heap keyed by minimum distance to the query;
// expanding a node pushes its children; emitting an entry adds it to
// the result until k are collected. Ties broken by insertion (arena
// discovery) order for determinism.
func (rt *RTree) KNN(query index.Point, k int) ([]index.Entry, error) {
	if k <= 0 {
		return nil, nil
	}
	h := &candidateHeap{}
	seq := 0
	heap.Init(h)
	heap.Push(h, heapItem{dist: rt.minDistToMBR(query, rt.nodes[rt.root].MBR), nodeID: rt.root, seq: seq})
	seq++

	var out []index.Entry
	for h.Len() > 0 && len(out) < k {
		it := heap.Pop(h).(heapItem)
		if it.isLeaf {
			out = append(out, index.Entry{Key: index.NewNumericKey(float64(it.entry.Rid)), Rid: it.entry.Rid})
			continue
		}
		n := &rt.nodes[it.nodeID]
		if n.Leaf {
			for _, e := range n.Entries {
				heap.Push(h, heapItem{dist: rt.distance(query, e.MBR.Lo), isLeaf: true, entry: e, seq: seq})
				seq++
			}
		} else {
			for _, c := range n.Children {
				heap.Push(h, heapItem{dist: rt.minDistToMBR(query, rt.nodes[c].MBR), nodeID: c, seq: seq})
				seq++
			}
		}
	}
	return out, nil
}

// Radius runs a depth-first pruning search: skip any node whose MBR's
// minimum distance to the query exceeds r. Results are returned in
// ascending distance from query, ties broken by rid.
func (rt *RTree) Radius(query index.Point, r float64) ([]index.Entry, error) {
	type found struct {
		entry index.Entry
		dist  float64
	}
	var out []found
	var walk func(ni int)
	walk = func(ni int) {
		n := &rt.nodes[ni]
		if rt.minDistToMBR(query, n.MBR) > r {
			return
		}
		if n.Leaf {
			for _, e := range n.Entries {
				if d := rt.distance(query, e.MBR.Lo); d <= r {
					out = append(out, found{entry: index.Entry{Key: index.NewNumericKey(float64(e.Rid)), Rid: e.Rid}, dist: d})
				}
			}
			return
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(rt.root)

	sort.Slice(out, func(i, j int) bool {
		if out[i].dist != out[j].dist {
			return out[i].dist < out[j].dist
		}
		return out[i].entry.Rid < out[j].entry.Rid
	})
	entries := make([]index.Entry, len(out))
	for i, f := range out {
		entries[i] = f.entry
	}
	return entries, nil
}

// Insert/Delete/Search satisfy index.Index; the Key argument is not
// used. Insert always returns an error (points go in through
// InsertPoint), Search always returns no rids, and Delete removes the
// first leaf entry whose rid matches. Spatial predicates go through
// KNN/Radius.
func (rt *RTree) Insert(key index.Key, rid int64) error {
	return types.NewError(types.ErrIO, "rtree: use InsertPoint, not Insert")
}

func (rt *RTree) Search(key index.Key) ([]int64, error) {
	return nil, nil
}

func (rt *RTree) Delete(key index.Key, rid int64) error {
	var target int
	found := false
	var walk func(ni int)
	walk = func(ni int) {
		if found {
			return
		}
		n := &rt.nodes[ni]
		if n.Leaf {
			for i, e := range n.Entries {
				if e.Rid == rid {
					n.Entries = append(n.Entries[:i], n.Entries[i+1:]...)
					found = true
					target = ni
					return
				}
			}
			return
		}
		for _, c := range n.Children {
			walk(c)
			if found {
				return
			}
		}
	}
	walk(rt.root)
	if !found {
		return nil
	}
	rt.adjustMBRUp(target)
	return rt.persist()
}

var _ index.SpatialIndex = (*RTree)(nil)
