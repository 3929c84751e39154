// Package index defines the contracts shared by every index family
// (-): a total-ordered Key, an (key, rid) Entry, and the capability
// interfaces the engine dispatches a predicate against.
//
// Index implementations only ever return NotFound, DuplicateKey or
// IOError — everything else is an engine
// concern.
package index

import (
	"strconv"
)

// Key is an immutable value drawn from one field, compared with a total
// order: numeric fields use numeric order, everything else lexicographic.
type Key struct {
	numeric bool
	num     float64
	str     string
}

func NewNumericKey(v float64) Key { return Key{numeric: true, num: v} }
func NewTextKey(v string) Key     { return Key{str: v} }

// ParseKey builds a Key from a raw field string, trying numeric parse
// first so int/float fields compare numerically without a separate type
// tag having to be threaded through every call site.
func ParseKey(raw string, numeric bool) Key {
	if numeric {
		f, err := strconv.ParseFloat(raw, 64)
		if err == nil {
			return Key{numeric: true, num: f}
		}
	}
	return Key{str: raw}
}

func (k Key) IsNumeric() bool { return k.numeric }
func (k Key) Float() float64  { return k.num }
func (k Key) String() string {
	if k.numeric {
		return strconv.FormatFloat(k.num, 'g', -1, 64)
	}
	return k.str
}

func (k Key) Less(o Key) bool {
	if k.numeric && o.numeric {
		return k.num < o.num
	}
	return k.String() < o.String()
}

func (k Key) Equal(o Key) bool {
	if k.numeric && o.numeric {
		return k.num == o.num
	}
	return k.String() == o.String()
}

// GobEncode and GobDecode let persisted index state carry Keys, whose
// fields are unexported: a one-byte kind tag ('n' or 's') then the value.
func (k Key) GobEncode() ([]byte, error) {
	if k.numeric {
		return []byte("n" + k.String()), nil
	}
	return []byte("s" + k.str), nil
}

func (k *Key) GobDecode(b []byte) (err error) {
	*k = Key{numeric: len(b) > 0 && b[0] == 'n'}
	if k.numeric {
		k.num, err = strconv.ParseFloat(string(b[1:]), 64)
	} else if len(b) > 0 {
		k.str = string(b[1:])
	}
	return err
}

// Entry is a (key, rid) pair. Indexes store entries, never records;
// rid is resolved through the record store.
type Entry struct {
	Key Key
	Rid int64
}

// Index is the contract every index family implements.
type Index interface {
	// Insert adds (key, rid). Returns DuplicateKey if the index enforces
	// uniqueness and key is already present.
	Insert(key Key, rid int64) error
	// Delete removes the entry matching both key and rid; entries under
	// the same key with other rids are kept. A no-op, not an error, if
	// no such entry exists.
	Delete(key Key, rid int64) error
	// Search returns every rid stored under key. Empty, not an error,
	// if key is absent (NotFound is never propagated from here; "found
	// nothing" is simply an empty slice).
	Search(key Key) ([]int64, error)
}

// RangeIndex is implemented by ordered indexes ().
type RangeIndex interface {
	Index
	Range(lo, hi Key) ([]Entry, error)
}

// Point is a coordinate vector for . Geographic tables use 2
// components (lat, lon) and are compared with Haversine distance;
// everything else uses Euclidean distance.
type Point []float64

// SpatialIndex is implemented by  (R-tree).
type SpatialIndex interface {
	Index
	KNN(query Point, k int) ([]Entry, error)
	Radius(query Point, r float64) ([]Entry, error)
}
