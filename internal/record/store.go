// Package record implements the paged record store: a fixed-width
// slot file addressed directly by rid (file offset = rid*slotSize).
//
// Slots need O(1) random access by rid rather than a block-chained
// page, so there is no block header — each slot is a flat byte run
// with a single live/tombstone marker byte in front.
package record

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/proximadb/proximadb/internal/types"
	"github.com/proximadb/proximadb/pkg"
)

const (
	liveByte      byte = 1
	tombstoneByte byte = 0
)

// Store is the single source of truth for a table's rows. Reading a
// tombstoned rid reports it as not live; only a slot whose marker byte
// is neither live nor tombstone panics, as corruption.
type Store struct {
	mu sync.RWMutex

	path     string
	f        *os.File
	widths   []int
	slotSize int
	count    int64 // number of allocated slots (next rid)
}

// Open opens or creates the fixed-width record file at path for a slot
// layout described by widths (one per field, in declared order).
func Open(path string, widths []int) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		pkg.ErrorLog("create record store dir", path, err)
		return nil, errors.Wrap(err, "create record store dir")
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		pkg.ErrorLog("open record store", path, err)
		return nil, errors.Wrap(err, "open record store")
	}

	slot_size := 1
	for _, w := range widths {
		slot_size += w
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "stat record store")
	}

	count := int64(0)
	if slot_size > 0 {
		count = info.Size() / int64(slot_size)
	}

	return &Store{path: path, f: f, widths: widths, slotSize: slot_size, count: count}, nil
}

func (s *Store) Close() error { return s.f.Close() }

func (s *Store) SlotSize() int { return s.slotSize }

func (s *Store) Count() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// encode right-pads each field to its declared width. A field longer
// than its declared width is truncated; ingestion is responsible for
// inferring widths generously enough that this never happens in practice.
func (s *Store) encode(fields []string, live byte) ([]byte, error) {
	if len(fields) != len(s.widths) {
		return nil, fmt.Errorf("expected %d fields, got %d", len(s.widths), len(fields))
	}
	buf := make([]byte, s.slotSize)
	buf[0] = live
	off := 1
	for i, field := range fields {
		w := s.widths[i]
		b := []byte(field)
		if len(b) > w {
			b = b[:w]
		}
		copy(buf[off:off+len(b)], b)
		off += w
	}
	return buf, nil
}

func (s *Store) decode(buf []byte) (live bool, fields []string) {
	switch buf[0] {
	case liveByte:
		live = true
	case tombstoneByte:
		live = false
	default:
		panic(fmt.Sprintf("record store corruption: invalid tombstone byte %d", buf[0]))
	}

	fields = make([]string, len(s.widths))
	off := 1
	for i, w := range s.widths {
		raw := buf[off : off+w]
		end := len(raw)
		for end > 0 && raw[end-1] == 0 {
			end--
		}
		fields[i] = string(raw[:end])
		off += w
	}
	return
}

// Append writes a new live record and returns its rid.
func (s *Store) Append(fields []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf, err := s.encode(fields, liveByte)
	if err != nil {
		return 0, types.WrapError(types.ErrBuild, err, "encode record")
	}

	rid := s.count
	if _, err := s.f.WriteAt(buf, rid*int64(s.slotSize)); err != nil {
		return 0, types.WrapError(types.ErrIO, err, "append record")
	}
	s.count++
	return rid, nil
}

// Read returns the fields stored at rid. The second return is false if
// the slot is tombstoned or past the end of the file.
func (s *Store) Read(rid int64) ([]string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if rid < 0 || rid >= s.count {
		return nil, false, nil
	}

	buf := make([]byte, s.slotSize)
	if _, err := s.f.ReadAt(buf, rid*int64(s.slotSize)); err != nil {
		return nil, false, types.WrapError(types.ErrIO, err, "read record %d", rid)
	}

	live, fields := s.decode(buf)
	return fields, live, nil
}

// Tombstone marks rid as deleted. Tombstoning a missing or already-dead
// rid is a no-op, matching the idempotent-deletion invariant in 
func (s *Store) Tombstone(rid int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rid < 0 || rid >= s.count {
		return nil
	}

	if _, err := s.f.WriteAt([]byte{tombstoneByte}, rid*int64(s.slotSize)); err != nil {
		return types.WrapError(types.ErrIO, err, "tombstone record %d", rid)
	}
	return nil
}

// Update overwrites the fields at an existing, live rid in place.
func (s *Store) Update(rid int64, fields []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rid < 0 || rid >= s.count {
		return types.NewError(types.ErrNotFound, "rid %d does not exist", rid)
	}

	buf, err := s.encode(fields, liveByte)
	if err != nil {
		return types.WrapError(types.ErrBuild, err, "encode record")
	}
	if _, err := s.f.WriteAt(buf, rid*int64(s.slotSize)); err != nil {
		return types.WrapError(types.ErrIO, err, "update record %d", rid)
	}
	return nil
}

// Row pairs a rid with its live field values, yielded by Scan.
type Row struct {
	Rid    int64
	Fields []string
}

// Scan returns every live record in rid order, skipping tombstones.
func (s *Store) Scan() ([]Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]Row, 0, s.count)
	buf := make([]byte, s.slotSize)
	for rid := int64(0); rid < s.count; rid++ {
		if _, err := s.f.ReadAt(buf, rid*int64(s.slotSize)); err != nil {
			return nil, types.WrapError(types.ErrIO, err, "scan record %d", rid)
		}
		live, fields := s.decode(buf)
		if live {
			rows = append(rows, Row{Rid: rid, Fields: fields})
		}
	}
	return rows, nil
}
