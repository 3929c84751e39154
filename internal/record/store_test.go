package record

import (
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"
)

func TestAppendReadScan(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "records.dat"), []int{8, 4})
	assert.NilError(t, err)
	defer s.Close()

	r0, err := s.Append([]string{"alice", "30"})
	assert.NilError(t, err)
	assert.Equal(t, r0, int64(0))

	r1, err := s.Append([]string{"bob", "25"})
	assert.NilError(t, err)
	assert.Equal(t, r1, int64(1))

	fields, live, err := s.Read(r0)
	assert.NilError(t, err)
	assert.Equal(t, live, true)
	assert.DeepEqual(t, fields, []string{"alice", "30"})

	rows, err := s.Scan()
	assert.NilError(t, err)
	assert.Equal(t, len(rows), 2)
}

func TestTombstoneIdempotentAndSkippedByScan(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "records.dat"), []int{8})
	assert.NilError(t, err)
	defer s.Close()

	rid, err := s.Append([]string{"x"})
	assert.NilError(t, err)

	assert.NilError(t, s.Tombstone(rid))
	assert.NilError(t, s.Tombstone(rid)) // idempotent

	_, live, err := s.Read(rid)
	assert.NilError(t, err)
	assert.Equal(t, live, false)

	rows, err := s.Scan()
	assert.NilError(t, err)
	assert.Equal(t, len(rows), 0)
}

func TestReopenPreservesCount(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "records.dat")

	s, err := Open(path, []int{4})
	assert.NilError(t, err)
	_, err = s.Append([]string{"a"})
	assert.NilError(t, err)
	_, err = s.Append([]string{"b"})
	assert.NilError(t, err)
	assert.NilError(t, s.Close())

	s2, err := Open(path, []int{4})
	assert.NilError(t, err)
	defer s2.Close()
	assert.Equal(t, s2.Count(), int64(2))
}
