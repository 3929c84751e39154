package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"
)

func TestReadAllDrainsHeaderAndRows(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.csv")
	assert.NilError(t, os.WriteFile(path, []byte("id,name\n1,alice\n2,bob\n"), 0644))

	src, err := OpenCSV(path)
	assert.NilError(t, err)
	defer src.Close()

	headers, rows, err := ReadAll(src)
	assert.NilError(t, err)
	assert.DeepEqual(t, headers, []string{"id", "name"})
	assert.Equal(t, len(rows), 2)
	assert.DeepEqual(t, rows[0], []string{"1", "alice"})
	assert.DeepEqual(t, rows[1], []string{"2", "bob"})
}

func TestOpenCSVMissingFileReturnsIOError(t *testing.T) {
	_, err := OpenCSV("/nonexistent/path/data.csv")
	assert.Assert(t, err != nil)
}
