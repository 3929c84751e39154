package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/proximadb/proximadb/internal/mm"
	"github.com/proximadb/proximadb/internal/types"
)

func writeCSV(t *testing.T, dir, name string, lines []string) string {
	path := filepath.Join(dir, name)
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	assert.NilError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// TestBTreeRangeScenario covers a range query over a btree-indexed field.
func TestBTreeRangeScenario(t *testing.T) {
	dir := t.TempDir()
	csv := writeCSV(t, dir, "students.csv", []string{
		"name,math_score",
		"alice,85",
		"bob,72",
		"carol,91",
		"dave,80",
		"erin,95",
	})

	e := New(filepath.Join(dir, "tables"))
	_, err := e.Execute(fmt.Sprintf(`CREATE TABLE students FROM FILE "%s" USING INDEX btree(math_score)`, csv))
	assert.NilError(t, err)

	res, err := e.Execute(`SELECT * FROM students WHERE math_score BETWEEN 80 AND 90`)
	assert.NilError(t, err)
	assert.Equal(t, res.Count, 2)
	assert.Equal(t, res.Rows[0][1], "80")
	assert.Equal(t, res.Rows[1][1], "85")
}

// TestHashPointScenario covers point lookups over a hash-indexed field.
func TestHashPointScenario(t *testing.T) {
	dir := t.TempDir()
	lines := []string{"order_id,amount"}
	for i := 0; i < 500; i++ {
		lines = append(lines, strconv.Itoa(i)+",10.00")
	}
	csv := writeCSV(t, dir, "orders.csv", lines)

	e := New(filepath.Join(dir, "tables"))
	_, err := e.Execute(fmt.Sprintf(`CREATE TABLE orders FROM FILE "%s" USING INDEX hash(order_id)`, csv))
	assert.NilError(t, err)

	res, err := e.Execute(`SELECT * FROM orders WHERE order_id = 42`)
	assert.NilError(t, err)
	assert.Equal(t, res.Count, 1)

	res, err = e.Execute(`SELECT * FROM orders WHERE order_id = 999999`)
	assert.NilError(t, err)
	assert.Equal(t, res.Count, 0)
}

// TestRTreeRadiusScenario covers a radius query over an rtree-indexed
// pair of coordinate fields.
func TestRTreeRadiusScenario(t *testing.T) {
	dir := t.TempDir()
	csv := writeCSV(t, dir, "places.csv", []string{
		"name,lat,lon",
		"a,47.60,-122.33",
		"b,47.62,-122.30",
		"c,48.00,-121.00",
	})

	e := New(filepath.Join(dir, "tables"))
	_, err := e.Execute(fmt.Sprintf(`CREATE TABLE places FROM FILE "%s" USING INDEX rtree(lat, lon)`, csv))
	assert.NilError(t, err)

	res, err := e.Execute(`SELECT * FROM places WHERE lat IN ("47.61,-122.31", 5.0)`)
	assert.NilError(t, err)
	assert.Equal(t, res.Count, 2)
	// b is ~1.34km from the query point, a ~1.87km; Radius returns
	// results in ascending distance order.
	assert.Equal(t, res.Rows[0][0], "b")
	assert.Equal(t, res.Rows[1][0], "a")
}

// TestSPIMIScenario covers a text query over a spimi-indexed field.
func TestSPIMIScenario(t *testing.T) {
	dir := t.TempDir()
	csv := writeCSV(t, dir, "docs.csv", []string{
		"id,body",
		"1,love and light",
		"2,light and shadow",
	})

	e := New(filepath.Join(dir, "tables"))
	_, err := e.Execute(fmt.Sprintf(`CREATE TABLE docs FROM FILE "%s" USING INDEX spimi(body)`, csv))
	assert.NilError(t, err)

	res, err := e.Execute(`SELECT * FROM docs WHERE body @@ "light love"`)
	assert.NilError(t, err)
	assert.Assert(t, res.Count >= 1)
	assert.Equal(t, res.Rows[0][0], "1")

	res, err = e.Execute(`SELECT * FROM docs WHERE body @@ "shadow"`)
	assert.NilError(t, err)
	assert.Equal(t, res.Count, 1)
	assert.Equal(t, res.Rows[0][0], "2")
}

// identityExtractor is a fake external collaborator for tests: it
// treats the "asset path" string itself as a literal comma-separated
// global vector, so no real image/audio decoding is needed.
type identityExtractor struct{}

func (identityExtractor) Identity() types.ExtractorIdentity {
	return types.ExtractorIdentity{Name: "test-identity", Version: "1", Params: "global"}
}

func (identityExtractor) Extract(path string) (mm.AssetDescriptors, error) {
	parts := splitFloats(path)
	return mm.AssetDescriptors{Global: parts}, nil
}

func splitFloats(s string) mm.Vector {
	var out mm.Vector
	cur := ""
	flush := func() {
		if cur == "" {
			return
		}
		f, _ := strconv.ParseFloat(cur, 64)
		out = append(out, f)
		cur = ""
	}
	for _, c := range s {
		if c == ',' {
			flush()
			continue
		}
		cur += string(c)
	}
	flush()
	return out
}

// TestMultimediaScenario covers a similarity query over a multimedia
// table: codebook of size 8, three global vectors h1=(1,0,...),
// h2=(0,1,...), h3=(1,1,0,...), query h1 returns [h1, h3, h2] under
// cosine.
func TestMultimediaScenario(t *testing.T) {
	dir := t.TempDir()
	csv := writeCSV(t, dir, "assets.csv", []string{
		"path",
		`"1,0,0,0,0,0,0,0"`,
		`"0,1,0,0,0,0,0,0"`,
		`"1,1,0,0,0,0,0,0"`,
	})

	e := New(filepath.Join(dir, "tables"))
	e.RegisterExtractor("identity", identityExtractor{})

	_, err := e.Execute(fmt.Sprintf(`CREATE MULTIMEDIA TABLE assets FROM FILE "%s" USING image WITH METHOD identity CLUSTERS 8`, csv))
	assert.NilError(t, err)

	res, err := e.Execute(`SELECT * FROM assets WHERE path <-> "1,0,0,0,0,0,0,0" METHOD sequential`)
	assert.NilError(t, err)
	assert.Equal(t, res.Count, 3)
	assert.Equal(t, res.Rows[0][0], "1,0,0,0,0,0,0,0")
	assert.Equal(t, res.Rows[2][0], "0,1,0,0,0,0,0,0")

	// Inverted kNN only enumerates assets sharing a word with the query;
	// h2 (0,1,...) has disjoint support with h1 and true cosine zero, so
	// it correctly drops out entirely rather than appearing with score 0.
	resInv, err := e.Execute(`SELECT * FROM assets WHERE path <-> "1,0,0,0,0,0,0,0" METHOD inverted`)
	assert.NilError(t, err)
	assert.Equal(t, len(resInv.Rows), 2)
	for i := range resInv.Rows {
		assert.Equal(t, res.Rows[i][0], resInv.Rows[i][0])
	}
}

func TestUnsupportedPredicateFailsFast(t *testing.T) {
	dir := t.TempDir()
	csv := writeCSV(t, dir, "orders.csv", []string{"order_id,amount", "1,10.00", "2,20.00"})

	e := New(filepath.Join(dir, "tables"))
	_, err := e.Execute(fmt.Sprintf(`CREATE TABLE orders FROM FILE "%s" USING INDEX hash(order_id)`, csv))
	assert.NilError(t, err)

	_, err = e.Execute(`SELECT * FROM orders WHERE order_id BETWEEN 1 AND 2`)
	assert.Assert(t, err != nil)
	qerr, ok := err.(*types.QueryError)
	assert.Assert(t, ok)
	assert.Equal(t, qerr.Kind, types.ErrUnsupportedPredicate)
}

func TestInsertAndDeleteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	csv := writeCSV(t, dir, "orders.csv", []string{"order_id,amount", "1,10.00"})

	e := New(filepath.Join(dir, "tables"))
	_, err := e.Execute(fmt.Sprintf(`CREATE TABLE orders FROM FILE "%s" USING INDEX btree(order_id)`, csv))
	assert.NilError(t, err)

	_, err = e.Execute(`INSERT INTO orders VALUES (2, 20.00)`)
	assert.NilError(t, err)

	res, err := e.Execute(`SELECT * FROM orders WHERE order_id = 2`)
	assert.NilError(t, err)
	assert.Equal(t, res.Count, 1)

	_, err = e.Execute(`DELETE FROM orders WHERE order_id = 2`)
	assert.NilError(t, err)

	res, err = e.Execute(`SELECT * FROM orders WHERE order_id = 2`)
	assert.NilError(t, err)
	assert.Equal(t, res.Count, 0)
}

// TestSPIMIDeleteTombstonesTextIndex covers deleting a row out of a
// text-indexed table: the store tombstone and the SPIMI posting lists
// must both drop the row, not just the store.
func TestSPIMIDeleteTombstonesTextIndex(t *testing.T) {
	dir := t.TempDir()
	csv := writeCSV(t, dir, "docs.csv", []string{
		"id,body",
		"1,love and light",
		"2,light and shadow",
	})

	e := New(filepath.Join(dir, "tables"))
	_, err := e.Execute(fmt.Sprintf(`CREATE TABLE docs FROM FILE "%s" USING INDEX spimi(body)`, csv))
	assert.NilError(t, err)

	res, err := e.Execute(`SELECT * FROM docs WHERE body @@ "love"`)
	assert.NilError(t, err)
	assert.Equal(t, res.Count, 1)
	assert.Equal(t, res.Rows[0][0], "1")

	_, err = e.Execute(`DELETE FROM docs WHERE body = "love and light"`)
	assert.NilError(t, err)

	res, err = e.Execute(`SELECT * FROM docs WHERE body @@ "love"`)
	assert.NilError(t, err)
	assert.Equal(t, res.Count, 0)

	res, err = e.Execute(`SELECT * FROM docs WHERE body @@ "light"`)
	assert.NilError(t, err)
	assert.Equal(t, res.Count, 1)
	assert.Equal(t, res.Rows[0][0], "2")
}

// TestRTreeDeleteRemovesPoint covers deleting a row out of a
// spatially-indexed table: the R-tree entry must be removed too, or a
// later radius/kNN query would keep returning the tombstoned rid.
func TestRTreeDeleteRemovesPoint(t *testing.T) {
	dir := t.TempDir()
	csv := writeCSV(t, dir, "places.csv", []string{
		"name,lat,lon",
		"a,47.60,-122.33",
		"b,47.62,-122.30",
		"c,48.00,-121.00",
	})

	e := New(filepath.Join(dir, "tables"))
	_, err := e.Execute(fmt.Sprintf(`CREATE TABLE places FROM FILE "%s" USING INDEX rtree(lat, lon)`, csv))
	assert.NilError(t, err)

	res, err := e.Execute(`SELECT * FROM places WHERE lat IN ("47.61,-122.31", 5.0)`)
	assert.NilError(t, err)
	assert.Equal(t, res.Count, 2)

	_, err = e.Execute(`DELETE FROM places WHERE lat = 47.60`)
	assert.NilError(t, err)

	res, err = e.Execute(`SELECT * FROM places WHERE lat IN ("47.61,-122.31", 5.0)`)
	assert.NilError(t, err)
	assert.Equal(t, res.Count, 1)
	assert.Equal(t, res.Rows[0][0], "b")
}

func TestUnknownTableFails(t *testing.T) {
	dir := t.TempDir()
	e := New(dir)
	_, err := e.Execute(`SELECT * FROM ghost WHERE id = 1`)
	assert.Assert(t, err != nil)
	qerr, ok := err.(*types.QueryError)
	assert.Assert(t, ok)
	assert.Equal(t, qerr.Kind, types.ErrUnknownTable)
}
