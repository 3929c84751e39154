package engine

import (
	"math/rand"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/proximadb/proximadb/internal/index"
	"github.com/proximadb/proximadb/internal/index/btree"
	"github.com/proximadb/proximadb/internal/index/hash"
	"github.com/proximadb/proximadb/internal/index/isam"
	"github.com/proximadb/proximadb/internal/index/rtree"
	"github.com/proximadb/proximadb/internal/index/sequential"
	"github.com/proximadb/proximadb/internal/ingest"
	"github.com/proximadb/proximadb/internal/mm"
	"github.com/proximadb/proximadb/internal/record"
	"github.com/proximadb/proximadb/internal/text"
	"github.com/proximadb/proximadb/internal/types"
	"github.com/proximadb/proximadb/pkg"
)

const widthMargin = 8
const defaultLanguageProfile = "english"

// Extractor is the external collaborator for third-party feature
// extraction over images/audio: given an asset path it returns either
// local descriptors or one global vector.
// WITH METHOD m in CREATE MULTIMEDIA TABLE names one, registered with
// RegisterExtractor.
type Extractor interface {
	Identity() types.ExtractorIdentity
	Extract(path string) (mm.AssetDescriptors, error)
}

// Result is every statement's return shape: either this or an error
// carrying {kind, message}.
type Result struct {
	Columns []string
	Rows    [][]string
	Count   int
	Elapsed time.Duration
}

// Engine holds the process-wide table registry: a single guarded map,
// create/use/drop lifecycle, no singleton ambient access.
type Engine struct {
	baseDir string

	mu     sync.RWMutex
	tables pkg.Map[string, *Table]

	extMu      sync.RWMutex
	extractors pkg.Map[string, Extractor]

	rngMu sync.Mutex
	rng   *rand.Rand
}

func New(baseDir string) *Engine {
	return &Engine{
		baseDir:    baseDir,
		tables:     pkg.Map[string, *Table]{},
		extractors: pkg.Map[string, Extractor]{},
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (e *Engine) RegisterExtractor(method string, ext Extractor) {
	e.extMu.Lock()
	defer e.extMu.Unlock()
	e.extractors.Set(method, ext)
}

func (e *Engine) extractor(method string) (Extractor, bool) {
	e.extMu.RLock()
	defer e.extMu.RUnlock()
	ext := e.extractors.Get(method)
	return ext, ext != nil
}

func (e *Engine) lookupTable(name string) (*Table, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t := e.tables.Get(name)
	if t == nil {
		return nil, types.NewError(types.ErrUnknownTable, "unknown table %q", name)
	}
	return t, nil
}

func (e *Engine) registerTable(name string, t *Table) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tables.Set(name, t)
	pkg.InfoLog("registered table", name, "kind", t.meta.IndexKind)
}

// Execute parses sql and dispatches it.
func (e *Engine) Execute(sql string) (*Result, error) {
	start := time.Now()
	stmt, err := Parse(sql)
	if err != nil {
		return nil, err
	}

	var res *Result
	switch s := stmt.(type) {
	case *CreateTableStmt:
		err = e.execCreateTable(s)
	case *CreateMultimediaTableStmt:
		err = e.execCreateMultimediaTable(s)
	case *SelectStmt:
		res, err = e.execSelect(s)
	case *InsertStmt:
		err = e.execInsert(s)
	case *DeleteStmt:
		err = e.execDelete(s)
	default:
		err = types.NewError(types.ErrParse, "unsupported statement")
	}
	if err != nil {
		pkg.ErrorLog("execute failed:", sql, err)
		return nil, err
	}
	if res == nil {
		res = &Result{}
	}
	res.Elapsed = time.Since(start)
	return res, nil
}

func inferFieldType(values []string) types.FieldType {
	allInt, allFloat, sawAny := true, true, false
	for _, v := range values {
		if v == "" {
			continue
		}
		sawAny = true
		if _, err := strconv.ParseInt(v, 10, 64); err != nil {
			allInt = false
		}
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			allFloat = false
		}
	}
	switch {
	case !sawAny:
		return types.FieldTypeText
	case allInt:
		return types.FieldTypeInt
	case allFloat:
		return types.FieldTypeFloat
	default:
		return types.FieldTypeText
	}
}

func inferWidths(headers []string, rows [][]string) []int {
	widths := make([]int, len(headers))
	for _, row := range rows {
		for i := range headers {
			if i < len(row) && len(row[i]) > widths[i] {
				widths[i] = len(row[i])
			}
		}
	}
	for i := range widths {
		widths[i] += widthMargin
	}
	return widths
}

func columnValues(headers []string, rows [][]string, field string) []string {
	idx := -1
	for i, h := range headers {
		if h == field {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	out := make([]string, len(rows))
	for i, row := range rows {
		if idx < len(row) {
			out[i] = row[idx]
		}
	}
	return out
}

// execCreateTable implements `CREATE TABLE … FROM FILE … USING INDEX
// kind(fields…)`, building the store and the one primary index in a
// single pass over the ingested rows.
func (e *Engine) execCreateTable(s *CreateTableStmt) error {
	src, err := ingest.OpenCSV(s.FilePath)
	if err != nil {
		return err
	}
	defer src.Close()
	headers, rows, err := ingest.ReadAll(src)
	if err != nil {
		return err
	}

	for _, f := range s.Fields {
		if indexOf(headers, f) < 0 {
			return types.NewError(types.ErrUnknownField, "field %q not present in %q", f, s.FilePath)
		}
	}

	widths := inferWidths(headers, rows)
	fieldTypes := map[string]string{}
	for i, h := range headers {
		fieldTypes[h] = string(inferFieldType(columnValuesByIdx(rows, i)))
	}
	// rtree fields are always numeric coordinates regardless of how they
	// happen to format.
	if s.IndexKind == types.IndexKindRTree {
		for _, f := range s.Fields {
			fieldTypes[f] = string(types.FieldTypeFloat)
		}
	}

	dir := filepath.Join(e.baseDir, s.Table)
	store, err := record.Open(filepath.Join(dir, "records.dat"), widths)
	if err != nil {
		return err
	}

	t := &Table{
		dir:   dir,
		store: store,
		meta: Meta{
			Table:      s.Table,
			Headers:    headers,
			FieldTypes: fieldTypes,
			Widths:     widthsMap(headers, widths),
			IndexKind:  s.IndexKind,
			IndexField: s.Fields[0],
		},
	}

	keyField := s.Fields[0]
	keyFieldIdx := indexOf(headers, keyField)
	numeric := fieldTypes[keyField] == string(types.FieldTypeInt) || fieldTypes[keyField] == string(types.FieldTypeFloat)

	switch s.IndexKind {
	case types.IndexKindSequential:
		t.seq = sequential.New(dir, false)
		if err := appendAndInsert(store, rows, keyFieldIdx, numeric, t.seq.Insert); err != nil {
			return err
		}
	case types.IndexKindISAM:
		t.isam = isam.New(dir, false)
		entries := make([]index.Entry, 0, len(rows))
		for _, row := range rows {
			rid, err := store.Append(row)
			if err != nil {
				return err
			}
			entries = append(entries, index.Entry{Key: index.ParseKey(row[keyFieldIdx], numeric), Rid: rid})
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Key.Less(entries[j].Key) })
		if err := t.isam.Build(entries); err != nil {
			return err
		}
	case types.IndexKindHash:
		t.hash = hash.New(dir, false)
		if err := appendAndInsert(store, rows, keyFieldIdx, numeric, t.hash.Insert); err != nil {
			return err
		}
	case types.IndexKindBTree:
		t.btree = btree.New(dir, false)
		if err := appendAndInsert(store, rows, keyFieldIdx, numeric, t.btree.Insert); err != nil {
			return err
		}
	case types.IndexKindRTree:
		if len(s.Fields) != 2 {
			return types.NewError(types.ErrBuild, "rtree index requires exactly 2 fields (lat, lon)")
		}
		t.rtree = rtree.New(dir, true)
		lonIdx := indexOf(headers, s.Fields[1])
		for _, row := range rows {
			rid, err := store.Append(row)
			if err != nil {
				return err
			}
			lat, errLat := strconv.ParseFloat(row[keyFieldIdx], 64)
			lon, errLon := strconv.ParseFloat(row[lonIdx], 64)
			if errLat != nil || errLon != nil {
				return types.NewError(types.ErrBuild, "non-numeric coordinate in row for table %q", s.Table)
			}
			if err := t.rtree.InsertPoint(index.Point{lat, lon}, rid); err != nil {
				return err
			}
		}
		t.meta.IndexField = s.Fields[0] + "," + s.Fields[1]
	case types.IndexKindSPIMI:
		t.spimi = text.New(dir, defaultLanguageProfile, s.Fields)
		var docs []text.Doc
		for _, row := range rows {
			rid, err := store.Append(row)
			if err != nil {
				return err
			}
			fields := map[string]string{}
			for _, f := range s.Fields {
				fields[f] = row[indexOf(headers, f)]
			}
			docs = append(docs, text.Doc{DocID: rid, Fields: fields})
		}
		if err := t.spimi.Build(docs); err != nil {
			return err
		}
		t.meta.TextFields = s.Fields
		t.meta.LanguageProfile = defaultLanguageProfile
	default:
		return types.NewError(types.ErrParse, "unsupported index kind %q", s.IndexKind)
	}

	if err := writeMeta(dir, t.meta); err != nil {
		return err
	}
	e.registerTable(s.Table, t)
	return nil
}

func columnValuesByIdx(rows [][]string, idx int) []string {
	out := make([]string, len(rows))
	for i, row := range rows {
		if idx < len(row) {
			out[i] = row[idx]
		}
	}
	return out
}

func widthsMap(headers []string, widths []int) map[string]int {
	m := make(map[string]int, len(headers))
	for i, h := range headers {
		m[h] = widths[i]
	}
	return m
}

func indexOf(headers []string, field string) int {
	for i, h := range headers {
		if h == field {
			return i
		}
	}
	return -1
}

func appendAndInsert(store *record.Store, rows [][]string, keyFieldIdx int, numeric bool, insert func(index.Key, int64) error) error {
	for _, row := range rows {
		rid, err := store.Append(row)
		if err != nil {
			return err
		}
		if err := insert(index.ParseKey(row[keyFieldIdx], numeric), rid); err != nil {
			return err
		}
	}
	return nil
}

// execCreateMultimediaTable implements `CREATE MULTIMEDIA TABLE … USING
// {image|audio} WITH METHOD m CLUSTERS k`: the FROM FILE manifest is a
// CSV whose "path" column names each asset file.
func (e *Engine) execCreateMultimediaTable(s *CreateMultimediaTableStmt) error {
	ext, ok := e.extractor(s.Method)
	if !ok {
		return types.NewError(types.ErrBuild, "no extractor registered for method %q", s.Method)
	}

	src, err := ingest.OpenCSV(s.FilePath)
	if err != nil {
		return err
	}
	defer src.Close()
	headers, rows, err := ingest.ReadAll(src)
	if err != nil {
		return err
	}
	pathIdx := indexOf(headers, "path")
	if pathIdx < 0 {
		return types.NewError(types.ErrUnknownField, "multimedia manifest %q has no \"path\" column", s.FilePath)
	}

	dir := filepath.Join(e.baseDir, s.Table)
	widths := inferWidths(headers, rows)
	store, err := record.Open(filepath.Join(dir, "records.dat"), widths)
	if err != nil {
		return err
	}

	var assets []mm.AssetDescriptors
	for _, row := range rows {
		rid, err := store.Append(row)
		if err != nil {
			return err
		}
		desc, err := ext.Extract(row[pathIdx])
		if err != nil {
			return types.WrapError(types.ErrBuild, err, "extract descriptors for %q", row[pathIdx])
		}
		desc.AssetID = rid
		assets = append(assets, desc)
	}

	media := mm.New(dir, s.Clusters, ext.Identity())
	if err := media.Build(assets, 0); err != nil {
		return err
	}

	t := &Table{
		dir:   dir,
		store: store,
		media: media,
		meta: Meta{
			Table:      s.Table,
			Headers:    headers,
			FieldTypes: map[string]string{},
			Widths:     widthsMap(headers, widths),
			Multimedia: true,
			MediaKind:  s.Media,
			PathField:  "path",
			Clusters:   s.Clusters,
			Method:     s.Method,
			Extractor:  ext.Identity(),
		},
	}
	if err := writeMeta(dir, t.meta); err != nil {
		return err
	}
	e.registerTable(s.Table, t)
	return nil
}
