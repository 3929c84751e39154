// Package ingest implements the minimal CSV-backed supplier of the
// (headers, row_iterator) contract external ingestion sources fulfill.
// It exists so cmd/mdbql and the engine's tests have something concrete
// to feed `CREATE TABLE … FROM FILE` without pulling a real
// schema-inference service into the core.
package ingest

import (
	"encoding/csv"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/proximadb/proximadb/internal/types"
)

// Source is the row-iterator contract the engine's CREATE TABLE/CREATE
// MULTIMEDIA TABLE consumes.
type Source interface {
	Headers() []string
	// Next returns the next row, or ok=false once exhausted.
	Next() (row []string, ok bool, err error)
	Close() error
}

// CSVSource reads a delimited text file with a header row.
type CSVSource struct {
	f       *os.File
	r       *csv.Reader
	headers []string
}

func OpenCSV(path string) (*CSVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, types.WrapError(types.ErrIO, err, "open ingest source %s", path)
	}
	r := csv.NewReader(f)
	headers, err := r.Read()
	if err != nil {
		f.Close()
		return nil, types.WrapError(types.ErrIO, errors.Wrap(err, "read header row"), "open ingest source %s", path)
	}
	return &CSVSource{f: f, r: r, headers: headers}, nil
}

func (s *CSVSource) Headers() []string { return s.headers }

func (s *CSVSource) Next() ([]string, bool, error) {
	row, err := s.r.Read()
	if err == io.EOF {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, types.WrapError(types.ErrIO, err, "read row")
	}
	return row, true, nil
}

func (s *CSVSource) Close() error { return s.f.Close() }

// ReadAll drains a Source into memory. The engine needs every row
// upfront anyway to infer field widths and types (: "widths are
// inferred from the maximum observed encoded length plus a margin")
// and to feed ISAM/SPIMI's one-pass-over-sorted-input builders.
func ReadAll(src Source) ([]string, [][]string, error) {
	headers := src.Headers()
	var rows [][]string
	for {
		row, ok, err := src.Next()
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			break
		}
		rows = append(rows, row)
	}
	return headers, rows, nil
}
