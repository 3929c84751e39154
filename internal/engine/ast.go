package engine

import "github.com/proximadb/proximadb/internal/types"

// Statement is the parsed form of one SQL line.
type Statement interface {
	stmtNode()
}

type CreateTableStmt struct {
	Table     string
	FilePath  string
	IndexKind types.IndexKind
	Fields    []string
}

func (*CreateTableStmt) stmtNode() {}

type CreateMultimediaTableStmt struct {
	Table    string
	FilePath string
	Media    types.MediaKind
	Method   string
	Clusters int
}

func (*CreateMultimediaTableStmt) stmtNode() {}

// Predicate is one WHERE clause, covering the dialect's five
// predicate kinds.
type Predicate struct {
	Field string

	// Eq predicate: f = v
	HasEq bool
	Eq    string

	// Between predicate: f BETWEEN a AND b
	HasBetween bool
	Lo, Hi     string

	// In predicate: f IN ("lat,lon", r); radius if r is float, kNN if int
	HasIn  bool
	Coords string
	IsKNN  bool
	K      int
	Radius float64

	// Text predicate: f @@ "query"
	HasText bool
	Query   string

	// Multimedia predicate: f <-> "path" [METHOD {inverted|sequential}]
	HasSimilarity bool
	AssetPath     string
	Method        string
}

func (p *Predicate) isZero() bool {
	return p.Field == "" && !p.HasEq && !p.HasBetween && !p.HasIn && !p.HasText && !p.HasSimilarity
}

type SelectStmt struct {
	Table     string
	Fields    []string // nil/empty means "*"
	Predicate Predicate
	Limit     int
}

func (*SelectStmt) stmtNode() {}

type InsertStmt struct {
	Table        string
	Values       []string
	GenerateData int // > 0 means GENERATE_DATA(n) instead of VALUES
}

func (*InsertStmt) stmtNode() {}

type DeleteStmt struct {
	Table     string
	Predicate Predicate
}

func (*DeleteStmt) stmtNode() {}
