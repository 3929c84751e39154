// Package types holds the small enums and error value shared across the
// storage, index and engine layers.
package types

import "fmt"

// FieldType is the declared type of a table field, recovered at ingestion.
type FieldType string

const (
	FieldTypeText  FieldType = "text"
	FieldTypeInt   FieldType = "int"
	FieldTypeFloat FieldType = "float"
)

var validFieldTypes = []FieldType{FieldTypeText, FieldTypeInt, FieldTypeFloat}

func (t FieldType) IsValid() bool {
	for _, v := range validFieldTypes {
		if v == t {
			return true
		}
	}
	return false
}

// IndexKind is one of the SQL dialect's USING INDEX kinds.
type IndexKind string

const (
	IndexKindSequential IndexKind = "sequential"
	IndexKindISAM       IndexKind = "isam"
	IndexKindHash       IndexKind = "hash"
	IndexKindBTree      IndexKind = "btree"
	IndexKindRTree      IndexKind = "rtree"
	IndexKindSPIMI      IndexKind = "spimi"
)

func (k IndexKind) IsValid() bool {
	switch k {
	case IndexKindSequential, IndexKindISAM, IndexKindHash, IndexKindBTree, IndexKindRTree, IndexKindSPIMI:
		return true
	}
	return false
}

// MediaKind distinguishes a multimedia table's asset modality.
type MediaKind string

const (
	MediaKindImage MediaKind = "image"
	MediaKindAudio MediaKind = "audio"
)

// ExtractorIdentity is the (name, version, params) triple a multimedia
// table is bound to. A query whose descriptor was produced by a
// different identity is rejected.
type ExtractorIdentity struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Params  string `json:"params"`
}

func (e ExtractorIdentity) Equal(o ExtractorIdentity) bool {
	return e.Name == o.Name && e.Version == o.Version && e.Params == o.Params
}

func (e ExtractorIdentity) String() string {
	return fmt.Sprintf("%s@%s(%s)", e.Name, e.Version, e.Params)
}
