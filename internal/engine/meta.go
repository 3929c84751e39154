package engine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/proximadb/proximadb/internal/types"
)

// Meta is the persisted `meta.json` contract of : schema, field
// widths, index kind, index field, language profile, k, extractor id.
type Meta struct {
	Table           string            `json:"table"`
	Headers         []string          `json:"headers"`
	FieldTypes      map[string]string `json:"field_types"`
	Widths          map[string]int    `json:"widths"`
	IndexKind       types.IndexKind   `json:"index_kind"`
	IndexField      string            `json:"index_field"`
	TextFields      []string          `json:"text_fields,omitempty"`
	LanguageProfile string            `json:"language_profile,omitempty"`
	Multimedia      bool              `json:"multimedia"`
	MediaKind       types.MediaKind   `json:"media_kind,omitempty"`
	PathField       string            `json:"path_field,omitempty"`
	Clusters        int               `json:"clusters,omitempty"`
	Method          string            `json:"method,omitempty"`
	Extractor       types.ExtractorIdentity `json:"extractor,omitempty"`
}

func metaPath(dir string) string { return filepath.Join(dir, "meta.json") }

func writeMeta(dir string, m Meta) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return types.WrapError(types.ErrIO, err, "mkdir table dir")
	}
	buf, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return types.WrapError(types.ErrBuild, err, "marshal meta.json")
	}
	if err := os.WriteFile(metaPath(dir), buf, 0644); err != nil {
		return types.WrapError(types.ErrIO, err, "write meta.json")
	}
	return nil
}

func readMeta(dir string) (Meta, error) {
	var m Meta
	buf, err := os.ReadFile(metaPath(dir))
	if err != nil {
		return m, types.WrapError(types.ErrIO, err, "read meta.json")
	}
	if err := json.Unmarshal(buf, &m); err != nil {
		return m, types.WrapError(types.ErrBuild, err, "unmarshal meta.json")
	}
	return m, nil
}

// tableLock is pkg.HasLocker's lone field, split out so Table can embed
// it without exposing the mutex itself to callers outside this package.
type tableLock struct {
	mu sync.RWMutex
}

func (l *tableLock) GetLocker() *sync.RWMutex { return &l.mu }
