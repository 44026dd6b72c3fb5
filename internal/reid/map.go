package reid

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/raaihank/phi-sentinel/internal/phi"
)

// ErrMapNotFound is returned when no map exists for a document
var ErrMapNotFound = errors.New("re-identification map not found")

// Replacement records one placeholder and the text it stands for
type Replacement struct {
	OrderIndex       int            `json:"order_index"`
	EntityType       phi.EntityType `json:"entity_type"`
	OriginalText     string         `json:"original_text"`
	ReplacementToken string         `json:"replacement_token"`
	Start            int            `json:"start"`
	End              int            `json:"end"`
	EntityID         string         `json:"entity_id,omitempty"`
}

// PageMap holds a page's replacements in original offset order
type PageMap struct {
	Replacements []Replacement `json:"replacements"`
}

// Map is the document-level re-identification map, keyed by page number
type Map struct {
	DocName string             `json:"doc_name"`
	DocID   string             `json:"doc_id"`
	Pages   map[string]PageMap `json:"pages"`
}

// MapStore persists re-identification maps. MergePage must leave other pages
// of the same document untouched.
type MapStore interface {
	MergePage(ctx context.Context, docID, docName string, page int, pm PageMap) (*Map, error)
	Load(ctx context.Context, docID string) (*Map, error)
}

// BuildPage lists the entities as replacements in (start, end) order
func BuildPage(entities []phi.Entity) PageMap {
	return BuildPageWith(entities, nil)
}

// BuildPageWith records the placeholders produced by tok
func BuildPageWith(entities []phi.Entity, tok phi.TokenFunc) PageMap {
	tok = tok.OrDefault()
	sorted := SortByOffset(entities)
	pm := PageMap{Replacements: make([]Replacement, len(sorted))}
	for i, e := range sorted {
		pm.Replacements[i] = Replacement{
			OrderIndex:       i,
			EntityType:       e.EntityType,
			OriginalText:     e.Text,
			ReplacementToken: tok(e.EntityType),
			Start:            e.Start,
			End:              e.End,
			EntityID:         e.EntityID,
		}
	}
	return pm
}

// Entities converts replacements back into entity records
func (pm PageMap) Entities() []phi.Entity {
	out := make([]phi.Entity, len(pm.Replacements))
	for i, r := range pm.Replacements {
		out[i] = phi.Entity{
			EntityType: r.EntityType,
			Text:       r.OriginalText,
			Start:      r.Start,
			End:        r.End,
			EntityID:   r.EntityID,
		}
	}
	return out
}

// MergePage folds a page into existing. A nil existing map, or one for a
// different document, is replaced by a fresh map holding only this page.
// existing is not modified.
func MergePage(existing *Map, docID, docName string, page int, pm PageMap) *Map {
	merged := &Map{DocName: docName, DocID: docID, Pages: make(map[string]PageMap)}
	if existing != nil && existing.DocID == docID {
		if merged.DocName == "" {
			merged.DocName = existing.DocName
		}
		for k, v := range existing.Pages {
			merged.Pages[k] = v
		}
	}
	merged.Pages[strconv.Itoa(page)] = pm
	return merged
}

// PageNumbers lists the pages in the map in ascending order
func (m *Map) PageNumbers() []int {
	var pages []int
	for k := range m.Pages {
		if n, err := strconv.Atoi(k); err == nil {
			pages = append(pages, n)
		}
	}
	sort.Ints(pages)
	return pages
}

//go:embed map_schema.json
var mapSchemaJSON []byte

var mapSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("reid_map.json", bytes.NewReader(mapSchemaJSON)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	return compiler.Compile("reid_map.json")
})

// DecodeMap validates and parses a stored map
func DecodeMap(data []byte) (*Map, error) {
	schema, err := mapSchema()
	if err != nil {
		return nil, fmt.Errorf("compile map schema: %w", err)
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", phi.ErrInvalidMetadata, err)
	}
	if err := schema.Validate(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", phi.ErrInvalidMetadata, err)
	}

	var m Map
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", phi.ErrInvalidMetadata, err)
	}
	if m.Pages == nil {
		m.Pages = make(map[string]PageMap)
	}
	return &m, nil
}

// EncodeMap renders a map as indented JSON
func EncodeMap(m *Map) ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}
