package metadata

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/raaihank/phi-sentinel/internal/phi"
)

//go:embed schema.json
var schemaJSON []byte

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("metadata.json", bytes.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	return compiler.Compile("metadata.json")
})

// Encode renders metadata as indented JSON
func Encode(m *Metadata) ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return data, nil
}

// Decode validates data against the metadata schema and parses it. Every
// failure wraps phi.ErrInvalidMetadata.
func Decode(data []byte) (*Metadata, error) {
	schema, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("compile metadata schema: %w", err)
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", phi.ErrInvalidMetadata, err)
	}
	if err := schema.Validate(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", phi.ErrInvalidMetadata, err)
	}

	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", phi.ErrInvalidMetadata, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks invariants the schema cannot express
func (m *Metadata) Validate() error {
	check := func(where string, e phi.Entity) error {
		if e.End <= e.Start {
			return fmt.Errorf("%w: %s entity %s has an empty span", phi.ErrInvalidMetadata, where, e)
		}
		if len(e.Text) == 0 {
			return fmt.Errorf("%w: %s entity %s has no text", phi.ErrInvalidMetadata, where, e)
		}
		return nil
	}

	for _, e := range m.Entities {
		if err := check("flat", e); err != nil {
			return err
		}
	}
	for key, entry := range m.Pages {
		if _, err := strconv.Atoi(key); err != nil {
			return fmt.Errorf("%w: page key %q is not a number", phi.ErrInvalidMetadata, key)
		}
		for _, group := range entry.EntitiesByType {
			for _, e := range group {
				if err := check("page "+key, e); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
