// Package pipeline runs de-identification and re-identification for pages:
// candidate source, pattern detectors, resolver, redactor and metadata, with
// the basic regex path when the source fails.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/raaihank/phi-sentinel/internal/metadata"
	"github.com/raaihank/phi-sentinel/internal/phi"
	"github.com/raaihank/phi-sentinel/internal/resolver"
)

// ErrInvalidInput marks a request missing required page identifiers
var ErrInvalidInput = errors.New("invalid input")

// PageInput is one page of plain text to de-identify
type PageInput struct {
	DocID      string `json:"doc_id"`
	DocName    string `json:"doc_name"`
	PageNumber int    `json:"page_number"`
	InputFile  string `json:"input_file,omitempty"`
	Text       string `json:"text"`
	// RequestID is copied into events and logs
	RequestID string `json:"-"`
}

// PageResult is the de-identified page
type PageResult struct {
	AnonymizedText string                 `json:"anonymized_text"`
	Operators      map[string]string      `json:"operators"`
	Metadata       *metadata.Metadata     `json:"metadata"`
	Method         string                 `json:"method"`
	Counts         map[phi.EntityType]int `json:"counts"`
	Ambiguous      []phi.EntityType       `json:"ambiguous,omitempty"`
	Suppressed     int                    `json:"suppressed"`
	// FallbackReason is the source failure that routed the page to basic
	// redaction
	FallbackReason string          `json:"fallback_reason,omitempty"`
	CacheHit       bool            `json:"cache_hit,omitempty"`
	Stats          *resolver.Stats `json:"resolver_stats,omitempty"`
	Duration       time.Duration   `json:"-"`
}

// ReidInput is one anonymized page to reconstruct. Metadata is loaded from
// the metadata store when nil.
type ReidInput struct {
	DocID          string             `json:"doc_id"`
	PageNumber     int                `json:"page_number"`
	AnonymizedText string             `json:"anonymized_text"`
	Metadata       *metadata.Metadata `json:"metadata,omitempty"`
	RequestID      string             `json:"-"`
}

// ReidResult is the reconstructed page
type ReidResult struct {
	Text     string `json:"text"`
	Resolved int    `json:"resolved"`
	// Unresolved holds the entity IDs whose placeholder was not found
	Unresolved []string         `json:"unresolved"`
	Ambiguous  []phi.EntityType `json:"ambiguous,omitempty"`
	Complete   bool             `json:"complete"`
	// MapPages lists the pages now present in the document's map
	MapPages []int         `json:"map_pages,omitempty"`
	Duration time.Duration `json:"-"`
}

// CandidateCache remembers model candidates per page text
type CandidateCache interface {
	Get(ctx context.Context, model, text string) ([]phi.Candidate, bool)
	Set(ctx context.Context, model, text string, candidates []phi.Candidate) error
}

// MetadataStore persists page metadata
type MetadataStore interface {
	SaveMetadata(ctx context.Context, m *metadata.Metadata) error
	GetMetadata(ctx context.Context, docID string, page int) (*metadata.Metadata, error)
}
