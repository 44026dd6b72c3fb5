// Package metadata assigns entity IDs and builds the per-page redaction
// metadata document that re-identification reads back.
package metadata

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/raaihank/phi-sentinel/internal/phi"
)

// Redaction methods recorded in the metadata
const (
	MethodEnsemble = "ensemble"
	MethodFallback = "regex_basic_redaction"
)

// Metadata describes how one page was redacted. It is written once and never
// modified afterwards.
type Metadata struct {
	InputFile             string               `json:"input_file,omitempty"`
	DocName               string               `json:"doc_name"`
	DocID                 string               `json:"doc_id"`
	PageNumber            int                  `json:"page_number"`
	Timestamp             time.Time            `json:"timestamp"`
	Method                string               `json:"method,omitempty"`
	Models                []string             `json:"models"`
	TotalEntitiesRedacted int                  `json:"total_entities_redacted"`
	Entities              []phi.Entity         `json:"entities"`
	Pages                 map[string]PageEntry `json:"pages"`
}

// PageEntry is the page-scoped, type-grouped view of the entities
type PageEntry struct {
	EntitiesByType map[phi.EntityType][]phi.Entity `json:"entities_by_type"`
}

// Page identifies the page being described
type Page struct {
	DocID      string
	DocName    string
	PageNumber int
	InputFile  string
}

// EntityID formats the stable identifier for the n-th entity of a type on a page
func EntityID(page int, t phi.EntityType, n int) string {
	return fmt.Sprintf("page_%d_%s_%d", page, t, n)
}

// AssignIDs numbers entities per type in list order, starting at 1. The
// input is not modified.
func AssignIDs(page int, entities []phi.Entity) []phi.Entity {
	counters := make(map[phi.EntityType]int)
	out := make([]phi.Entity, len(entities))
	for i, e := range entities {
		counters[e.EntityType]++
		e.EntityID = EntityID(page, e.EntityType, counters[e.EntityType])
		out[i] = e
	}
	return out
}

// GroupByType buckets entities by type, keeping list order within each bucket
func GroupByType(entities []phi.Entity) map[phi.EntityType][]phi.Entity {
	groups := make(map[phi.EntityType][]phi.Entity)
	for _, e := range entities {
		groups[e.EntityType] = append(groups[e.EntityType], e)
	}
	return groups
}

// Builder stamps metadata documents
type Builder struct {
	Models []string
	Now    func() time.Time
}

// Build assigns entity IDs and assembles the metadata for one page. The
// entities must be in final resolver order.
func (b Builder) Build(page Page, method string, entities []phi.Entity) *Metadata {
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	models := b.Models
	if models == nil {
		models = []string{}
	}

	withIDs := AssignIDs(page.PageNumber, entities)
	return &Metadata{
		InputFile:             page.InputFile,
		DocName:               page.DocName,
		DocID:                 page.DocID,
		PageNumber:            page.PageNumber,
		Timestamp:             now().UTC(),
		Method:                method,
		Models:                models,
		TotalEntitiesRedacted: len(withIDs),
		Entities:              withIDs,
		Pages: map[string]PageEntry{
			strconv.Itoa(page.PageNumber): {EntitiesByType: GroupByType(withIDs)},
		},
	}
}

// PageEntities returns the entities recorded for page, preferring the
// page-scoped view and falling back to the flat list. Types are visited in
// name order so the result is deterministic.
func (m *Metadata) PageEntities(page int) []phi.Entity {
	if entry, ok := m.Pages[strconv.Itoa(page)]; ok && len(entry.EntitiesByType) > 0 {
		typeNames := make([]phi.EntityType, 0, len(entry.EntitiesByType))
		for t := range entry.EntitiesByType {
			typeNames = append(typeNames, t)
		}
		sort.Slice(typeNames, func(i, j int) bool { return typeNames[i] < typeNames[j] })

		var out []phi.Entity
		for _, t := range typeNames {
			for _, e := range entry.EntitiesByType[t] {
				if e.EntityType == "" {
					e.EntityType = t
				}
				out = append(out, e)
			}
		}
		return out
	}

	out := make([]phi.Entity, len(m.Entities))
	copy(out, m.Entities)
	return out
}

// CountsByType summarizes the page's entities without exposing their text
func (m *Metadata) CountsByType() map[phi.EntityType]int {
	return phi.CountByType(m.Entities)
}
