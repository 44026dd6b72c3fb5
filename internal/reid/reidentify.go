// Package reid reconstructs original page text from anonymized text and the
// recorded entities, and keeps the document-level re-identification map.
package reid

import (
	"sort"
	"strings"

	"github.com/raaihank/phi-sentinel/internal/phi"
)

// Report is the outcome of re-identifying one page
type Report struct {
	// Text is the reconstructed text
	Text string
	// Resolved counts entities spliced back in
	Resolved int
	// Unresolved lists entities whose placeholder was not found
	Unresolved []phi.Entity
	// Ambiguous lists types whose placeholders may have been matched to the
	// wrong occurrence
	Ambiguous []phi.EntityType
}

// Complete reports whether every entity was spliced back
func (r Report) Complete() bool {
	return len(r.Unresolved) == 0
}

// SortByOffset orders entities by (start, end), keeping the relative order
// of ties. The input is not modified.
func SortByOffset(entities []phi.Entity) []phi.Entity {
	sorted := make([]phi.Entity, len(entities))
	copy(sorted, entities)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].End < sorted[j].End
	})
	return sorted
}

// Reidentify walks entities in original offset order and replaces the next
// occurrence of each entity's type token with its original text. One search
// cursor per type moves past every splice, so identical placeholders of the
// same type are restored left to right.
//
// The walk only sees tokens, not their positions. If an original text or
// surrounding text contains another type's token literally, that token can
// be consumed by the wrong entity; such types are listed in Ambiguous.
func Reidentify(anonymized string, entities []phi.Entity) Report {
	return ReidentifyWith(anonymized, entities, nil)
}

// ReidentifyWith reverses text whose placeholders were written by tok
func ReidentifyWith(anonymized string, entities []phi.Entity, tok phi.TokenFunc) Report {
	tok = tok.OrDefault()
	report := Report{
		Text:      anonymized,
		Ambiguous: phi.AmbiguousTypes(anonymized, entities, tok),
	}
	if len(entities) == 0 {
		return report
	}

	text := anonymized
	cursors := make(map[phi.EntityType]int)
	for _, e := range SortByOffset(entities) {
		token := tok(e.EntityType)
		if token == "" {
			report.Unresolved = append(report.Unresolved, e)
			continue
		}

		from := min(cursors[e.EntityType], len(text))
		rel := strings.Index(text[from:], token)
		if rel < 0 {
			report.Unresolved = append(report.Unresolved, e)
			continue
		}

		idx := from + rel
		text = text[:idx] + e.Text + text[idx+len(token):]
		cursors[e.EntityType] = idx + len(e.Text)
		report.Resolved++
	}

	report.Text = text
	return report
}
