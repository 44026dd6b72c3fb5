// Package redactor replaces resolved PHI spans with type-name placeholders.
package redactor

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/raaihank/phi-sentinel/internal/phi"
)

// DefaultOperator is the operator key used for entities without a usable type
const DefaultOperator = "DEFAULT"

// DefaultToken replaces entities that have no type name
const DefaultToken = "ENTITY"

// Result is the anonymized text plus what was replaced
type Result struct {
	// Text is the anonymized text
	Text string `json:"anonymized_text"`
	// Operators maps each replaced entity type, plus DEFAULT, to its token
	Operators map[string]string `json:"operators"`
	// Applied are the replaced entities in their input order
	Applied []phi.Entity `json:"-"`
	// Suppressed entities overlapped a longer or stronger span of another type
	Suppressed []phi.Entity `json:"-"`
	// Ambiguous types cannot be reversed reliably from Text
	Ambiguous []phi.EntityType `json:"ambiguous,omitempty"`
}

// Redactor writes placeholder tokens over entity spans
type Redactor struct {
	defaultToken string
	tokens       phi.TokenFunc
	logger       *zap.Logger
}

// Option configures a Redactor
type Option func(*Redactor)

// WithDefaultToken overrides the ENTITY fallback token
func WithDefaultToken(token string) Option {
	return func(r *Redactor) {
		if token != "" {
			r.defaultToken = token
		}
	}
}

// WithTokens sets how type names become placeholders
func WithTokens(tok phi.TokenFunc) Option {
	return func(r *Redactor) {
		r.tokens = tok
	}
}

// WithLogger attaches a logger
func WithLogger(log *zap.Logger) Option {
	return func(r *Redactor) {
		if log != nil {
			r.logger = log
		}
	}
}

// New creates a redactor
func New(opts ...Option) *Redactor {
	r := &Redactor{defaultToken: DefaultToken, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	r.tokens = r.tokens.OrDefault()
	return r
}

// Tokens returns the placeholder format in use
func (r *Redactor) Tokens() phi.TokenFunc {
	return r.tokens
}

// Redact replaces every entity span in text with its type token. Entities
// of different types may overlap after resolution; the longest span wins,
// then the higher score, then the earlier entity. Offsets in the returned
// entities are always offsets into the original text.
func (r *Redactor) Redact(text string, entities []phi.Entity) Result {
	applied, suppressed := selectSpans(text, entities)

	ordered := make([]phi.Entity, len(applied))
	copy(ordered, applied)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Start < ordered[j].Start
	})

	operators := map[string]string{DefaultOperator: r.defaultToken}
	var sb strings.Builder
	sb.Grow(len(text))
	cursor := 0
	for _, e := range ordered {
		token := r.token(e.EntityType)
		if e.EntityType != "" {
			operators[string(e.EntityType)] = token
		}
		sb.WriteString(text[cursor:e.Start])
		sb.WriteString(token)
		cursor = e.End
	}
	sb.WriteString(text[cursor:])

	res := Result{
		Text:       sb.String(),
		Operators:  operators,
		Applied:    applied,
		Suppressed: suppressed,
	}
	res.Ambiguous = phi.AmbiguousTypes(res.Text, applied, r.tokens)

	r.logger.Debug("Text redacted",
		zap.Int("applied", len(applied)),
		zap.Int("suppressed", len(suppressed)),
		zap.Int("ambiguous_types", len(res.Ambiguous)),
	)
	return res
}

func (r *Redactor) token(t phi.EntityType) string {
	if t == "" {
		return r.defaultToken
	}
	return r.tokens(t)
}

// selectSpans picks a non-overlapping subset of entities. The returned
// applied slice keeps the input order and carries the exact source text of
// each span.
func selectSpans(text string, entities []phi.Entity) (applied, suppressed []phi.Entity) {
	idx := make([]int, 0, len(entities))
	for i, e := range entities {
		if e.Start < 0 || e.End <= e.Start || e.End > len(text) {
			suppressed = append(suppressed, e)
			continue
		}
		idx = append(idx, i)
	}

	sort.SliceStable(idx, func(a, b int) bool {
		ea, eb := entities[idx[a]], entities[idx[b]]
		if ea.Len() != eb.Len() {
			return ea.Len() > eb.Len()
		}
		if ea.Score != eb.Score {
			return ea.Score > eb.Score
		}
		return idx[a] < idx[b]
	})

	keep := make([]bool, len(entities))
	var taken []phi.Span
	for _, i := range idx {
		s := entities[i].Span()
		clash := false
		for _, t := range taken {
			if s.Overlaps(t) {
				clash = true
				break
			}
		}
		if clash {
			suppressed = append(suppressed, entities[i])
			continue
		}
		taken = append(taken, s)
		keep[i] = true
	}

	applied = make([]phi.Entity, 0, len(idx))
	for i, e := range entities {
		if keep[i] {
			e.Text = text[e.Start:e.End]
			applied = append(applied, e)
		}
	}
	return applied, suppressed
}
