// Package fallback is the pattern-only redaction used when no candidate
// source is available for a page.
package fallback

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/raaihank/phi-sentinel/internal/phi"
	"github.com/raaihank/phi-sentinel/internal/redactor"
)

// Result is a page redacted with the basic patterns
type Result struct {
	Text     string
	Entities []phi.Entity
	Counts   map[phi.EntityType]int
	Redacted redactor.Result
}

// Redactor applies the enabled basic rules
type Redactor struct {
	rules    []Rule
	enabled  map[phi.EntityType]bool
	redactor *redactor.Redactor
	logger   *zap.Logger
}

// New creates a fallback redactor. rules names the enabled rule types; an
// empty list or "all" enables every rule.
func New(rules []string, log *zap.Logger) (*Redactor, error) {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Redactor{
		rules:    DefaultRules(),
		enabled:  make(map[phi.EntityType]bool),
		redactor: redactor.New(redactor.WithTokens(phi.BracketToken), redactor.WithLogger(log)),
		logger:   log,
	}

	if err := r.configureRules(rules); err != nil {
		return nil, fmt.Errorf("failed to configure fallback rules: %w", err)
	}

	log.Info("Fallback redactor initialized",
		zap.Int("total_rules", len(r.rules)),
		zap.Int("enabled_rules", len(r.EnabledRules())),
	)
	return r, nil
}

func (r *Redactor) configureRules(names []string) error {
	if len(names) == 0 {
		names = []string{"all"}
	}
	for _, name := range names {
		if name == "all" {
			for _, rule := range r.rules {
				r.enabled[rule.Type] = true
			}
			continue
		}

		found := false
		for _, rule := range r.rules {
			if rule.Type == phi.ParseEntityType(name) {
				r.enabled[rule.Type] = true
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("unknown rule: %s", name)
		}
	}
	return nil
}

// EnabledRules lists the enabled rule types in priority order
func (r *Redactor) EnabledRules() []phi.EntityType {
	var out []phi.EntityType
	for _, rule := range r.rules {
		if r.enabled[rule.Type] {
			out = append(out, rule.Type)
		}
	}
	return out
}

// Tokens is the placeholder format of fallback output
func (r *Redactor) Tokens() phi.TokenFunc {
	return r.redactor.Tokens()
}

// Detect finds pattern matches over the original text. Matches are taken
// rule by rule in priority order and never overlap.
func (r *Redactor) Detect(text string) []phi.Entity {
	var taken []phi.Span
	var out []phi.Entity

	for _, rule := range r.rules {
		if !r.enabled[rule.Type] {
			continue
		}
		var found []phi.Entity
		for _, loc := range rule.Pattern.FindAllStringIndex(text, -1) {
			s := phi.Span{Start: loc[0], End: loc[1]}
			if overlapsAny(s, taken) {
				continue
			}
			found = append(found, phi.Entity{
				EntityType: rule.Type,
				Text:       text[s.Start:s.End],
				Start:      s.Start,
				End:        s.End,
				Score:      Score,
			})
		}
		for _, e := range found {
			taken = append(taken, e.Span())
		}
		out = append(out, found...)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// Redact detects and replaces matches with [TYPE] placeholders
func (r *Redactor) Redact(text string) Result {
	entities := r.Detect(text)
	red := r.redactor.Redact(text, entities)

	res := Result{
		Text:     red.Text,
		Entities: red.Applied,
		Counts:   phi.CountByType(red.Applied),
		Redacted: red,
	}

	r.logger.Debug("Basic redaction applied",
		zap.Int("entities", len(res.Entities)),
		zap.Any("counts", res.Counts),
	)
	return res
}

func overlapsAny(s phi.Span, spans []phi.Span) bool {
	for _, t := range spans {
		if s.Overlaps(t) {
			return true
		}
	}
	return false
}
