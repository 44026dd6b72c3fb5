// Package detectors holds the hand-written pattern detectors that complement
// the NER model: postal codes, address numbers, ages, gender tokens and
// abbreviated doctor names.
package detectors

import (
	"fmt"
	"strings"

	"github.com/raaihank/phi-sentinel/internal/phi"
)

// Detector names accepted by New
const (
	PostalCode        = "postal_code"
	AddressNumber     = "address_number"
	Age               = "age"
	Gender            = "gender"
	AbbreviatedDoctor = "abbreviated_doctor"
)

// All lists every detector in the order their findings are appended
var All = []string{PostalCode, AddressNumber, Age, Gender, AbbreviatedDoctor}

// Set runs an enabled subset of the pattern detectors
type Set struct {
	enabled map[string]bool
}

// New creates a detector set. "all" enables every detector.
func New(names []string) (*Set, error) {
	s := &Set{enabled: make(map[string]bool)}
	for _, name := range names {
		if name == "all" {
			for _, n := range All {
				s.enabled[n] = true
			}
			continue
		}
		if !isKnown(name) {
			return nil, fmt.Errorf("unknown detector: %s", name)
		}
		s.enabled[name] = true
	}
	return s, nil
}

// Default enables every detector
func Default() *Set {
	s, _ := New([]string{"all"})
	return s
}

// Enabled returns the enabled detector names in run order
func (s *Set) Enabled() []string {
	var names []string
	for _, n := range All {
		if s.enabled[n] {
			names = append(names, n)
		}
	}
	return names
}

// Run appends pattern findings to the model's candidates. Model candidates
// keep their position at the front of the list.
func (s *Set) Run(text string, model []phi.Candidate) []phi.Candidate {
	out := make([]phi.Candidate, 0, len(model))
	out = append(out, model...)

	if s.enabled[PostalCode] {
		out = append(out, PostalCodes(text)...)
	}
	if s.enabled[AddressNumber] {
		out = append(out, AddressNumbers(text)...)
	}
	if s.enabled[Age] {
		out = append(out, Ages(text)...)
	}
	if s.enabled[Gender] {
		out = append(out, Genders(text)...)
	}
	if s.enabled[AbbreviatedDoctor] {
		var persons []phi.Candidate
		for _, c := range model {
			if phi.NormalizeLabel(c.EntityType) == phi.TypePerson {
				persons = append(persons, c)
			}
		}
		out = append(out, AbbreviatedDoctors(text, persons)...)
	}
	return out
}

func isKnown(name string) bool {
	for _, n := range All {
		if n == name {
			return true
		}
	}
	return false
}

func candidate(t phi.EntityType, text string, start, end int, score float64) phi.Candidate {
	return phi.Candidate{
		EntityType: string(t),
		Text:       text[start:end],
		Start:      start,
		End:        end,
		Score:      score,
	}
}

// window returns text[from:to] clamped to the text bounds
func window(text string, from, to int) string {
	from = max(from, 0)
	to = min(to, len(text))
	if from >= to {
		return ""
	}
	return text[from:to]
}

func insideAny(found []phi.Candidate, pos int) bool {
	for _, c := range found {
		if c.Start <= pos && pos < c.End {
			return true
		}
	}
	return false
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
