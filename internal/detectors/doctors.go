package detectors

import (
	"regexp"
	"sort"
	"strings"

	"github.com/raaihank/phi-sentinel/internal/phi"
)

var nameSplitter = regexp.MustCompile(`[.\s]+`)

// AbbreviatedDoctors finds "Dr. K. Surname" mentions for surnames of persons
// the model already found, skipping mentions that start inside one of them.
func AbbreviatedDoctors(text string, persons []phi.Candidate) []phi.Candidate {
	seen := make(map[string]bool)
	var surnames []string
	for _, p := range persons {
		parts := nameSplitter.Split(strings.TrimSpace(p.Text), -1)
		if len(parts) < 2 {
			continue
		}
		last := parts[len(parts)-1]
		if len(last) <= 2 || seen[last] {
			continue
		}
		seen[last] = true
		surnames = append(surnames, last)
	}
	sort.Strings(surnames)

	var results []phi.Candidate
	for _, surname := range surnames {
		pattern, err := regexp.Compile(`(?i)\bDr\.\s+[A-Z]\.\s+` + regexp.QuoteMeta(surname) + `\b`)
		if err != nil {
			continue
		}
		for _, loc := range pattern.FindAllStringIndex(text, -1) {
			if insideAny(persons, loc[0]) {
				continue
			}
			results = append(results, candidate(phi.TypePerson, text, loc[0], loc[1], 0.85))
		}
	}
	return results
}
