package detectors

import (
	"regexp"
	"strconv"

	"github.com/raaihank/phi-sentinel/internal/phi"
)

var (
	agePattern = regexp.MustCompile(`(?i)\bAge\s*(?:/\s*Sex)?\s*:?\s*(\d{1,3})\s*(?:YRS|years?|Y|M|Male|Female|/[MF])?`)

	genderLabelled = regexp.MustCompile(`(?i)\b(?:Sex|Gender)\s*:?\s*(Male|Female|M|F)\b`)
	genderAfterAge = regexp.MustCompile(`(?i)\bAge\s*(?:/\s*Sex)?\s*:?\s*\d{1,3}\s*(?:Years?|YRS)?\s*/\s*(Male|Female|M|F)\b`)
	genderSpaced   = regexp.MustCompile(`(?i)\bAge\s*:?\s*\d{1,3}\s+(Male|Female|M|F)\b`)
	genderSlashed  = regexp.MustCompile(`(?i)\b/\s*(M|F)\b`)
	genderContext  = regexp.MustCompile(`(?i)\bAge|Sex|Patient|/\s*\d{1,3}\s*Years?\b`)
)

const maxAge = 120

// Ages finds age values after an "Age" or "Age/Sex" label. Only the number is
// reported so the label survives redaction.
func Ages(text string) []phi.Candidate {
	var results []phi.Candidate
	for _, m := range agePattern.FindAllStringSubmatchIndex(text, -1) {
		start, end := m[2], m[3]
		age, err := strconv.Atoi(text[start:end])
		if err != nil || age > maxAge {
			continue
		}
		results = append(results, candidate(phi.TypeAge, text, start, end, 0.90))
	}
	return results
}

// Genders finds sex/gender values in labelled and "Age/Sex" layouts. Later,
// weaker layouts skip values an earlier layout already captured.
func Genders(text string) []phi.Candidate {
	var results []phi.Candidate

	for _, pattern := range []*regexp.Regexp{genderLabelled, genderAfterAge} {
		for _, m := range pattern.FindAllStringSubmatchIndex(text, -1) {
			results = append(results, candidate(phi.TypeGender, text, m[2], m[3], 0.90))
		}
	}

	for _, m := range genderSpaced.FindAllStringSubmatchIndex(text, -1) {
		if insideAny(results, m[2]) {
			continue
		}
		results = append(results, candidate(phi.TypeGender, text, m[2], m[3], 0.85))
	}

	for _, m := range genderSlashed.FindAllStringSubmatchIndex(text, -1) {
		if !genderContext.MatchString(window(text, m[0]-50, m[1])) {
			continue
		}
		if insideAny(results, m[2]) {
			continue
		}
		results = append(results, candidate(phi.TypeGender, text, m[2], m[3], 0.80))
	}

	return results
}
