package detectors

import (
	"regexp"
	"strings"

	"github.com/raaihank/phi-sentinel/internal/phi"
)

var (
	dashedPostal   = regexp.MustCompile(`[–\-]\s*\d{6}\b`)
	splitPostal    = regexp.MustCompile(`\b\d{3}\s*\d{3}\b`)
	longDigitRun   = regexp.MustCompile(`\d{7,}`)
	postalKeywords = []string{
		"road", "street", "hyderabad", "location", "delhi", "mumbai",
		"bangalore", "chennai", "guntur", "–", "-",
	}
)

const postalScore = 0.85

// PostalCodes finds six-digit Indian postal codes. A dash-prefixed code is
// always accepted; a bare 3+3 digit group needs a location keyword shortly
// before it or a delimiter right after it, and must not be part of a longer
// digit run.
func PostalCodes(text string) []phi.Candidate {
	var results []phi.Candidate

	for _, loc := range dashedPostal.FindAllStringIndex(text, -1) {
		start, end := loc[0], loc[1]
		if len(PhoneDigits(text[start:end])) != 6 {
			continue
		}
		results = append(results, candidate(phi.TypePostalCode, text, start, end, postalScore))
	}

	for _, loc := range splitPostal.FindAllStringIndex(text, -1) {
		start, end := loc[0], loc[1]
		if insideAny(results, start) {
			continue
		}

		before := window(text, start-30, start)
		after := window(text, end, end+10)
		digits := strings.Join(strings.Fields(text[start:end]), "")
		if longDigitRun.MatchString(before + digits + after) {
			continue
		}

		if containsAny(strings.ToLower(before), postalKeywords) || endsField(after) {
			results = append(results, candidate(phi.TypePostalCode, text, start, end, postalScore))
		}
	}

	return results
}

// endsField reports whether the text after a match starts with a field
// delimiter or is empty
func endsField(after string) bool {
	if after == "" {
		return true
	}
	switch after[0] {
	case ',', '.', ' ', '\n':
		return true
	}
	return false
}
