package detectors

import (
	"regexp"
	"strings"

	"github.com/raaihank/phi-sentinel/internal/phi"
)

var (
	hashAddress   = regexp.MustCompile(`#\s*\d+(?:[-/]\d+)*`)
	dashedAddress = regexp.MustCompile(`\b\d{1,4}(?:[-/]\d+)+\b`)
	addressWords  = []string{
		"beside", "near", "road", "street", "address", "location",
		"hospital", "clinic", "market", "super",
	}
)

const addressScore = 0.80

// AddressNumbers finds house numbers such as "#15-11-154" or "12/34" that sit
// within 30 bytes of an address keyword.
func AddressNumbers(text string) []phi.Candidate {
	var results []phi.Candidate
	for _, pattern := range []*regexp.Regexp{hashAddress, dashedAddress} {
		for _, loc := range pattern.FindAllStringIndex(text, -1) {
			start, end := loc[0], loc[1]
			before := strings.ToLower(window(text, start-30, start))
			after := strings.ToLower(window(text, end, end+30))
			if containsAny(before, addressWords) || containsAny(after, addressWords) {
				results = append(results, candidate(phi.TypeAddressNumber, text, start, end, addressScore))
			}
		}
	}
	return results
}
