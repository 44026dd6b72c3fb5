package resolver

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	dosagePattern   = regexp.MustCompile(`(?i)\b\d+\s*(?:mg|mcg|g|gm|ml|IU|Units)\b`)
	nonWord         = regexp.MustCompile(`[^\p{L}\p{N}_]`)
	nonWordOrSpace  = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)
	blockOrSector   = regexp.MustCompile(`\b(?:BLOCK|SECTOR)\b`)
	sixDigits       = regexp.MustCompile(`\b\d{6}\b`)
	multiDigitGroup = regexp.MustCompile(`\b\d{2,}\b`)
	timeSuffix      = regexp.MustCompile(`^\s*(?:at|@)?\s*\d{1,2}:\d{2}(?::\d{2})?(?:\s*(?:AM|PM|am|pm|hrs?|hr))?`)
)

// rules is a Policy compiled into lookup sets
type rules struct {
	policy     Policy
	blacklist  map[string]bool
	degrees    map[string]bool
	drugs      map[string]bool
	routeWords *regexp.Regexp
	facility   []string
	addressKW  []string
}

func compile(p Policy) *rules {
	r := &rules{
		policy:    p,
		blacklist: upperSet(p.BlacklistedTypes),
		degrees:   upperSet(p.MedicalDegrees),
		drugs:     upperSet(p.DrugNames),
	}

	quoted := make([]string, 0, len(p.RouteWords))
	for _, w := range p.RouteWords {
		if w = strings.TrimSpace(w); w != "" {
			quoted = append(quoted, regexp.QuoteMeta(w))
		}
	}
	if len(quoted) > 0 {
		r.routeWords = regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
	}

	for _, kw := range p.FacilityKeywords {
		r.facility = append(r.facility, strings.ToLower(kw))
	}
	for _, kw := range p.AddressKeywords {
		r.addressKW = append(r.addressKW, strings.ToUpper(kw))
	}
	return r
}

// isDegree reports whether the span is a medical qualification like "M.B.B.S"
func (r *rules) isDegree(span string) bool {
	clean := nonWord.ReplaceAllString(strings.ToUpper(strings.TrimSpace(span)), "")
	return r.degrees[clean]
}

func (r *rules) isDrug(span string) bool {
	clean := strings.ToUpper(strings.TrimSpace(nonWordOrSpace.ReplaceAllString(span, "")))
	return r.drugs[clean]
}

// isShortAllCaps flags abbreviations such as "CT" or "ECG"
func isShortAllCaps(span string) bool {
	s := strings.TrimSpace(span)
	if s == "" || utf8.RuneCountInString(s) > 4 {
		return false
	}
	return isUpper(s)
}

// inMedicationContext reports whether a dosage or route-of-administration
// token sits within the context window around [start, end).
func (r *rules) inMedicationContext(text string, start, end int) bool {
	span := text[start:end]
	w := r.policy.ContextWindow
	around := text[max(0, start-w):min(len(text), end+w)]
	if dosagePattern.MatchString(around) {
		return true
	}
	if r.routeWords != nil && r.routeWords.MatchString(around) {
		return true
	}
	return dosagePattern.MatchString(span)
}

func (r *rules) isFacility(span string) bool {
	lower := strings.ToLower(span)
	for _, kw := range r.facility {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// looksLikeAddress is the address-shape heuristic for LOCATION and
// ORGANIZATION spans
func (r *rules) looksLikeAddress(span string) bool {
	cleaned := strings.TrimSpace(span)
	if cleaned == "" {
		return false
	}
	if isUpper(cleaned) && utf8.RuneCountInString(cleaned) <= 3 {
		return false
	}

	upper := strings.ToUpper(cleaned)
	for _, kw := range r.addressKW {
		if strings.Contains(upper, kw) {
			return true
		}
	}
	if blockOrSector.MatchString(upper) || sixDigits.MatchString(cleaned) {
		return true
	}

	hasLetter := strings.IndexFunc(cleaned, unicode.IsLetter) >= 0
	if multiDigitGroup.MatchString(cleaned) && hasLetter {
		return true
	}
	hasDigit := strings.IndexFunc(cleaned, unicode.IsDigit) >= 0
	return hasDigit && strings.Contains(cleaned, "-")
}

// isUpper is true when s has at least one cased letter and no lower-case ones
func isUpper(s string) bool {
	cased := false
	for _, r := range s {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsUpper(r) || unicode.IsTitle(r) {
			cased = true
		}
	}
	return cased
}

func upperSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[strings.ToUpper(strings.TrimSpace(item))] = true
	}
	return set
}
