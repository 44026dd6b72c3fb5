package resolver

import (
	"regexp"
	"sort"
	"strings"

	"github.com/raaihank/phi-sentinel/internal/detectors"
	"github.com/raaihank/phi-sentinel/internal/phi"
)

// Each stage reads its input slice and returns a new one. Counters go into
// the per-call Stats.

// sanitize drops malformed candidates, moves spans whose offsets do not
// select their text onto that text, and maps labels to the canonical
// vocabulary.
func sanitize(text string, candidates []phi.Candidate, st *Stats) []phi.Entity {
	out := make([]phi.Entity, 0, len(candidates))
	for _, c := range candidates {
		if err := c.Validate(len(text)); err != nil {
			st.Malformed++
			continue
		}
		aligned, ok := c.Align(text)
		if !ok {
			st.Malformed++
			continue
		}
		if aligned.Start != c.Start || aligned.End != c.End {
			st.Realigned++
			c = aligned
		}
		out = append(out, phi.Entity{
			EntityType: phi.NormalizeLabel(c.EntityType),
			Text:       text[c.Start:c.End],
			Start:      c.Start,
			End:        c.End,
			Score:      c.Score,
		})
	}
	return out
}

// passThrough keeps non-core types that are not blacklisted
func (r *rules) passThrough(entities []phi.Entity, st *Stats) []phi.Entity {
	var out []phi.Entity
	for _, e := range entities {
		if e.EntityType.IsCore() {
			continue
		}
		if r.blacklist[string(e.EntityType)] {
			st.Blacklisted++
			continue
		}
		out = append(out, e)
	}
	return out
}

// persons applies the PERSON threshold and the degree, drug, abbreviation
// and medication-context filters
func (r *rules) persons(text string, entities []phi.Entity, st *Stats) []phi.Entity {
	accepted := phi.NewSpanSet(r.policy.OverlapLimit)
	var out []phi.Entity
	for _, e := range entities {
		if e.EntityType != phi.TypePerson {
			continue
		}
		if e.Score < r.policy.PersonMinScore {
			st.BelowThreshold++
			continue
		}
		if r.isDegree(e.Text) || r.isDrug(e.Text) || isShortAllCaps(e.Text) ||
			r.inMedicationContext(text, e.Start, e.End) {
			st.Filtered++
			continue
		}
		if !accepted.TryAdd(e.Span()) {
			st.Overlapping++
			continue
		}
		out = append(out, e)
	}
	return out
}

// phones ranks phone candidates longest first, then by score, and lets the
// digit-pattern validator rescue low-confidence ones
func (r *rules) phones(entities []phi.Entity, st *Stats) []phi.Entity {
	var candidates []phi.Entity
	for _, e := range entities {
		if e.EntityType == phi.TypePhoneNumber {
			candidates = append(candidates, e)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Len() != candidates[j].Len() {
			return candidates[i].Len() > candidates[j].Len()
		}
		return candidates[i].Score > candidates[j].Score
	})

	accepted := phi.NewSpanSet(r.policy.OverlapLimit)
	var out []phi.Entity
	for _, e := range candidates {
		if e.Score < r.policy.PhoneMinScore && !detectors.IsValidPhoneNumber(e.Text) {
			st.BelowThreshold++
			continue
		}
		if !accepted.TryAdd(e.Span()) {
			st.Overlapping++
			continue
		}
		out = append(out, e)
	}
	return out
}

// general resolves ID, DATE_TIME, LOCATION and ORGANIZATION in candidate
// order, each against its own accepted spans
func (r *rules) general(entities []phi.Entity, st *Stats) []phi.Entity {
	sets := map[phi.EntityType]*phi.SpanSet{
		phi.TypeID:           phi.NewSpanSet(r.policy.OverlapLimit),
		phi.TypeDateTime:     phi.NewSpanSet(r.policy.OverlapLimit),
		phi.TypeLocation:     phi.NewSpanSet(r.policy.OverlapLimit),
		phi.TypeOrganization: phi.NewSpanSet(r.policy.OverlapLimit),
	}

	var out []phi.Entity
	for _, e := range entities {
		set, ok := sets[e.EntityType]
		if !ok {
			continue
		}
		if e.Score < r.policy.MinScore(e.EntityType) {
			st.BelowThreshold++
			continue
		}
		if !r.acceptPlace(e) {
			st.Filtered++
			continue
		}
		if !set.TryAdd(e.Span()) {
			st.Overlapping++
			continue
		}
		out = append(out, e)
	}
	return out
}

// acceptPlace biases LOCATION and ORGANIZATION toward facility names and
// address-shaped text below their accept score
func (r *rules) acceptPlace(e phi.Entity) bool {
	var acceptScore float64
	switch e.EntityType {
	case phi.TypeLocation:
		acceptScore = r.policy.LocationMinScore
	case phi.TypeOrganization:
		acceptScore = r.policy.OrganizationAcceptScore
	default:
		return true
	}
	return e.Score >= acceptScore || r.isFacility(e.Text) || r.looksLikeAddress(e.Text)
}

// addresses resolves POSTAL_CODE and ADDRESS_NUMBER with separate span sets
func (r *rules) addresses(entities []phi.Entity, st *Stats) []phi.Entity {
	sets := map[phi.EntityType]*phi.SpanSet{
		phi.TypePostalCode:    phi.NewSpanSet(r.policy.OverlapLimit),
		phi.TypeAddressNumber: phi.NewSpanSet(r.policy.OverlapLimit),
	}

	var out []phi.Entity
	for _, e := range entities {
		set, ok := sets[e.EntityType]
		if !ok {
			continue
		}
		if e.Score < r.policy.AddressMinScore {
			st.BelowThreshold++
			continue
		}
		if !set.TryAdd(e.Span()) {
			st.Overlapping++
			continue
		}
		out = append(out, e)
	}
	return out
}

// extendDateTimes grows DATE_TIME spans over a directly following
// time-of-day such as " at 13:33" or " 10:15 AM", including chained times
// like " 10:00 11:30". An extension that would
// collide with another DATE_TIME span is not applied.
func (r *rules) extendDateTimes(text string, entities []phi.Entity, st *Stats) []phi.Entity {
	out := make([]phi.Entity, len(entities))
	copy(out, entities)
	for i, e := range out {
		if e.EntityType != phi.TypeDateTime || e.End >= len(text) {
			continue
		}
		end := e.End
		for end < len(text) {
			ahead := text[end:min(len(text), end+r.policy.TimeLookahead)]
			loc := timeSuffix.FindStringIndex(ahead)
			if loc == nil || loc[1] == 0 {
				break
			}
			end += loc[1]
		}
		if end == e.End {
			continue
		}
		grown := phi.Span{Start: e.Start, End: end}
		if r.collides(out, i, grown) {
			continue
		}
		out[i].End = grown.End
		out[i].Text = text[grown.Start:grown.End]
		st.Extended++
	}
	return out
}

// collides reports whether s overlaps another entity of out[i]'s type beyond
// the overlap limit
func (r *rules) collides(out []phi.Entity, i int, s phi.Span) bool {
	for j, other := range out {
		if j == i || other.EntityType != out[i].EntityType {
			continue
		}
		if phi.OverlapFraction(s, other.Span()) > r.policy.OverlapLimit {
			return true
		}
	}
	return false
}

var (
	personPrefix   = regexp.MustCompile(`(?i)^(?:dr\.?|mr\.?|mrs\.?|ms\.?|miss\.?|prof\.?|professor|shri)\s+`)
	personSuffix   = regexp.MustCompile(`(?i)\b(?:sir|jr\.?|sr\.?|ii|iii|iv)\b\.?$`)
	initialDots    = regexp.MustCompile(`\.\s*`)
	trailingPunct  = regexp.MustCompile(`[.,;:!?]+$`)
	phoneLikeTypes = map[phi.EntityType]bool{
		phi.TypePhoneNumber: true,
		"US_BANK_NUMBER":    true,
		"US_DRIVER_LICENSE": true,
	}
)

// dedupKey is the normalized identity of an entity
type dedupKey struct {
	entityType phi.EntityType
	norm       string
	start, end int
}

// normalizedText collapses surface variants: phone-like types keep their last
// ten digits, names lose honorifics and punctuation, everything else is
// lower-cased.
func normalizedText(e phi.Entity) string {
	if phoneLikeTypes[e.EntityType] {
		digits := detectors.PhoneDigits(e.Text)
		if len(digits) > 10 {
			return digits[len(digits)-10:]
		}
		return digits
	}
	if e.EntityType == phi.TypePerson {
		s := personPrefix.ReplaceAllString(e.Text, "")
		s = personSuffix.ReplaceAllString(s, "")
		s = initialDots.ReplaceAllString(s, " ")
		s = trailingPunct.ReplaceAllString(s, "")
		return strings.ToLower(strings.Join(strings.Fields(s), " "))
	}
	return strings.ToLower(strings.TrimSpace(e.Text))
}

// dedup keeps the first entity for each normalized key
func dedup(entities []phi.Entity, st *Stats) []phi.Entity {
	seen := make(map[dedupKey]bool, len(entities))
	out := make([]phi.Entity, 0, len(entities))
	for _, e := range entities {
		k := dedupKey{entityType: e.EntityType, norm: normalizedText(e), start: e.Start, end: e.End}
		if seen[k] {
			st.Duplicates++
			continue
		}
		seen[k] = true
		out = append(out, e)
	}
	return out
}
