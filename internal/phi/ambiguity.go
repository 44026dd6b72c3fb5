package phi

import (
	"sort"
	"strings"
)

// AmbiguousTypes lists the entity types whose placeholders cannot be mapped
// back one-to-one in anonymized: either the token occurs more often than
// there are entities of that type, or some entity's original text contains
// the token itself. Re-identification of these types may splice originals
// into the wrong occurrence. A nil tok means plain type-name tokens.
func AmbiguousTypes(anonymized string, entities []Entity, tok TokenFunc) []EntityType {
	tok = tok.OrDefault()
	counts := CountByType(entities)
	flagged := make(map[EntityType]bool)

	for t, n := range counts {
		token := tok(t)
		if token == "" {
			continue
		}
		if strings.Count(anonymized, token) > n {
			flagged[t] = true
			continue
		}
		for _, e := range entities {
			if strings.Contains(e.Text, token) {
				flagged[t] = true
				break
			}
		}
	}

	out := make([]EntityType, 0, len(flagged))
	for t := range flagged {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
