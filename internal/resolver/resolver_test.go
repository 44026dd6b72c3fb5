package resolver

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/raaihank/phi-sentinel/internal/detectors"
	"github.com/raaihank/phi-sentinel/internal/phi"
)

func newResolver(t *testing.T) *Resolver {
	t.Helper()
	r, err := New(DefaultPolicy(), zap.NewNop())
	require.NoError(t, err)
	return r
}

// at builds a candidate for the first occurrence of span in text
func at(t *testing.T, text, label, span string, score float64) phi.Candidate {
	t.Helper()
	start := strings.Index(text, span)
	require.GreaterOrEqual(t, start, 0, "span %q not in text", span)
	return phi.Candidate{EntityType: label, Text: span, Start: start, End: start + len(span), Score: score}
}

func types(entities []phi.Entity) []phi.EntityType {
	out := make([]phi.EntityType, len(entities))
	for i, e := range entities {
		out[i] = e.EntityType
	}
	return out
}

func TestResolveDegenerateInput(t *testing.T) {
	r := newResolver(t)
	res := r.Resolve("Nothing to see here.", nil)
	assert.NotNil(t, res.Entities)
	assert.Empty(t, res.Entities)
	assert.Equal(t, 0, res.Stats.Resolved)
}

func TestResolveSkipsMalformedCandidates(t *testing.T) {
	r := newResolver(t)
	text := "Patient John Smith"
	res := r.Resolve(text, []phi.Candidate{
		{EntityType: "PERSON", Start: 8, End: 18, Score: 0.9},
		{EntityType: "PERSON", Text: "John Smith", Start: 8, End: 40, Score: 0.9},
		{EntityType: "PERSON", Text: "John Smith", Start: -1, End: -1, Score: 0.9},
		{Text: "John Smith", Start: 8, End: 18, Score: 0.9},
		at(t, text, "PER", "John Smith", 0.9),
	})
	require.Len(t, res.Entities, 1)
	assert.Equal(t, 4, res.Stats.Malformed)
	assert.Equal(t, phi.TypePerson, res.Entities[0].EntityType)
}

func TestResolveThresholds(t *testing.T) {
	text := "abcdefghij klmnop"
	p := DefaultPolicy()

	for _, typ := range phi.CoreTypes() {
		t.Run(string(typ)+" below", func(t *testing.T) {
			r := newResolver(t)
			floor := p.MinScore(typ)
			res := r.Resolve(text, []phi.Candidate{{EntityType: string(typ), Text: "abcde", Start: 0, End: 5, Score: floor - 0.01}})
			assert.Empty(t, res.Entities)
			assert.Equal(t, 1, res.Stats.BelowThreshold)
		})
		t.Run(string(typ)+" at threshold", func(t *testing.T) {
			r := newResolver(t)
			text, span := text, "abcde"
			if typ == phi.TypeOrganization {
				// between the floor and the accept score only facilities pass
				text, span = "Seen at Apollo Clinic today", "Apollo Clinic"
			}
			res := r.Resolve(text, []phi.Candidate{at(t, text, string(typ), span, p.MinScore(typ))})
			require.Len(t, res.Entities, 1)
			assert.Equal(t, typ, res.Entities[0].EntityType)
		})
	}
}

func TestResolveOrganizationAcceptScore(t *testing.T) {
	r := newResolver(t)
	p := r.Policy()
	text := "abcdefghij klmnop"

	res := r.Resolve(text, []phi.Candidate{at(t, text, "ORGANIZATION", "abcde", p.OrganizationMinScore)})
	assert.Empty(t, res.Entities)

	res = r.Resolve(text, []phi.Candidate{at(t, text, "ORGANIZATION", "abcde", p.OrganizationAcceptScore)})
	require.Len(t, res.Entities, 1)
}

func TestResolveRealignsOffsets(t *testing.T) {
	r := newResolver(t)
	text := "Café visit: John Smith"

	t.Run("character offsets", func(t *testing.T) {
		res := r.Resolve(text, []phi.Candidate{{EntityType: "PERSON", Text: "John Smith", Start: 12, End: 22, Score: 0.9}})
		require.Len(t, res.Entities, 1)
		assert.Equal(t, "John Smith", res.Entities[0].Text)
		assert.Equal(t, "John Smith", text[res.Entities[0].Start:res.Entities[0].End])
		assert.Equal(t, 1, res.Stats.Realigned)
	})

	t.Run("nearest occurrence", func(t *testing.T) {
		text := "Ann met Ann at noon"
		res := r.Resolve(text, []phi.Candidate{{EntityType: "PERSON", Text: "Ann", Start: 9, End: 12, Score: 0.9}})
		require.Len(t, res.Entities, 1)
		assert.Equal(t, 8, res.Entities[0].Start)
	})

	t.Run("text not in page", func(t *testing.T) {
		res := r.Resolve(text, []phi.Candidate{{EntityType: "PERSON", Text: "Jane Doe", Start: 12, End: 20, Score: 0.9}})
		assert.Empty(t, res.Entities)
		assert.Equal(t, 1, res.Stats.Malformed)
	})
}

func TestResolvePhoneValidatorOverride(t *testing.T) {
	r := newResolver(t)
	text := "Contact 9876543210 or ref 12-34"
	res := r.Resolve(text, []phi.Candidate{
		at(t, text, "PHONE_NUMBER", "9876543210", 0.3),
		at(t, text, "PHONE_NUMBER", "12-34", 0.3),
	})
	require.Len(t, res.Entities, 1)
	assert.Equal(t, "9876543210", res.Entities[0].Text)
}

func TestResolvePhoneVariantsCollapse(t *testing.T) {
	r := newResolver(t)
	text := "Phone: +91 98765 43210"
	full := at(t, text, "PHONE_NUMBER", "+91 98765 43210", 0.8)
	short := phi.Candidate{EntityType: "PHONE_NUMBER", Text: "9876543210", Start: full.Start + 4, End: full.End, Score: 0.6}

	res := r.Resolve(text, []phi.Candidate{short, full})
	require.Len(t, res.Entities, 1)
	assert.Equal(t, "+91 98765 43210", res.Entities[0].Text)
	assert.Equal(t, 0.8, res.Entities[0].Score)
	assert.Equal(t, 1, res.Stats.Overlapping)
}

func TestResolvePersonFilters(t *testing.T) {
	tests := []struct {
		name string
		text string
		span string
	}{
		{"degree", "Dr. Rao MBBS, MD", "MBBS"},
		{"dotted degree", "Dr. Rao, M.B.B.S. consultant", "M.B.B.S."},
		{"drug", "Given Paracetamol twice", "Paracetamol"},
		{"short caps", "Scan: CT done", "CT"},
		{"dosage nearby", "Thyronorm 25 mcg daily", "Thyronorm"},
		{"route word nearby", "Adv Monocef inj twice", "Monocef"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newResolver(t)
			res := r.Resolve(tt.text, []phi.Candidate{at(t, tt.text, "PERSON", tt.span, 0.95)})
			assert.Empty(t, res.Entities)
			assert.Equal(t, 1, res.Stats.Filtered)
		})
	}

	t.Run("plain name survives", func(t *testing.T) {
		r := newResolver(t)
		text := "Patient John Smith, age 45"
		res := r.Resolve(text, []phi.Candidate{at(t, text, "PATIENT", "John Smith", 0.95)})
		require.Len(t, res.Entities, 1)
		assert.Equal(t, "John Smith", res.Entities[0].Text)
	})
}

func TestResolveOverlapIsPerSubCategory(t *testing.T) {
	r := newResolver(t)
	text := "Referred to Apollo Hospital today"
	res := r.Resolve(text, []phi.Candidate{
		at(t, text, "PERSON", "Apollo Hospital", 0.9),
		at(t, text, "PERSON", "Apollo Hospital today", 0.9),
		at(t, text, "LOC", "Apollo Hospital", 0.9),
	})
	assert.Equal(t, []phi.EntityType{phi.TypePerson, phi.TypeLocation}, types(res.Entities))
	assert.Equal(t, 1, res.Stats.Overlapping)
}

func TestResolveOrganizationBias(t *testing.T) {
	r := newResolver(t)
	text := "Referred from Apollo Hospital and Acme"
	res := r.Resolve(text, []phi.Candidate{
		at(t, text, "ORG", "Apollo Hospital", 0.66),
		at(t, text, "ORG", "Acme", 0.66),
		at(t, text, "ORG", "Referred", 0.6),
	})
	require.Len(t, res.Entities, 1)
	assert.Equal(t, "Apollo Hospital", res.Entities[0].Text)
	assert.Equal(t, 1, res.Stats.Filtered)
	assert.Equal(t, 1, res.Stats.BelowThreshold)
}

func TestResolveNonCoreTypes(t *testing.T) {
	r := newResolver(t)
	text := "Age 45, SSN 123-45-6789, see http://x.io"
	res := r.Resolve(text, []phi.Candidate{
		at(t, text, "AGE", "45", 0.1),
		at(t, text, "US_SSN", "123-45-6789", 0.99),
		at(t, text, "url", "http://x.io", 0.99),
	})
	require.Len(t, res.Entities, 1)
	assert.Equal(t, phi.TypeAge, res.Entities[0].EntityType)
	assert.Equal(t, 2, res.Stats.Blacklisted)
}

func TestResolveOutputOrder(t *testing.T) {
	r := newResolver(t)
	text := "Patient John Smith, age 45, seen on 2024-01-02 by Dr. Rao at 560001."
	res := r.Resolve(text, []phi.Candidate{
		at(t, text, "POSTAL_CODE", "560001", 0.85),
		at(t, text, "DATE", "2024-01-02", 0.9),
		at(t, text, "PER", "Dr. Rao", 0.9),
		at(t, text, "AGE", "45", 0.9),
		at(t, text, "PER", "John Smith", 0.9),
	})
	assert.Equal(t, []phi.EntityType{
		phi.TypeAge, phi.TypePerson, phi.TypePerson, phi.TypeDateTime, phi.TypePostalCode,
	}, types(res.Entities))
	assert.Equal(t, "Dr. Rao", res.Entities[1].Text)
	assert.Equal(t, "John Smith", res.Entities[2].Text)
}

func TestResolveExtendsDateTime(t *testing.T) {
	r := newResolver(t)
	text := "Collected on 20-Feb-2023 at 13:33 hrs. Reported 21-Feb-2023."
	res := r.Resolve(text, []phi.Candidate{
		at(t, text, "DATE_TIME", "20-Feb-2023", 0.9),
		at(t, text, "DATE_TIME", "21-Feb-2023", 0.9),
	})
	require.Len(t, res.Entities, 2)
	assert.Equal(t, "20-Feb-2023 at 13:33 hrs", res.Entities[0].Text)
	assert.Equal(t, text[res.Entities[0].Start:res.Entities[0].End], res.Entities[0].Text)
	assert.Equal(t, "21-Feb-2023", res.Entities[1].Text)
	assert.Equal(t, 1, res.Stats.Extended)
}

func TestResolveIsIdempotent(t *testing.T) {
	r := newResolver(t)
	text := "Patient: Ravi Kumar, Age/Sex: 34 Years / Male. Ph: +91 98765 43210. " +
		"Admitted 12/03/2024 at 10:15 AM to Apollo Hospital, Road No 2, Hyderabad – 500033. " +
		"MRN 448812. Seen by Dr. Kiran Ragava; review with Dr. K. Ragava. Tab Dolo 650 mg."

	model := []phi.Candidate{
		at(t, text, "PATIENT", "Ravi Kumar", 0.97),
		at(t, text, "PHONE", "+91 98765 43210", 0.88),
		at(t, text, "PHONE", "98765 43210", 0.55),
		at(t, text, "DATE", "12/03/2024", 0.93),
		at(t, text, "HOSP", "Apollo Hospital", 0.91),
		at(t, text, "LOC", "Hyderabad", 0.82),
		at(t, text, "ID", "448812", 0.8),
		at(t, text, "STAFF", "Kiran Ragava", 0.96),
		at(t, text, "PER", "Dolo", 0.7),
		at(t, text, "MISC", "Years", 0.5),
	}
	candidates := detectors.Default().Run(text, model)

	first := r.Resolve(text, candidates)
	require.NotEmpty(t, first.Entities)

	second := r.Resolve(text, phi.FromEntities(first.Entities))
	assert.Equal(t, first.Entities, second.Entities)
	assert.Equal(t, 0, second.Stats.Extended)

	for _, e := range first.Entities {
		assert.Equal(t, text[e.Start:e.End], e.Text)
		assert.NotEqual(t, "Dolo", e.Text)
	}
}

func TestResolveIsIdempotentWithChainedTimes(t *testing.T) {
	r := newResolver(t)
	text := "Vitals on 2024-01-02 10:00 11:30 stable."

	first := r.Resolve(text, []phi.Candidate{at(t, text, "DATE_TIME", "2024-01-02", 0.9)})
	require.Len(t, first.Entities, 1)
	assert.Equal(t, "2024-01-02 10:00 11:30", first.Entities[0].Text)

	second := r.Resolve(text, phi.FromEntities(first.Entities))
	assert.Equal(t, first.Entities, second.Entities)
	assert.Equal(t, 0, second.Stats.Extended)
}

func TestResolveRandomizedInvariants(t *testing.T) {
	r := newResolver(t)
	rng := rand.New(rand.NewSource(7))
	labels := []string{"PER", "PHONE", "ID", "DATE", "LOC", "ORG", "ZIP", "ADDRESS", "AGE", "GENDER"}
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789 -"

	for round := 0; round < 200; round++ {
		var sb strings.Builder
		for i := 0; i < 120; i++ {
			sb.WriteByte(alphabet[rng.Intn(len(alphabet))])
		}
		text := sb.String()

		var candidates []phi.Candidate
		for i := 0; i < 25; i++ {
			start := rng.Intn(len(text) - 1)
			end := start + 1 + rng.Intn(min(20, len(text)-start))
			candidates = append(candidates, phi.Candidate{
				EntityType: labels[rng.Intn(len(labels))],
				Text:       text[start:end],
				Start:      start,
				End:        end,
				Score:      rng.Float64(),
			})
		}

		res := r.Resolve(text, candidates)
		p := r.Policy()
		for i, a := range res.Entities {
			if a.EntityType.IsCore() && a.EntityType != phi.TypePhoneNumber {
				assert.GreaterOrEqual(t, a.Score, p.MinScore(a.EntityType))
			}
			for _, b := range res.Entities[i+1:] {
				if a.EntityType != b.EntityType || !a.EntityType.IsCore() {
					continue
				}
				assert.LessOrEqual(t, phi.OverlapFraction(a.Span(), b.Span()), p.OverlapLimit,
					"round %d: %s vs %s", round, a, b)
			}
		}

		again := r.Resolve(text, phi.FromEntities(res.Entities))
		require.Equal(t, res.Entities, again.Entities, "round %d", round)
	}
}

func TestNormalizedText(t *testing.T) {
	tests := []struct {
		entity phi.Entity
		want   string
	}{
		{phi.Entity{EntityType: phi.TypePhoneNumber, Text: "+91 98765 43210"}, "9876543210"},
		{phi.Entity{EntityType: phi.TypePhoneNumber, Text: "98765-43210"}, "9876543210"},
		{phi.Entity{EntityType: phi.TypePerson, Text: "Dr. K. Ragava"}, "k ragava"},
		{phi.Entity{EntityType: phi.TypePerson, Text: "Mr. John Smith Jr."}, "john smith"},
		{phi.Entity{EntityType: phi.TypeLocation, Text: "  Hyderabad "}, "hyderabad"},
	}
	for _, tt := range tests {
		t.Run(tt.entity.Text, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizedText(tt.entity))
		})
	}
}

func TestDedupKeepsFirst(t *testing.T) {
	var st Stats
	in := []phi.Entity{
		{EntityType: phi.TypePerson, Text: "John", Start: 0, End: 4, Score: 0.9},
		{EntityType: phi.TypePerson, Text: "John", Start: 0, End: 4, Score: 0.6},
		{EntityType: phi.TypeLocation, Text: "John", Start: 0, End: 4, Score: 0.8},
	}
	out := dedup(in, &st)
	require.Len(t, out, 2)
	assert.Equal(t, 0.9, out[0].Score)
	assert.Equal(t, 1, st.Duplicates)
}

func TestLooksLikeAddress(t *testing.T) {
	r := compile(DefaultPolicy())
	tests := map[string]bool{
		"Sector 21":        true,
		"NRL Reference":    true,
		"Plot 500033":      true,
		"Flat 12 Kondapur": true,
		"2-3B":             true,
		"ABC":              false,
		"Kondapur":         false,
		"":                 false,
	}
	for text, want := range tests {
		t.Run(text, func(t *testing.T) {
			assert.Equal(t, want, r.looksLikeAddress(text))
		})
	}
}

func TestPolicyValidate(t *testing.T) {
	p := DefaultPolicy()
	require.NoError(t, p.Validate())

	p.IDMinScore = 1.5
	_, err := New(p, nil)
	assert.Error(t, err)
}
