package detectors

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raaihank/phi-sentinel/internal/phi"
)

func TestIsValidPhoneNumber(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"9876543210", true},
		{"+91 98765 43210", true},
		{"040-23456789", true},
		{"0863 - 222 72 77", true},
		{"3336255", true},
		{"24/04/12-0901", false},
		{"12345", false},
		{"1234567890123", false},
		{"", false},
		{"   ", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidPhoneNumber(tt.input))
		})
	}
}

func TestPostalCodes(t *testing.T) {
	t.Run("dash prefixed", func(t *testing.T) {
		text := "Hyderabad – 500001."
		got := PostalCodes(text)
		require.Len(t, got, 1)
		assert.Equal(t, strings.Index(text, "–"), got[0].Start)
		assert.Equal(t, strings.Index(text, "."), got[0].End)
		assert.Equal(t, string(phi.TypePostalCode), got[0].EntityType)
	})

	t.Run("split digits with trailing delimiter", func(t *testing.T) {
		text := "PIN 500 001, India"
		got := PostalCodes(text)
		require.Len(t, got, 1)
		assert.Equal(t, "500 001", got[0].Text)
	})

	t.Run("phone numbers are not postal codes", func(t *testing.T) {
		assert.Empty(t, PostalCodes("Call 9876543210 now"))
	})
}

func TestAddressNumbers(t *testing.T) {
	text := "Address: #15-11-154, Main Road"
	got := AddressNumbers(text)
	require.NotEmpty(t, got)
	assert.Equal(t, "#15-11-154", got[0].Text)
	assert.Equal(t, 9, got[0].Start)

	assert.Empty(t, AddressNumbers("Ratio 12-14 in the report"))
}

func TestAges(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"age sex label", "Age / Sex: 23 YRS / M", []string{"23"}},
		{"plain", "Age 62", []string{"62"}},
		{"colon", "age:7 years", []string{"7"}},
		{"out of range", "Age: 150", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Ages(tt.text)
			var texts []string
			for _, c := range got {
				texts = append(texts, c.Text)
				assert.Equal(t, tt.text[c.Start:c.End], c.Text)
			}
			assert.Equal(t, tt.want, texts)
		})
	}
}

func TestGenders(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		want  string
		score float64
	}{
		{"labelled", "Sex: Female", "Female", 0.90},
		{"after age", "Age / Sex: 23 YRS / M", "M", 0.90},
		{"spaced", "Age 23 Male", "Male", 0.85},
		{"slashed with context", "Patient 45/M", "M", 0.80},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Genders(tt.text)
			require.Len(t, got, 1)
			assert.Equal(t, tt.want, got[0].Text)
			assert.Equal(t, tt.score, got[0].Score)
		})
	}

	t.Run("slash without context", func(t *testing.T) {
		assert.Empty(t, Genders("Batch 45/M"))
	})
}

func TestAbbreviatedDoctors(t *testing.T) {
	text := "Seen by Dr. Kiran Ragava. Follow up with Dr. K. Ragava."
	personStart := strings.Index(text, "Kiran")
	persons := []phi.Candidate{
		{EntityType: "PER", Text: "Kiran Ragava", Start: personStart, End: personStart + len("Kiran Ragava"), Score: 0.95},
	}

	got := AbbreviatedDoctors(text, persons)
	require.Len(t, got, 1)
	assert.Equal(t, "Dr. K. Ragava", got[0].Text)
	assert.Equal(t, strings.Index(text, "Dr. K."), got[0].Start)
	assert.Equal(t, string(phi.TypePerson), got[0].EntityType)

	t.Run("single word names are ignored", func(t *testing.T) {
		assert.Empty(t, AbbreviatedDoctors("Dr. K. Ragava", []phi.Candidate{{Text: "Ragava", Start: 0, End: 6}}))
	})
}

func TestSetRun(t *testing.T) {
	t.Run("unknown detector", func(t *testing.T) {
		_, err := New([]string{"postal_code", "nope"})
		assert.Error(t, err)
	})

	t.Run("model candidates stay first", func(t *testing.T) {
		text := "Age 62, Sex: M"
		model := []phi.Candidate{{EntityType: "ID", Text: "62", Start: 4, End: 6, Score: 0.5}}
		got := Default().Run(text, model)
		require.Len(t, got, 3)
		assert.Equal(t, model[0], got[0])
		assert.Equal(t, string(phi.TypeAge), got[1].EntityType)
		assert.Equal(t, string(phi.TypeGender), got[2].EntityType)
	})

	t.Run("subset", func(t *testing.T) {
		s, err := New([]string{Age})
		require.NoError(t, err)
		assert.Equal(t, []string{Age}, s.Enabled())
		got := s.Run("Age 62, Sex: M", nil)
		require.Len(t, got, 1)
		assert.Equal(t, "62", got[0].Text)
	})
}
