package phi

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

// Candidate is a raw detector finding before resolution. Labels may come from
// any detector vocabulary. Start and End are -1 when absent from the input.
type Candidate struct {
	EntityType string  `json:"entity_type"`
	Text       string  `json:"text"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Score      float64 `json:"score"`
}

// UnmarshalJSON accepts both entity_type and entity_group labels and keeps
// missing offsets distinguishable from zero.
func (c *Candidate) UnmarshalJSON(data []byte) error {
	var aux struct {
		EntityType  *string  `json:"entity_type"`
		EntityGroup *string  `json:"entity_group"`
		Text        *string  `json:"text"`
		Word        *string  `json:"word"`
		Start       *int     `json:"start"`
		End         *int     `json:"end"`
		Score       *float64 `json:"score"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	*c = Candidate{Start: -1, End: -1}
	switch {
	case aux.EntityType != nil:
		c.EntityType = *aux.EntityType
	case aux.EntityGroup != nil:
		c.EntityType = *aux.EntityGroup
	}
	switch {
	case aux.Text != nil:
		c.Text = *aux.Text
	case aux.Word != nil:
		c.Text = *aux.Word
	}
	if aux.Start != nil {
		c.Start = *aux.Start
	}
	if aux.End != nil {
		c.End = *aux.End
	}
	if aux.Score != nil {
		c.Score = *aux.Score
	}
	return nil
}

// Validate checks that the candidate names a type, carries text and has a
// span inside a text of length textLen.
func (c Candidate) Validate(textLen int) error {
	if c.EntityType == "" {
		return fmt.Errorf("%w: missing entity type", ErrMalformedCandidate)
	}
	if c.Text == "" {
		return fmt.Errorf("%w: missing text", ErrMalformedCandidate)
	}
	if c.Start < 0 || c.End <= c.Start || c.End > textLen {
		return fmt.Errorf("%w: span [%d:%d] outside text of length %d", ErrMalformedCandidate, c.Start, c.End, textLen)
	}
	if math.IsNaN(c.Score) || c.Score < 0 || c.Score > 1 {
		return fmt.Errorf("%w: score %v outside [0, 1]", ErrMalformedCandidate, c.Score)
	}
	return nil
}

// Align returns c with offsets that select exactly c.Text in text. Byte
// offsets that already match are kept. Otherwise the offsets are read as
// character offsets, and failing that the occurrence of c.Text nearest to
// Start is used. ok is false when c.Text does not occur in text.
func (c Candidate) Align(text string) (Candidate, bool) {
	if c.Text == "" {
		return c, false
	}
	if c.Start >= 0 && c.End <= len(text) && c.Start < c.End && text[c.Start:c.End] == c.Text {
		return c, true
	}
	if start, end := ByteOffsets(text, c.Start, c.End); start < end && text[start:end] == c.Text {
		c.Start, c.End = start, end
		return c, true
	}

	best := -1
	for from := 0; from <= len(text); {
		i := strings.Index(text[from:], c.Text)
		if i < 0 {
			break
		}
		i += from
		if best < 0 || abs(i-c.Start) < abs(best-c.Start) {
			best = i
		}
		from = i + 1
	}
	if best < 0 {
		return c, false
	}
	c.Start, c.End = best, best+len(c.Text)
	return c, true
}

// ByteOffsets converts character offsets into byte offsets of text. Offsets
// past the last character map to len(text); negative offsets are returned
// unchanged.
func ByteOffsets(text string, start, end int) (int, int) {
	if start < 0 || end < 0 {
		return start, end
	}
	bs, be := len(text), len(text)
	n := 0
	for i := range text {
		if n == start {
			bs = i
		}
		if n == end {
			be = i
			break
		}
		n++
	}
	return bs, be
}

// IsASCII reports whether character and byte offsets agree for text
func IsASCII(text string) bool {
	return utf8.RuneCountInString(text) == len(text)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// FromEntity turns a resolved entity back into a candidate, so a resolved
// set can be fed through resolution again.
func FromEntity(e Entity) Candidate {
	return Candidate{
		EntityType: string(e.EntityType),
		Text:       e.Text,
		Start:      e.Start,
		End:        e.End,
		Score:      e.Score,
	}
}

// FromEntities converts a slice of entities.
func FromEntities(entities []Entity) []Candidate {
	out := make([]Candidate, len(entities))
	for i, e := range entities {
		out[i] = FromEntity(e)
	}
	return out
}
