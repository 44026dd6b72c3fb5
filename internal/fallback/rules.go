package fallback

import (
	"regexp"

	"github.com/raaihank/phi-sentinel/internal/phi"
)

// Basic redaction types. They sit outside the model vocabulary and are
// written as [TYPE] placeholders.
const (
	TypeSSN       phi.EntityType = "SSN"
	TypePhone     phi.EntityType = "PHONE"
	TypeEmail     phi.EntityType = "EMAIL"
	TypeDate      phi.EntityType = "DATE"
	TypePatientID phi.EntityType = "PATIENT_ID"
	TypeMRN       phi.EntityType = "MRN"
)

// Score is the fixed confidence given to every pattern match
const Score = 0.9

// Rule is a single basic redaction pattern
type Rule struct {
	Type    phi.EntityType
	Pattern *regexp.Regexp
}

// DefaultRules returns the patterns in priority order. An earlier rule's
// match blocks any later match that overlaps it.
func DefaultRules() []Rule {
	return []Rule{
		{Type: TypeSSN, Pattern: regexp.MustCompile(`(?i)\b\d{3}-\d{2}-\d{4}\b`)},
		{Type: TypePhone, Pattern: regexp.MustCompile(`(?i)\b\d{3}[-.\s]?\d{3}[-.\s]?\d{4}\b`)},
		{Type: TypeEmail, Pattern: regexp.MustCompile(`(?i)\b[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}\b`)},
		{Type: TypeDate, Pattern: regexp.MustCompile(`(?i)\b\d{1,2}/\d{1,2}/\d{2,4}\b|\b\d{4}-\d{1,2}-\d{1,2}\b`)},
		{Type: TypePatientID, Pattern: regexp.MustCompile(`(?i)\bPID\s*:?\s*\d+\b`)},
		{Type: TypeMRN, Pattern: regexp.MustCompile(`(?i)\bMRN\s*:?\s*\d+\b`)},
	}
}
