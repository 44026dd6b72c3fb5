// Package phi defines the entity records shared by the de-identification
// and re-identification paths.
package phi

import (
	"fmt"
	"strings"
)

// EntityType classifies a detected PHI span.
type EntityType string

// Canonical entity types. Labels outside this set are carried through as-is
// and treated as non-core.
const (
	TypePerson        EntityType = "PERSON"
	TypeLocation      EntityType = "LOCATION"
	TypeOrganization  EntityType = "ORGANIZATION"
	TypeDateTime      EntityType = "DATE_TIME"
	TypePhoneNumber   EntityType = "PHONE_NUMBER"
	TypeID            EntityType = "ID"
	TypePostalCode    EntityType = "POSTAL_CODE"
	TypeAddressNumber EntityType = "ADDRESS_NUMBER"
	TypeAge           EntityType = "AGE"
	TypeGender        EntityType = "GENDER"
	TypeEmailAddress  EntityType = "EMAIL_ADDRESS"
)

// coreTypes are subject to per-type thresholds and overlap tracking.
var coreTypes = map[EntityType]bool{
	TypePerson:        true,
	TypeLocation:      true,
	TypeOrganization:  true,
	TypeDateTime:      true,
	TypePhoneNumber:   true,
	TypeID:            true,
	TypePostalCode:    true,
	TypeAddressNumber: true,
}

// IsCore reports whether t goes through threshold and overlap resolution.
func (t EntityType) IsCore() bool {
	return coreTypes[t]
}

// Token is the literal placeholder the redactor writes for this type.
func (t EntityType) Token() string {
	return string(t)
}

// TokenFunc maps an entity type to the placeholder written for it
type TokenFunc func(EntityType) string

// BracketToken writes placeholders as [TYPE], the basic redaction format.
func BracketToken(t EntityType) string {
	if t == "" {
		return ""
	}
	return "[" + string(t) + "]"
}

// OrDefault returns f, or EntityType.Token when f is nil.
func (f TokenFunc) OrDefault() TokenFunc {
	if f == nil {
		return EntityType.Token
	}
	return f
}

// CoreTypes returns the core vocabulary in a fixed order.
func CoreTypes() []EntityType {
	return []EntityType{
		TypePerson, TypeLocation, TypeOrganization, TypeDateTime,
		TypePhoneNumber, TypeID, TypePostalCode, TypeAddressNumber,
	}
}

// Entity is a detected PHI span over a page's text. Offsets are byte offsets
// into the exact text that was redacted.
type Entity struct {
	EntityType EntityType `json:"entity_type"`
	Text       string     `json:"text"`
	Start      int        `json:"start"`
	End        int        `json:"end"`
	Score      float64    `json:"score"`
	EntityID   string     `json:"entity_id,omitempty"`
}

// Span returns the entity's half-open range.
func (e Entity) Span() Span {
	return Span{Start: e.Start, End: e.End}
}

// Len is the span length in bytes.
func (e Entity) Len() int {
	return e.End - e.Start
}

// String returns a debug form that never includes the entity text,
// e.g. PERSON[8:18]@0.90.
func (e Entity) String() string {
	return fmt.Sprintf("%s[%d:%d]@%.2f", e.EntityType, e.Start, e.End, e.Score)
}

// CountByType tallies entities per type.
func CountByType(entities []Entity) map[EntityType]int {
	counts := make(map[EntityType]int)
	for _, e := range entities {
		counts[e.EntityType]++
	}
	return counts
}

// ParseEntityType upper-cases and trims a raw label without mapping synonyms.
func ParseEntityType(label string) EntityType {
	return EntityType(strings.ToUpper(strings.TrimSpace(label)))
}
