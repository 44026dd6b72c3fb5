package resolver

import (
	"fmt"

	"github.com/raaihank/phi-sentinel/internal/phi"
)

// Policy holds the tunable resolution rules. The zero value is not useful;
// start from DefaultPolicy.
type Policy struct {
	PersonMinScore          float64  `mapstructure:"person_min_score" json:"person_min_score"`
	IDMinScore              float64  `mapstructure:"id_min_score" json:"id_min_score"`
	PhoneMinScore           float64  `mapstructure:"phone_min_score" json:"phone_min_score"`
	DateTimeMinScore        float64  `mapstructure:"date_time_min_score" json:"date_time_min_score"`
	LocationMinScore        float64  `mapstructure:"location_min_score" json:"location_min_score"`
	OrganizationMinScore    float64  `mapstructure:"organization_min_score" json:"organization_min_score"`
	OrganizationAcceptScore float64  `mapstructure:"organization_accept_score" json:"organization_accept_score"`
	AddressMinScore         float64  `mapstructure:"address_min_score" json:"address_min_score"`
	OverlapLimit            float64  `mapstructure:"overlap_limit" json:"overlap_limit"`
	ContextWindow           int      `mapstructure:"context_window" json:"context_window"`
	TimeLookahead           int      `mapstructure:"time_lookahead" json:"time_lookahead"`
	BlacklistedTypes        []string `mapstructure:"blacklisted_types" json:"blacklisted_types"`
	MedicalDegrees          []string `mapstructure:"medical_degrees" json:"medical_degrees"`
	DrugNames               []string `mapstructure:"drug_names" json:"drug_names"`
	RouteWords              []string `mapstructure:"route_words" json:"route_words"`
	FacilityKeywords        []string `mapstructure:"facility_keywords" json:"facility_keywords"`
	AddressKeywords         []string `mapstructure:"address_keywords" json:"address_keywords"`
}

// DefaultPolicy returns the production thresholds and word lists
func DefaultPolicy() Policy {
	return Policy{
		PersonMinScore:          0.5,
		IDMinScore:              0.75,
		PhoneMinScore:           0.7,
		DateTimeMinScore:        0.7,
		LocationMinScore:        0.75,
		OrganizationMinScore:    0.65,
		OrganizationAcceptScore: 0.7,
		AddressMinScore:         0.6,
		OverlapLimit:            0.5,
		ContextWindow:           30,
		TimeLookahead:           40,
		BlacklistedTypes: []string{
			"US_DRIVER_LICENSE", "US_SSN", "US_PASSPORT", "US_BANK_NUMBER", "URL", "MISC",
		},
		MedicalDegrees: []string{
			"MD", "MS", "DNB", "DMLT", "MNAMS", "MBBS", "DM", "MCH", "BDS", "BAMS", "BHMS", "BPT",
		},
		DrugNames: []string{
			"AMOXICILLIN", "LEVOSALBUTAMOL", "SALBUTAMOL", "AZITHROMYCIN", "CEFTRIAXONE", "DOLO",
			"PARACETAMOL", "IBUPROFEN", "CEFADROXIL", "CETIRIZINE", "MONTELUKAST",
		},
		RouteWords: []string{
			"IV", "IM", "PO", "SC", "TD", "OD", "BD", "SOS", "PRN", "SACHET", "INJ", "TAB", "CAP",
		},
		FacilityKeywords: []string{
			"hospital", "clinic", "center", "centre", "diagnostic", "laboratory",
			"lab", "medical", "healthcare", "health", "market",
		},
		AddressKeywords: []string{
			"LAB", "PATHLAB", "PATHLABS", "REFERENCE", "HOSPITAL", "CLINIC", "CENTRAL",
			"NRL", "LPL", "BLOCK", "SECTOR", "AVENUE", "ROAD", "DELHI", "AHMEDABAD", "KUNJ",
		},
	}
}

// MinScore is the score floor for a core type. Non-core types have none.
func (p Policy) MinScore(t phi.EntityType) float64 {
	switch t {
	case phi.TypePerson:
		return p.PersonMinScore
	case phi.TypeID:
		return p.IDMinScore
	case phi.TypePhoneNumber:
		return p.PhoneMinScore
	case phi.TypeDateTime:
		return p.DateTimeMinScore
	case phi.TypeLocation:
		return p.LocationMinScore
	case phi.TypeOrganization:
		return p.OrganizationMinScore
	case phi.TypePostalCode, phi.TypeAddressNumber:
		return p.AddressMinScore
	default:
		return 0
	}
}

// Validate checks thresholds are probabilities and windows are positive
func (p Policy) Validate() error {
	scores := map[string]float64{
		"person_min_score":          p.PersonMinScore,
		"id_min_score":              p.IDMinScore,
		"phone_min_score":           p.PhoneMinScore,
		"date_time_min_score":       p.DateTimeMinScore,
		"location_min_score":        p.LocationMinScore,
		"organization_min_score":    p.OrganizationMinScore,
		"organization_accept_score": p.OrganizationAcceptScore,
		"address_min_score":         p.AddressMinScore,
		"overlap_limit":             p.OverlapLimit,
	}
	for name, v := range scores {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be between 0 and 1, got %v", name, v)
		}
	}
	if p.ContextWindow < 0 {
		return fmt.Errorf("context_window must not be negative")
	}
	if p.TimeLookahead < 0 {
		return fmt.Errorf("time_lookahead must not be negative")
	}
	return nil
}
