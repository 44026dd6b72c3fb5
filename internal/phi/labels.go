package phi

// labelSynonyms maps detector vocabularies onto canonical types
var labelSynonyms = map[string]EntityType{
	"PER":          TypePerson,
	"PERSON":       TypePerson,
	"PATIENT":      TypePerson,
	"STAFF":        TypePerson,
	"HCW":          TypePerson,
	"LOC":          TypeLocation,
	"LOCATION":     TypeLocation,
	"GPE":          TypeLocation,
	"HOSP":         TypeLocation,
	"HOSPITAL":     TypeLocation,
	"FACILITY":     TypeLocation,
	"ORG":          TypeOrganization,
	"ORGANIZATION": TypeOrganization,
	"PATORG":       TypeOrganization,
	"VENDOR":       TypeOrganization,
	"EMAIL":        TypeEmailAddress,
	"PHONE":        TypePhoneNumber,
	"DATE":         TypeDateTime,
	"TIME":         TypeDateTime,
	"POSTAL_CODE":  TypePostalCode,
	"ZIP":          TypePostalCode,
	"PIN":          TypePostalCode,
	"ADDRESS":      TypeAddressNumber,
	"AGE":          TypeAge,
	"GENDER":       TypeGender,
	"SEX":          TypeGender,
	"ID":           TypeID,
}

// NormalizeLabel maps a raw detector label to the canonical vocabulary.
// Unmapped labels are upper-cased and passed through.
func NormalizeLabel(label string) EntityType {
	t := ParseEntityType(label)
	if canonical, ok := labelSynonyms[string(t)]; ok {
		return canonical
	}
	return t
}
