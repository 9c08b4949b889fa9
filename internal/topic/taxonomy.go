package topic

import "strings"

// Topic type taxonomy (closed set).
const (
	TypeDisease        = "Disease"
	TypeDisorder       = "Disorder"
	TypeSyndrome       = "Syndrome"
	TypeSymptom        = "Symptom"
	TypeDrug           = "Drug"
	TypeProcedure      = "Procedure"
	TypeDiagnosticTest = "Diagnostic Test"
	TypeVaccine        = "Vaccine"
	TypeAnatomy        = "Anatomy"
	TypeNutrient       = "Nutrient"
	TypeMentalHealth   = "Mental Health"
	TypeLifestyle      = "Lifestyle"

	// TypeNonMedical marks a subject judged outside the medical domain.
	TypeNonMedical = "Non-Medical"
	// TypeOther is the sentinel for "could not be classified".
	TypeOther = "Other"
)

// ValidTypes is the closed set of topic types the classifier may return.
// Anything else is discarded.
var ValidTypes = map[string]bool{
	TypeDisease:        true,
	TypeDisorder:       true,
	TypeSyndrome:       true,
	TypeSymptom:        true,
	TypeDrug:           true,
	TypeProcedure:      true,
	TypeDiagnosticTest: true,
	TypeVaccine:        true,
	TypeAnatomy:        true,
	TypeNutrient:       true,
	TypeMentalHealth:   true,
	TypeLifestyle:      true,
}

// ValidCategories is the closed category taxonomy, loosely modelled on
// ICD-10 chapters.
var ValidCategories = map[string]bool{
	"Infectious & Parasitic Diseases":      true,
	"Neoplasms":                            true,
	"Blood & Immune System":                true,
	"Endocrine, Nutritional & Metabolic":   true,
	"Mental & Behavioral":                  true,
	"Nervous System":                       true,
	"Eye & Ear":                            true,
	"Circulatory System":                   true,
	"Respiratory System":                   true,
	"Digestive System":                     true,
	"Skin & Subcutaneous Tissue":           true,
	"Musculoskeletal & Connective Tissue":  true,
	"Genitourinary System":                 true,
	"Pregnancy & Childbirth":               true,
	"Perinatal & Congenital":               true,
	"Symptoms & Signs":                     true,
	"Injury & Poisoning":                   true,
	"External Causes & Factors":            true,
	"Preventive Care & Screening":          true,
	"Drugs & Medications":                  true,
	"Medical Procedures & Interventions":   true,
	"Diagnostic & Laboratory":              true,
	"Nutrition & Dietary":                  true,
	"Health & Wellness":                    true,
}

// MandatoryCategories maps topic types to the single category they must be
// filed under. A classifier response violating this table is discarded.
var MandatoryCategories = map[string]string{
	TypeDrug:           "Drugs & Medications",
	TypeProcedure:      "Medical Procedures & Interventions",
	TypeDiagnosticTest: "Diagnostic & Laboratory",
	TypeVaccine:        "Preventive Care & Screening",
	TypeNutrient:       "Nutrition & Dietary",
	TypeLifestyle:      "Health & Wellness",
	TypeMentalHealth:   "Mental & Behavioral",
}

// filteredTypes are excluded from structured extraction entirely. These are
// either rejects (Non-Medical, Other) or types whose provider pages carry too
// little extractable structure to be worth classifier spend.
var filteredTypes = map[string]bool{
	TypeNonMedical:     true,
	TypeOther:          true,
	TypeAnatomy:        true,
	TypeDrug:           true,
	TypeProcedure:      true,
	TypeDiagnosticTest: true,
	TypeVaccine:        true,
	TypeNutrient:       true,
	TypeLifestyle:      true,
}

// ShouldProcess reports whether topics of the given type go through
// structured extraction. An empty type is processed (legacy records).
func ShouldProcess(topicType string) bool {
	if strings.TrimSpace(topicType) == "" {
		return true
	}
	return !filteredTypes[canonicalType(topicType)]
}

// ValidCategoryForType reports whether category is acceptable for a topic of
// the given type under the mandatory mapping table.
func ValidCategoryForType(topicType, category string) bool {
	required, ok := MandatoryCategories[canonicalType(topicType)]
	if !ok {
		return true
	}
	return strings.EqualFold(category, required)
}

// SeenStatusFor maps a classified type to its ledger triage status.
func SeenStatusFor(topicType string) string {
	switch canonicalType(topicType) {
	case TypeNonMedical:
		return SeenNonMedical
	case TypeOther:
		return SeenUnclassifiable
	default:
		return SeenAccepted
	}
}

// canonicalType resolves a case-insensitive type spelling to its canonical
// form, so lookups into the policy tables work on raw classifier output.
func canonicalType(topicType string) string {
	for t := range ValidTypes {
		if strings.EqualFold(t, topicType) {
			return t
		}
	}
	if strings.EqualFold(topicType, TypeNonMedical) {
		return TypeNonMedical
	}
	if strings.EqualFold(topicType, TypeOther) {
		return TypeOther
	}
	return topicType
}
