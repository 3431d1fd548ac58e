package cds

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Severity ranks a drug interaction. Lower rank is more severe.
type Severity string

const (
	SeverityContraindicated Severity = "CONTRAINDICATED"
	SeveritySerious         Severity = "SERIOUS"
	SeverityMonitor         Severity = "MONITOR"
	SeverityMinor           Severity = "MINOR"
)

var severityRank = map[Severity]int{
	SeverityContraindicated: 0,
	SeveritySerious:         1,
	SeverityMonitor:         2,
	SeverityMinor:           3,
}

// Rank orders severities for sorting. Unknown values sort last.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return len(severityRank)
}

func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// AllergenTypeDrug is the only allergen type the allergy matcher consults.
const AllergenTypeDrug = "DRUG"

// MedicationCandidate is a medication proposed in an order. Not persisted.
type MedicationCandidate struct {
	Name        string `json:"name"`
	GenericName string `json:"generic_name,omitempty"`
}

// DrugInteraction maps to the drug_interaction table. Matching is symmetric:
// a candidate pair matches whichever drug slot each side lands in.
type DrugInteraction struct {
	ID             uuid.UUID `db:"id" json:"id"`
	Drug1Name      string    `db:"drug1_name" json:"drug1_name"`
	Drug1Generic   *string   `db:"drug1_generic" json:"drug1_generic,omitempty"`
	Drug2Name      string    `db:"drug2_name" json:"drug2_name"`
	Drug2Generic   *string   `db:"drug2_generic" json:"drug2_generic,omitempty"`
	Severity       Severity  `db:"severity" json:"severity"`
	Mechanism      *string   `db:"mechanism" json:"mechanism,omitempty"`
	ClinicalEffect string    `db:"clinical_effect" json:"clinical_effect"`
	Recommendation string    `db:"recommendation" json:"recommendation"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// InteractionQuery asks for records matching one candidate pair in either
// orientation. Blank generics take no part in matching.
type InteractionQuery struct {
	NameA    string
	GenericA string
	NameB    string
	GenericB string
}

// QueryFor builds the lookup for a candidate pair.
func QueryFor(a, b MedicationCandidate) InteractionQuery {
	return InteractionQuery{
		NameA:    strings.TrimSpace(a.Name),
		GenericA: strings.TrimSpace(a.GenericName),
		NameB:    strings.TrimSpace(b.Name),
		GenericB: strings.TrimSpace(b.GenericName),
	}
}

// containsFold reports whether field contains term, ignoring case. A blank
// term or nil field never matches.
func containsFold(field *string, term string) bool {
	if field == nil || term == "" {
		return false
	}
	return strings.Contains(strings.ToLower(*field), strings.ToLower(term))
}

func (d *DrugInteraction) slotMatches(name, generic *string, candName, candGeneric string) bool {
	return containsFold(name, candName) || containsFold(generic, candGeneric)
}

// MatchesPair reports whether the record matches q. It is the in-memory
// twin of the SQL predicate used by the Postgres repository.
func (d *DrugInteraction) MatchesPair(q InteractionQuery) bool {
	forward := d.slotMatches(&d.Drug1Name, d.Drug1Generic, q.NameA, q.GenericA) &&
		d.slotMatches(&d.Drug2Name, d.Drug2Generic, q.NameB, q.GenericB)
	reverse := d.slotMatches(&d.Drug1Name, d.Drug1Generic, q.NameB, q.GenericB) &&
		d.slotMatches(&d.Drug2Name, d.Drug2Generic, q.NameA, q.GenericA)
	return forward || reverse
}

// InteractionKey is the deterministic catalog id for a drug pair. The pair
// is order-insensitive.
func InteractionKey(drug1, drug2 string) uuid.UUID {
	a := strings.ToLower(strings.TrimSpace(drug1))
	b := strings.ToLower(strings.TrimSpace(drug2))
	if b < a {
		a, b = b, a
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("interaction:"+a+"|"+b))
}

// InteractionAlert is one matched interaction for a candidate pair. Drug1
// and Drug2 are the caller's input names in scan order.
type InteractionAlert struct {
	Severity       Severity `json:"severity"`
	Drug1          string   `json:"drug1"`
	Drug2          string   `json:"drug2"`
	ClinicalEffect string   `json:"clinical_effect"`
	Recommendation string   `json:"recommendation"`
	Mechanism      *string  `json:"mechanism,omitempty"`
}

// SortBySeverity orders alerts most severe first, keeping scan order for
// equal severities.
func SortBySeverity(alerts []InteractionAlert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].Severity.Rank() < alerts[j].Severity.Rank()
	})
}

// Allergy maps to the allergy table. Rows are created and deleted, never
// updated.
type Allergy struct {
	ID           uuid.UUID `db:"id" json:"id"`
	PatientID    uuid.UUID `db:"patient_id" json:"patient_id"`
	Allergen     string    `db:"allergen" json:"allergen"`
	AllergenType string    `db:"allergen_type" json:"allergen_type"`
	Severity     string    `db:"severity" json:"severity"`
	Reaction     *string   `db:"reaction" json:"reaction,omitempty"`
	VerifiedBy   *string   `db:"verified_by" json:"verified_by,omitempty"`
	NotedAt      time.Time `db:"noted_at" json:"noted_at"`
}

// Matches reports whether candidate conflicts with the allergy: the name
// contains the allergen, the allergen contains the name, or the generic
// name contains the allergen.
func (a *Allergy) Matches(c MedicationCandidate) bool {
	allergen := strings.ToLower(strings.TrimSpace(a.Allergen))
	if allergen == "" {
		return false
	}
	name := strings.ToLower(strings.TrimSpace(c.Name))
	generic := strings.ToLower(strings.TrimSpace(c.GenericName))
	return (name != "" && strings.Contains(name, allergen)) ||
		(name != "" && strings.Contains(allergen, name)) ||
		(generic != "" && strings.Contains(generic, allergen))
}

// AllergyAlert is one (candidate, allergy) conflict.
type AllergyAlert struct {
	Allergen   string  `json:"allergen"`
	Severity   string  `json:"severity"`
	Reaction   *string `json:"reaction,omitempty"`
	Medication string  `json:"medication"`
}

// MedicationReview bundles the three prescribing checks.
type MedicationReview struct {
	Interactions []InteractionAlert `json:"interactions"`
	Allergies    []AllergyAlert     `json:"allergies"`
	Duplicates   []string           `json:"duplicates"`
}

// HasAdvisories reports whether any check produced output.
func (r *MedicationReview) HasAdvisories() bool {
	return len(r.Interactions) > 0 || len(r.Allergies) > 0 || len(r.Duplicates) > 0
}
