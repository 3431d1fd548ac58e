package patient

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	GenderMale    = "MALE"
	GenderFemale  = "FEMALE"
	GenderOther   = "OTHER"
	GenderUnknown = "UNKNOWN"
)

// NormalizeGender upper-cases and trims g. Blank stays blank.
func NormalizeGender(g string) string {
	return strings.ToUpper(strings.TrimSpace(g))
}

// Demographics maps to the patient_demographics table. The registration
// workflow owns these rows; this service only reads and mirrors them.
type Demographics struct {
	PatientID   uuid.UUID  `db:"patient_id" json:"patient_id"`
	Gender      *string    `db:"gender" json:"gender,omitempty"`
	DateOfBirth *time.Time `db:"date_of_birth" json:"date_of_birth,omitempty"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// AgeAt returns whole years of age at t, or nil when the date of birth is
// unknown or after t.
func (d *Demographics) AgeAt(t time.Time) *int {
	if d == nil || d.DateOfBirth == nil {
		return nil
	}
	dob := d.DateOfBirth.UTC()
	t = t.UTC()
	if t.Before(dob) {
		return nil
	}
	age := t.Year() - dob.Year()
	if t.Month() < dob.Month() || (t.Month() == dob.Month() && t.Day() < dob.Day()) {
		age--
	}
	return &age
}

// GenderValue returns the normalized gender or "" when unknown.
func (d *Demographics) GenderValue() string {
	if d == nil || d.Gender == nil {
		return ""
	}
	return NormalizeGender(*d.Gender)
}

// SafetyProfile maps to the patient_safety_profile table. IsPregnant is
// tri-state: nil means the status has not been recorded.
type SafetyProfile struct {
	PatientID              uuid.UUID `db:"patient_id" json:"patient_id"`
	HasPacemaker           bool      `db:"has_pacemaker" json:"has_pacemaker"`
	HasMetalImplants       bool      `db:"has_metal_implants" json:"has_metal_implants"`
	MetalImplantDetails    *string   `db:"metal_implant_details" json:"metal_implant_details,omitempty"`
	HasContrastAllergy     bool      `db:"has_contrast_allergy" json:"has_contrast_allergy"`
	ContrastAllergyType    *string   `db:"contrast_allergy_type" json:"contrast_allergy_type,omitempty"`
	ContrastAllergyDetails *string   `db:"contrast_allergy_details" json:"contrast_allergy_details,omitempty"`
	HasRenalImpairment     bool      `db:"has_renal_impairment" json:"has_renal_impairment"`
	LastEGFR               *float64  `db:"last_egfr" json:"last_egfr,omitempty"`
	LastCreatinine         *float64  `db:"last_creatinine" json:"last_creatinine,omitempty"`
	IsPregnant             *bool     `db:"is_pregnant" json:"is_pregnant,omitempty"`
	UpdatedAt              time.Time `db:"updated_at" json:"updated_at"`
}

// HasRenalResults reports whether any renal function value is on file.
func (p *SafetyProfile) HasRenalResults() bool {
	return p.LastEGFR != nil || p.LastCreatinine != nil
}
