package safety

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ehr/cdsengine/internal/domain/patient"
)

const (
	SeverityBlocking = "BLOCKING"
	SeverityWarning  = "WARNING"
	SeverityInfo     = "INFO"
)

const (
	CheckMRIPacemaker       = "MRI_PACEMAKER"
	CheckMRIMetal           = "MRI_METAL"
	CheckContrastAllergy    = "CONTRAST_ALLERGY"
	CheckContrastRenal      = "CONTRAST_RENAL"
	CheckContrastNoRenal    = "CONTRAST_NO_RENAL"
	CheckRadiationPregnancy = "RADIATION_PREGNANCY"
	CheckPregnancyUnknown   = "PREGNANCY_UNKNOWN"
)

// Childbearing age window, inclusive, for the pregnancy status check.
const (
	childbearingMin = 12
	childbearingMax = 55
)

var radiationModalities = []string{"X-Ray", "CT", "Fluoroscopy", "Nuclear Medicine"}

// Investigation is one test selected on an order.
type Investigation struct {
	Category     string `json:"category,omitempty"`
	TestName     string `json:"test_name"`
	TestType     string `json:"test_type,omitempty"`
	WithContrast bool   `json:"with_contrast,omitempty"`
}

func (i Investigation) IsMRI() bool {
	return i.TestType == "MRI" || strings.Contains(i.TestName, "MRI")
}

func (i Investigation) IsContrast() bool {
	return i.WithContrast || strings.Contains(strings.ToLower(i.TestName), "contrast")
}

func (i Investigation) IsRadiation() bool {
	for _, m := range radiationModalities {
		if strings.Contains(i.TestName, m) || i.TestType == m {
			return true
		}
	}
	return false
}

// SafetyCheck is a single screening finding.
type SafetyCheck struct {
	Type           string `json:"type"`
	Severity       string `json:"severity"`
	Message        string `json:"message"`
	Recommendation string `json:"recommendation"`
	Acknowledged   bool   `json:"acknowledged"`
}

// Subject is what the rules know about the patient.
type Subject struct {
	Profile *patient.SafetyProfile
	Age     *int
	Gender  string
}

type rule struct {
	checkType string
	severity  string
	selects   func(Investigation) bool
	fires     func(Subject) bool
	message   func(Subject) string
	recommend func(Subject) string
}

func fixed(s string) func(Subject) string { return func(Subject) string { return s } }

func orDefault(s *string, def string) string {
	if s == nil || *s == "" {
		return def
	}
	return *s
}

// rules is evaluated in order; each entry yields at most one check.
var rules = []rule{
	{
		checkType: CheckMRIPacemaker,
		severity:  SeverityBlocking,
		selects:   Investigation.IsMRI,
		fires:     func(s Subject) bool { return s.Profile.HasPacemaker },
		message:   fixed("MRI CONTRAINDICATED: Patient has pacemaker"),
		recommend: fixed("MRI is absolutely contraindicated. Consider alternative imaging (CT, Ultrasound)."),
	},
	{
		checkType: CheckMRIMetal,
		severity:  SeverityWarning,
		selects:   Investigation.IsMRI,
		fires:     func(s Subject) bool { return s.Profile.HasMetalImplants },
		message:   fixed("MRI WARNING: Patient has metal implants"),
		recommend: func(s Subject) string {
			return fmt.Sprintf("Verify implant type is MRI-safe. Details: %s. May need radiologist approval.",
				orDefault(s.Profile.MetalImplantDetails, "Not specified"))
		},
	},
	{
		checkType: CheckContrastAllergy,
		severity:  SeverityBlocking,
		selects:   Investigation.IsContrast,
		fires:     func(s Subject) bool { return s.Profile.HasContrastAllergy },
		message: func(s Subject) string {
			return "CONTRAST ALLERGY: Patient allergic to " + orDefault(s.Profile.ContrastAllergyType, "contrast media")
		},
		recommend: func(s Subject) string {
			return fmt.Sprintf("Previous reaction: %s. Use alternative imaging or premedicate with steroids/antihistamines if absolutely necessary.",
				orDefault(s.Profile.ContrastAllergyDetails, "Not specified"))
		},
	},
	{
		checkType: CheckContrastRenal,
		severity:  SeverityWarning,
		selects:   Investigation.IsContrast,
		fires:     func(s Subject) bool { return s.Profile.HasRenalImpairment },
		message:   fixed("RENAL IMPAIRMENT: Risk of contrast-induced nephropathy"),
		recommend: func(s Subject) string {
			egfr := "Unknown"
			if s.Profile.LastEGFR != nil {
				egfr = strconv.FormatFloat(*s.Profile.LastEGFR, 'f', -1, 64)
			}
			return fmt.Sprintf("eGFR: %s. Hydrate patient before/after. Consider alternative imaging if eGFR <30.", egfr)
		},
	},
	{
		checkType: CheckContrastNoRenal,
		severity:  SeverityInfo,
		selects:   Investigation.IsContrast,
		fires: func(s Subject) bool {
			return !s.Profile.HasRenalImpairment && !s.Profile.HasRenalResults()
		},
		message:   fixed("No recent renal function test"),
		recommend: fixed("Consider ordering serum creatinine/eGFR before contrast study."),
	},
	{
		checkType: CheckRadiationPregnancy,
		severity:  SeverityBlocking,
		selects:   Investigation.IsRadiation,
		fires: func(s Subject) bool {
			return s.Profile.IsPregnant != nil && *s.Profile.IsPregnant
		},
		message:   fixed("PREGNANT PATIENT: Radiation exposure risk to fetus"),
		recommend: fixed("Avoid radiation if possible. Use ultrasound or MRI instead. If essential, use lead shielding and inform radiologist."),
	},
	{
		checkType: CheckPregnancyUnknown,
		severity:  SeverityWarning,
		selects:   Investigation.IsRadiation,
		fires: func(s Subject) bool {
			return s.Gender == patient.GenderFemale && s.Age != nil &&
				*s.Age >= childbearingMin && *s.Age <= childbearingMax &&
				s.Profile.IsPregnant == nil
		},
		message:   fixed("Pregnancy status unknown for woman of childbearing age"),
		recommend: fixed("Verify pregnancy status before radiation exposure. Consider pregnancy test if LMP >4 weeks ago."),
	},
}

// Evaluate runs the rule table over the selected tests. A rule fires at most
// once however many tests select it. A nil profile is treated as empty.
func Evaluate(tests []Investigation, subject Subject) []SafetyCheck {
	if subject.Profile == nil {
		subject.Profile = &patient.SafetyProfile{}
	}
	subject.Gender = patient.NormalizeGender(subject.Gender)

	checks := []SafetyCheck{}
	for _, r := range rules {
		selected := false
		for _, t := range tests {
			if r.selects(t) {
				selected = true
				break
			}
		}
		if !selected || !r.fires(subject) {
			continue
		}
		checks = append(checks, SafetyCheck{
			Type:           r.checkType,
			Severity:       r.severity,
			Message:        r.message(subject),
			Recommendation: r.recommend(subject),
		})
	}
	return checks
}

// Screening is the outcome of screening one order.
type Screening struct {
	Checks        []SafetyCheck `json:"checks"`
	SafeToProceed bool          `json:"safe_to_proceed"`
}

func NewScreening(checks []SafetyCheck) *Screening {
	s := &Screening{Checks: checks}
	s.SafeToProceed = !s.HasBlocking()
	return s
}

func (s *Screening) HasBlocking() bool {
	for _, c := range s.Checks {
		if c.Severity == SeverityBlocking {
			return true
		}
	}
	return false
}

// Acknowledge marks the WARNING and INFO checks of the given types as seen by
// the caller. Blocking checks cannot be acknowledged; types that did not fire
// are ignored.
func (s *Screening) Acknowledge(types []string) error {
	want := make(map[string]bool, len(types))
	for _, t := range types {
		want[strings.ToUpper(strings.TrimSpace(t))] = true
	}
	for _, c := range s.Checks {
		if want[c.Type] && c.Severity == SeverityBlocking {
			return fmt.Errorf("blocking check %s cannot be acknowledged", c.Type)
		}
	}
	for i := range s.Checks {
		if want[s.Checks[i].Type] {
			s.Checks[i].Acknowledged = true
		}
	}
	s.SafeToProceed = !s.HasBlocking()
	return nil
}
