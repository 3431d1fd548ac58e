package lab

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	FlagCritical = "CRITICAL"
	FlagHigh     = "HIGH"
	FlagLow      = "LOW"
	FlagNormal   = "NORMAL"
	FlagUnknown  = "UNKNOWN"
	FlagText     = "TEXT"

	AutoCriticalLow  = "AUTO_CRITICAL_LOW"
	AutoCriticalHigh = "AUTO_CRITICAL_HIGH"
	AutoLow          = "AUTO_LOW"
	AutoHigh         = "AUTO_HIGH"
	AutoNormal       = "AUTO_NORMAL"
	AutoNoRange      = "NO_RANGE"
	AutoNonNumeric   = "NON_NUMERIC"
)

// GenderAll marks a range that applies to every gender.
const GenderAll = "ALL"

// DeltaThresholdPercent is the change, in percent of the previous value,
// beyond which a result is delta-flagged.
const DeltaThresholdPercent = 20.0

// ReferenceRange maps to the reference_range table.
type ReferenceRange struct {
	ID           uuid.UUID `db:"id" json:"id"`
	TestCode     string    `db:"test_code" json:"test_code"`
	TestName     string    `db:"test_name" json:"test_name"`
	Gender       *string   `db:"gender" json:"gender,omitempty"`
	AgeMin       *int      `db:"age_min" json:"age_min,omitempty"`
	AgeMax       *int      `db:"age_max" json:"age_max,omitempty"`
	Unit         string    `db:"unit" json:"unit"`
	LowNormal    float64   `db:"low_normal" json:"low_normal"`
	HighNormal   float64   `db:"high_normal" json:"high_normal"`
	CriticalLow  *float64  `db:"critical_low" json:"critical_low,omitempty"`
	CriticalHigh *float64  `db:"critical_high" json:"critical_high,omitempty"`
	Source       *string   `db:"source" json:"source,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// NormalizeTestCode upper-cases and trims a test code.
func NormalizeTestCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (r *ReferenceRange) genderValue() string {
	if r.Gender == nil {
		return ""
	}
	return strings.ToUpper(strings.TrimSpace(*r.Gender))
}

// GenderSpecific reports whether the range names a single gender.
func (r *ReferenceRange) GenderSpecific() bool {
	g := r.genderValue()
	return g != "" && g != GenderAll
}

// Applies reports whether the range covers a patient of the given age and
// gender. A nil age passes any lower bound and any upper bound.
func (r *ReferenceRange) Applies(age *int, gender string) bool {
	if r.GenderSpecific() && r.genderValue() != strings.ToUpper(strings.TrimSpace(gender)) {
		return false
	}
	minAge, maxAge := 999, 0
	if age != nil {
		minAge, maxAge = *age, *age
	}
	if r.AgeMin != nil && *r.AgeMin > minAge {
		return false
	}
	if r.AgeMax != nil && *r.AgeMax < maxAge {
		return false
	}
	return true
}

// Specificity scores a range: +2 for a specific gender, +1 for any age bound.
func (r *ReferenceRange) Specificity() int {
	score := 0
	if r.GenderSpecific() {
		score += 2
	}
	if r.AgeMin != nil || r.AgeMax != nil {
		score++
	}
	return score
}

func (r *ReferenceRange) ageSpan() int {
	lo, hi := 0, math.MaxInt32
	if r.AgeMin != nil {
		lo = *r.AgeMin
	}
	if r.AgeMax != nil {
		hi = *r.AgeMax
	}
	return hi - lo
}

// ResolveRange picks the most specific range that applies to the patient.
// Ties go to the narrower age band, then to the lower id. Returns nil when
// nothing applies.
func ResolveRange(ranges []*ReferenceRange, age *int, gender string) *ReferenceRange {
	var candidates []*ReferenceRange
	for _, r := range ranges {
		if r.Applies(age, gender) {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if sa, sb := a.Specificity(), b.Specificity(); sa != sb {
			return sa > sb
		}
		if wa, wb := a.ageSpan(), b.ageSpan(); wa != wb {
			return wa < wb
		}
		return a.ID.String() < b.ID.String()
	})
	return candidates[0]
}

// RangeKey is the deterministic catalog id for a range, derived from test
// code, gender and lower age bound.
func RangeKey(testCode string, gender *string, ageMin *int) uuid.UUID {
	g := GenderAll
	if gender != nil && strings.TrimSpace(*gender) != "" {
		g = strings.ToUpper(strings.TrimSpace(*gender))
	}
	floor := 0
	if ageMin != nil {
		floor = *ageMin
	}
	return uuid.NewSHA1(uuid.NameSpaceOID,
		[]byte("range:"+NormalizeTestCode(testCode)+"|"+g+"|"+strconv.Itoa(floor)))
}

var numericPrefix = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?`)

// ParseNumeric reads the leading decimal number of a result value, so
// "5.2 H" is 5.2 while "<5" and "positive" are not numeric.
func ParseNumeric(value string) (float64, bool) {
	m := numericPrefix.FindString(strings.TrimLeft(value, " \t\r\n"))
	if m == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// FlagOutcome is the automatic interpretation of a single value.
type FlagOutcome struct {
	Flag          string `json:"flag"`
	FlagAutomated string `json:"flag_automated"`
}

// Evaluate flags value against r. Critical bounds are inclusive and are
// checked before the exclusive normal bounds.
func Evaluate(r *ReferenceRange, value string) FlagOutcome {
	if r == nil {
		return FlagOutcome{Flag: FlagUnknown, FlagAutomated: AutoNoRange}
	}
	v, ok := ParseNumeric(value)
	if !ok {
		return FlagOutcome{Flag: FlagText, FlagAutomated: AutoNonNumeric}
	}
	switch {
	case r.CriticalLow != nil && v <= *r.CriticalLow:
		return FlagOutcome{Flag: FlagCritical, FlagAutomated: AutoCriticalLow}
	case r.CriticalHigh != nil && v >= *r.CriticalHigh:
		return FlagOutcome{Flag: FlagCritical, FlagAutomated: AutoCriticalHigh}
	case v < r.LowNormal:
		return FlagOutcome{Flag: FlagLow, FlagAutomated: AutoLow}
	case v > r.HighNormal:
		return FlagOutcome{Flag: FlagHigh, FlagAutomated: AutoHigh}
	default:
		return FlagOutcome{Flag: FlagNormal, FlagAutomated: AutoNormal}
	}
}

// Delta compares a value with the patient's previous result for the test.
type Delta struct {
	DeltaFlag     bool     `json:"delta_flag"`
	PercentChange *float64 `json:"percent_change"`
	PreviousValue *string  `json:"previous_value"`
}

// ComputeDelta derives the delta for currentValue from the two most recent
// stored results, newest first. The second entry is the previous value.
func ComputeDelta(recent []*LabResult, currentValue string) Delta {
	if len(recent) < 2 {
		return Delta{}
	}
	prev := recent[1].Value
	d := Delta{PreviousValue: &prev}
	cur, ok := ParseNumeric(currentValue)
	if !ok {
		return d
	}
	p, ok := ParseNumeric(prev)
	if !ok || p == 0 {
		return d
	}
	pct := (cur - p) / math.Abs(p) * 100
	d.PercentChange = &pct
	d.DeltaFlag = math.Abs(pct) > DeltaThresholdPercent
	return d
}

// LabResult maps to the lab_result table. Results are appended, never
// edited; only the derived delta fields are filled in after insert.
type LabResult struct {
	ID                   uuid.UUID `db:"id" json:"id"`
	PatientID            uuid.UUID `db:"patient_id" json:"patient_id"`
	OrderID              *string   `db:"order_id" json:"order_id,omitempty"`
	TestCode             string    `db:"test_code" json:"test_code"`
	TestName             string    `db:"test_name" json:"test_name"`
	Value                string    `db:"value" json:"value"`
	Unit                 *string   `db:"unit" json:"unit,omitempty"`
	Flag                 string    `db:"flag" json:"flag"`
	FlagAutomated        string    `db:"flag_automated" json:"flag_automated"`
	DeltaFlag            bool      `db:"delta_flag" json:"delta_flag"`
	PercentChange        *float64  `db:"percent_change" json:"percent_change,omitempty"`
	PreviousValue        *string   `db:"previous_value" json:"previous_value,omitempty"`
	OrderingPractitioner *string   `db:"ordering_practitioner" json:"ordering_practitioner,omitempty"`
	TestedAt             time.Time `db:"tested_at" json:"tested_at"`
	CreatedAt            time.Time `db:"created_at" json:"created_at"`
}

// ApplyDelta copies d onto the result.
func (r *LabResult) ApplyDelta(d Delta) {
	r.DeltaFlag = d.DeltaFlag
	r.PercentChange = d.PercentChange
	r.PreviousValue = d.PreviousValue
}
