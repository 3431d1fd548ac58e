package lab

import (
	"math"
	"testing"

	"github.com/google/uuid"
)

func ageOf(n int) *int { return &n }

func TestResolveRange_PrefersGenderSpecific(t *testing.T) {
	male := &ReferenceRange{ID: uuid.New(), TestCode: "HB", Gender: strPtr("MALE"), AgeMin: intPtr(18)}
	all := &ReferenceRange{ID: uuid.New(), TestCode: "HB", Gender: strPtr("ALL")}

	got := ResolveRange([]*ReferenceRange{all, male}, ageOf(30), "male")
	if got != male {
		t.Fatalf("expected MALE range, got %+v", got)
	}
	if male.Specificity() != 3 || all.Specificity() != 0 {
		t.Errorf("unexpected scores %d / %d", male.Specificity(), all.Specificity())
	}
}

func TestResolveRange_Filters(t *testing.T) {
	adultMale := &ReferenceRange{ID: uuid.New(), Gender: strPtr("MALE"), AgeMin: intPtr(18)}
	child := &ReferenceRange{ID: uuid.New(), AgeMax: intPtr(17)}
	general := &ReferenceRange{ID: uuid.New()}
	ranges := []*ReferenceRange{adultMale, child, general}

	tests := []struct {
		name   string
		age    *int
		gender string
		want   *ReferenceRange
	}{
		{"adult male", ageOf(40), "MALE", adultMale},
		{"adult female falls back", ageOf(40), "FEMALE", general},
		{"child", ageOf(10), "MALE", child},
		{"unknown gender ignores gendered", ageOf(40), "", general},
		{"unknown age passes both bounds", nil, "MALE", adultMale},
		{"newborn is a real age", ageOf(0), "FEMALE", child},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveRange(ranges, tt.age, tt.gender); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want.ID, got)
			}
		})
	}
}

func TestResolveRange_NoMatch(t *testing.T) {
	female := &ReferenceRange{ID: uuid.New(), Gender: strPtr("FEMALE")}
	if got := ResolveRange([]*ReferenceRange{female}, ageOf(30), "MALE"); got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
	if got := ResolveRange(nil, nil, ""); got != nil {
		t.Errorf("expected nil for empty catalog, got %+v", got)
	}
}

func TestResolveRange_TieBreak(t *testing.T) {
	wide := &ReferenceRange{ID: uuid.MustParse("00000000-0000-0000-0000-000000000001"), AgeMin: intPtr(0), AgeMax: intPtr(120)}
	narrow := &ReferenceRange{ID: uuid.MustParse("00000000-0000-0000-0000-000000000002"), AgeMin: intPtr(18), AgeMax: intPtr(65)}
	twin := &ReferenceRange{ID: uuid.MustParse("00000000-0000-0000-0000-000000000003"), AgeMin: intPtr(18), AgeMax: intPtr(65)}

	for i := 0; i < 3; i++ {
		got := ResolveRange([]*ReferenceRange{twin, wide, narrow}, ageOf(30), "")
		if got != narrow {
			t.Fatalf("expected narrowest band with lowest id, got %v", got.ID)
		}
	}
}

func TestEvaluate_Boundaries(t *testing.T) {
	r := &ReferenceRange{LowNormal: 3.5, HighNormal: 5.0, CriticalLow: floatPtr(2.5), CriticalHigh: floatPtr(6.5)}
	tests := []struct {
		value string
		flag  string
		auto  string
	}{
		{"2.5", FlagCritical, AutoCriticalLow},
		{"2.0", FlagCritical, AutoCriticalLow},
		{"6.5", FlagCritical, AutoCriticalHigh},
		{"3.4", FlagLow, AutoLow},
		{"3.5", FlagNormal, AutoNormal},
		{"5.0", FlagNormal, AutoNormal},
		{"5.1", FlagHigh, AutoHigh},
		{"4.2 mEq/L", FlagNormal, AutoNormal},
		{"hemolysed", FlagText, AutoNonNumeric},
		{"<5", FlagText, AutoNonNumeric},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got := Evaluate(r, tt.value)
			if got.Flag != tt.flag || got.FlagAutomated != tt.auto {
				t.Errorf("expected %s/%s, got %s/%s", tt.flag, tt.auto, got.Flag, got.FlagAutomated)
			}
		})
	}
}

func TestEvaluate_NoRange(t *testing.T) {
	got := Evaluate(nil, "5")
	if got.Flag != FlagUnknown || got.FlagAutomated != AutoNoRange {
		t.Errorf("unexpected outcome %+v", got)
	}
}

func TestEvaluate_NoCriticalBounds(t *testing.T) {
	r := &ReferenceRange{LowNormal: 0.7, HighNormal: 1.3, CriticalHigh: floatPtr(10)}
	if got := Evaluate(r, "0.1"); got.Flag != FlagLow {
		t.Errorf("expected LOW without a critical low bound, got %s", got.Flag)
	}
}

func TestParseNumeric(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"5.2", 5.2, true},
		{"  5.2 H", 5.2, true},
		{"-1.5", -1.5, true},
		{".5", 0.5, true},
		{"1e3", 1000, true},
		{"<5", 0, false},
		{"positive", 0, false},
		{"NaN", 0, false},
		{"Inf", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseNumeric(tt.in)
			if ok != tt.ok || (ok && math.Abs(got-tt.want) > 1e-9) {
				t.Errorf("ParseNumeric(%q) = %v, %v", tt.in, got, ok)
			}
		})
	}
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func results(values ...string) []*LabResult {
	out := make([]*LabResult, len(values))
	for i, v := range values {
		out[i] = &LabResult{Value: v}
	}
	return out
}

func TestComputeDelta(t *testing.T) {
	d := ComputeDelta(results("100", "80"), "100")
	if !d.DeltaFlag || d.PercentChange == nil || !near(*d.PercentChange, 25) {
		t.Fatalf("expected flagged 25%% change, got %+v", d)
	}
	if *d.PreviousValue != "80" {
		t.Errorf("expected previous 80, got %s", *d.PreviousValue)
	}

	d = ComputeDelta(results("100", "100"), "120")
	if d.DeltaFlag || !near(*d.PercentChange, 20) {
		t.Errorf("expected exactly 20%% to stay unflagged, got %+v", d)
	}

	d = ComputeDelta(results("10", "10"), "7")
	if !d.DeltaFlag || !near(*d.PercentChange, -30) {
		t.Errorf("expected flagged drop, got %+v", d)
	}
}

func TestComputeDelta_ShortCircuits(t *testing.T) {
	if d := ComputeDelta(results("100"), "200"); d.DeltaFlag || d.PercentChange != nil || d.PreviousValue != nil {
		t.Errorf("expected empty delta with one stored result, got %+v", d)
	}
	for name, d := range map[string]Delta{
		"zero previous":       ComputeDelta(results("5", "0"), "5"),
		"text previous":       ComputeDelta(results("5", "trace"), "5"),
		"text current":        ComputeDelta(results("5", "4"), "pending"),
		"negative unaffected": ComputeDelta(results("-5", "-5"), "-5.5"),
	} {
		if name == "negative unaffected" {
			if d.DeltaFlag || d.PercentChange == nil {
				t.Errorf("%s: unexpected %+v", name, d)
			}
			continue
		}
		if d.DeltaFlag || d.PercentChange != nil || d.PreviousValue == nil {
			t.Errorf("%s: expected previous value only, got %+v", name, d)
		}
	}
}

func TestRangeKey(t *testing.T) {
	if RangeKey("hb", strPtr("male"), intPtr(18)) != RangeKey("HB", strPtr("MALE"), intPtr(18)) {
		t.Error("expected key to ignore case")
	}
	if RangeKey("K", nil, nil) != RangeKey("K", strPtr("ALL"), intPtr(0)) {
		t.Error("expected missing gender and age floor to key as ALL/0")
	}
	if RangeKey("HB", strPtr("MALE"), intPtr(18)) == RangeKey("HB", strPtr("FEMALE"), intPtr(18)) {
		t.Error("expected gender to change the key")
	}
}
