package lab

import "context"

func strPtr(s string) *string     { return &s }
func intPtr(i int) *int           { return &i }
func floatPtr(f float64) *float64 { return &f }

// ReferenceRanges is the built-in range catalog loaded by
// SeedReferenceRanges.
func ReferenceRanges() []*ReferenceRange {
	return []*ReferenceRange{
		{
			TestCode: "HB", TestName: "Hemoglobin", Gender: strPtr("MALE"), AgeMin: intPtr(18),
			Unit: "g/dL", LowNormal: 13.5, HighNormal: 17.5,
			CriticalLow: floatPtr(7.0), CriticalHigh: floatPtr(20.0), Source: strPtr("WHO Guidelines"),
		},
		{
			TestCode: "HB", TestName: "Hemoglobin", Gender: strPtr("FEMALE"), AgeMin: intPtr(18),
			Unit: "g/dL", LowNormal: 12.0, HighNormal: 15.5,
			CriticalLow: floatPtr(7.0), CriticalHigh: floatPtr(20.0), Source: strPtr("WHO Guidelines"),
		},
		{
			TestCode: "GLUC_FAST", TestName: "Fasting Blood Glucose", Gender: strPtr(GenderAll),
			Unit: "mg/dL", LowNormal: 70, HighNormal: 100,
			CriticalLow: floatPtr(40), CriticalHigh: floatPtr(400), Source: strPtr("ADA 2024"),
		},
		{
			TestCode: "CREAT", TestName: "Serum Creatinine", Gender: strPtr("MALE"), AgeMin: intPtr(18),
			Unit: "mg/dL", LowNormal: 0.7, HighNormal: 1.3,
			CriticalHigh: floatPtr(10.0), Source: strPtr("KDIGO"),
		},
		{
			TestCode: "CREAT", TestName: "Serum Creatinine", Gender: strPtr("FEMALE"), AgeMin: intPtr(18),
			Unit: "mg/dL", LowNormal: 0.6, HighNormal: 1.1,
			CriticalHigh: floatPtr(10.0), Source: strPtr("KDIGO"),
		},
		{
			TestCode: "K", TestName: "Potassium", Gender: strPtr(GenderAll),
			Unit: "mEq/L", LowNormal: 3.5, HighNormal: 5.0,
			CriticalLow: floatPtr(2.5), CriticalHigh: floatPtr(6.5), Source: strPtr("CAP"),
		},
		{
			TestCode: "NA", TestName: "Sodium", Gender: strPtr(GenderAll),
			Unit: "mEq/L", LowNormal: 136, HighNormal: 145,
			CriticalLow: floatPtr(120), CriticalHigh: floatPtr(160), Source: strPtr("CAP"),
		},
	}
}

// SeedReferenceRanges upserts the built-in ranges under their deterministic
// keys, so repeated runs leave the catalog size unchanged.
func (s *Service) SeedReferenceRanges(ctx context.Context) (int, error) {
	items := ReferenceRanges()
	for _, r := range items {
		if err := s.UpsertReferenceRange(ctx, r); err != nil {
			return 0, err
		}
	}
	s.logger.Info().Int("count", len(items)).Msg("reference ranges seeded")
	return len(items), nil
}
