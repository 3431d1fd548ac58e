package cds

import "context"

func strPtr(s string) *string { return &s }

// ReferenceInteractions is the built-in interaction catalog loaded by
// SeedInteractions.
func ReferenceInteractions() []*DrugInteraction {
	return []*DrugInteraction{
		{
			Drug1Name:      "Warfarin",
			Drug2Name:      "Aspirin",
			Severity:       SeveritySerious,
			Mechanism:      strPtr("Pharmacodynamic synergism"),
			ClinicalEffect: "Increased risk of bleeding",
			Recommendation: "Monitor INR closely. Consider alternative antiplatelet if possible.",
		},
		{
			Drug1Name:      "Simvastatin",
			Drug2Name:      "Clarithromycin",
			Severity:       SeverityContraindicated,
			Mechanism:      strPtr("CYP3A4 inhibition"),
			ClinicalEffect: "Increased simvastatin levels, risk of rhabdomyolysis",
			Recommendation: "Avoid combination. Suspend statin during macrolide therapy.",
		},
		{
			Drug1Name:      "Metformin",
			Drug2Name:      "Contrast Media",
			Severity:       SeveritySerious,
			Mechanism:      strPtr("Renal excretion impairment"),
			ClinicalEffect: "Risk of lactic acidosis if renal function compromised",
			Recommendation: "Hold metformin 48 hours before and after contrast. Check renal function.",
		},
		{
			Drug1Name:      "ACE Inhibitors",
			Drug1Generic:   strPtr("Lisinopril"),
			Drug2Name:      "Spironolactone",
			Severity:       SeverityMonitor,
			Mechanism:      strPtr("Additive hyperkalemia"),
			ClinicalEffect: "Risk of elevated potassium levels",
			Recommendation: "Monitor serum potassium regularly.",
		},
		{
			Drug1Name:      "SSRIs",
			Drug1Generic:   strPtr("Fluoxetine"),
			Drug2Name:      "NSAIDs",
			Drug2Generic:   strPtr("Ibuprofen"),
			Severity:       SeverityMonitor,
			Mechanism:      strPtr("Pharmacodynamic"),
			ClinicalEffect: "Increased risk of GI bleeding",
			Recommendation: "Consider PPI for gastroprotection. Monitor for GI symptoms.",
		},
	}
}

// SeedInteractions upserts the reference interactions. Running it again
// updates the same rows, so the catalog size does not change.
func (s *Service) SeedInteractions(ctx context.Context) (int, error) {
	items := ReferenceInteractions()
	for _, d := range items {
		if err := s.UpsertInteraction(ctx, d); err != nil {
			return 0, err
		}
	}
	s.logger.Info().Int("count", len(items)).Msg("drug interactions seeded")
	return len(items), nil
}
