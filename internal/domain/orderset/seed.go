package orderset

import "context"

func strPtr(s string) *string { return &s }

func item(category, name, code string, required bool, order int) *OrderSetItem {
	return &OrderSetItem{TestCategory: category, TestName: name, TestCode: strPtr(code), IsRequired: required, DisplayOrder: order}
}

func withInstructions(it *OrderSetItem, text string) *OrderSetItem {
	it.Instructions = &text
	return it
}

type seedSet struct {
	slug string
	set  OrderSet
}

// ReferenceOrderSets is the built-in catalog loaded by SeedOrderSets. Ids
// are derived from the slugs.
func ReferenceOrderSets() []*OrderSet {
	seeds := []seedSet{
		{"preop-basic", OrderSet{
			Name:        "Preoperative Workup (Basic)",
			Category:    "PREOP",
			Description: "Standard preoperative investigations for low-risk surgery",
			Specialty:   strPtr("SURGERY"),
			Items: []*OrderSetItem{
				item("HEMATOLOGICAL", "Complete Blood Count (CBC)", "CBC", true, 1),
				item("BIOCHEMICAL", "Blood Glucose (Fasting)", "GLUC_FAST", true, 2),
				item("HEMATOLOGICAL", "PT/INR", "PT_INR", true, 3),
				item("BIOCHEMICAL", "Serum Creatinine", "CREAT", true, 4),
				withInstructions(item("RADIOLOGICAL", "Chest X-Ray (PA view)", "CXR_PA", false, 5),
					"Only if >50 years or cardiopulmonary disease"),
				withInstructions(item("BIOCHEMICAL", "ECG", "ECG", false, 6),
					"If >40 years or cardiac risk factors"),
			},
		}},
		{"diabetes-screening", OrderSet{
			Name:        "Diabetes Screening Panel",
			Category:    "SCREENING",
			Description: "Comprehensive diabetes screening and monitoring",
			Specialty:   strPtr("ENDOCRINOLOGY"),
			Items: []*OrderSetItem{
				item("BIOCHEMICAL", "HbA1c", "HBA1C", true, 1),
				item("BIOCHEMICAL", "Fasting Blood Glucose", "GLUC_FAST", true, 2),
				item("BIOCHEMICAL", "Lipid Panel", "LIPID", true, 3),
				item("BIOCHEMICAL", "Serum Creatinine & eGFR", "CREAT", true, 4),
				item("BIOCHEMICAL", "Urine Albumin/Creatinine Ratio", "UACR", true, 5),
			},
		}},
		{"cardiac-workup", OrderSet{
			Name:        "Cardiac Evaluation Package",
			Category:    "DIAGNOSTIC",
			Description: "Comprehensive cardiac assessment",
			Specialty:   strPtr("CARDIOLOGY"),
			Items: []*OrderSetItem{
				item("RADIOLOGICAL", "ECG (12-lead)", "ECG", true, 1),
				item("RADIOLOGICAL", "Chest X-Ray (PA & Lateral)", "CXR", true, 2),
				item("RADIOLOGICAL", "Echocardiogram", "ECHO", true, 3),
				item("BIOCHEMICAL", "Cardiac Markers (Troponin, CK-MB)", "CARDIAC_MARKERS", true, 4),
				item("BIOCHEMICAL", "BNP/NT-proBNP", "BNP", false, 5),
				item("BIOCHEMICAL", "Lipid Panel", "LIPID", true, 6),
			},
		}},
		{"anemia-workup", OrderSet{
			Name:        "Anemia Investigation",
			Category:    "DIAGNOSTIC",
			Description: "Comprehensive anemia workup",
			Items: []*OrderSetItem{
				item("HEMATOLOGICAL", "Complete Blood Count with Differential", "CBC_DIFF", true, 1),
				item("HEMATOLOGICAL", "Reticulocyte Count", "RETIC", true, 2),
				item("BIOCHEMICAL", "Serum Iron", "FE", true, 3),
				item("BIOCHEMICAL", "TIBC (Total Iron Binding Capacity)", "TIBC", true, 4),
				item("BIOCHEMICAL", "Ferritin", "FERRITIN", true, 5),
				item("BIOCHEMICAL", "Vitamin B12 & Folate", "B12_FOLATE", true, 6),
				item("HEMATOLOGICAL", "Peripheral Smear", "PBS", false, 7),
			},
		}},
		{"thyroid-panel", OrderSet{
			Name:        "Thyroid Function Panel",
			Category:    "SCREENING",
			Description: "Complete thyroid assessment",
			Specialty:   strPtr("ENDOCRINOLOGY"),
			Items: []*OrderSetItem{
				item("BIOCHEMICAL", "TSH", "TSH", true, 1),
				item("BIOCHEMICAL", "Free T4", "FT4", true, 2),
				item("BIOCHEMICAL", "Free T3", "FT3", false, 3),
				withInstructions(item("BIOCHEMICAL", "Anti-TPO Antibodies", "ANTI_TPO", false, 4),
					"If suspected autoimmune thyroid disease"),
			},
		}},
	}

	out := make([]*OrderSet, 0, len(seeds))
	for _, sd := range seeds {
		set := sd.set
		set.ID = SetKey(sd.slug)
		set.Slug = strPtr(sd.slug)
		set.CreatedBy = "system"
		set.IsPublic = true
		set.IsActive = true
		set.assignItemKeys()
		out = append(out, &set)
	}
	return out
}

// SeedOrderSets upserts the built-in sets. Re-running it keeps the catalog
// size, the items and the accumulated use counts unchanged.
func (s *Service) SeedOrderSets(ctx context.Context) (int, error) {
	sets := ReferenceOrderSets()
	for _, set := range sets {
		if err := s.repo.Upsert(ctx, set); err != nil {
			return 0, err
		}
	}
	s.logger.Info().Int("count", len(sets)).Msg("order sets seeded")
	return len(sets), nil
}
