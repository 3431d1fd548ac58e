package cds

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ehr/cdsengine/internal/platform/cdshooks"
	"github.com/ehr/cdsengine/internal/platform/db"
)

const (
	HookMedicationPrescribe = "medication-prescribe"
	MedicationReviewService = "cds-medication-review"
)

// HookService describes the medication review service for discovery.
func HookService() cdshooks.Service {
	return cdshooks.Service{
		ID:          MedicationReviewService,
		Hook:        HookMedicationPrescribe,
		Title:       "Medication review",
		Description: "Checks proposed medications for drug interactions, drug allergies and duplicate therapy.",
	}
}

// RegisterHooks adds the medication review service to h.
func (s *Service) RegisterHooks(h *cdshooks.Handler) {
	h.RegisterService(HookService(), s.HandleMedicationPrescribe)
}

// HandleMedicationPrescribe reads patientId and medications from the hook
// context and returns one card per advisory.
func (s *Service) HandleMedicationPrescribe(ctx context.Context, req cdshooks.Request) (*cdshooks.Response, error) {
	var meds []MedicationCandidate
	if err := req.DecodeContext("medications", &meds, true); err != nil {
		return nil, err
	}
	var rawPatient string
	if err := req.DecodeContext("patientId", &rawPatient, false); err != nil {
		return nil, err
	}
	var patientID *uuid.UUID
	if rawPatient != "" {
		id, err := uuid.Parse(rawPatient)
		if err != nil {
			return nil, cdshooks.BadRequest(fmt.Errorf("context.patientId: invalid id"))
		}
		patientID = &id
	}

	review, err := s.ReviewMedications(ctx, patientID, meds)
	if err != nil {
		if db.IsUnavailable(err) {
			return nil, err
		}
		return nil, cdshooks.BadRequest(err)
	}
	return &cdshooks.Response{Cards: ReviewCards(review)}, nil
}

// InteractionIndicator maps an interaction severity onto a card indicator.
func InteractionIndicator(sev Severity) string {
	switch sev {
	case SeverityContraindicated, SeveritySerious:
		return cdshooks.IndicatorCritical
	case SeverityMonitor:
		return cdshooks.IndicatorWarning
	default:
		return cdshooks.IndicatorInfo
	}
}

// ReviewCards renders a review as cards: interactions first, most severe
// first, then allergies, then duplicates.
func ReviewCards(r *MedicationReview) []cdshooks.Card {
	cards := []cdshooks.Card{}
	src := cdshooks.Source{Label: cdshooks.SourceLabel}
	for _, a := range r.Interactions {
		detail := a.ClinicalEffect + ". " + a.Recommendation
		if a.Mechanism != nil {
			detail = "Mechanism: " + *a.Mechanism + ". " + detail
		}
		cards = append(cards, cdshooks.Card{
			UUID:      uuid.New().String(),
			Summary:   fmt.Sprintf("%s interaction: %s + %s", a.Severity, a.Drug1, a.Drug2),
			Detail:    detail,
			Indicator: InteractionIndicator(a.Severity),
			Source:    src,
		})
	}
	for _, a := range r.Allergies {
		detail := "Severity: " + a.Severity
		if a.Reaction != nil {
			detail += ". Reaction: " + *a.Reaction
		}
		cards = append(cards, cdshooks.Card{
			UUID:      uuid.New().String(),
			Summary:   fmt.Sprintf("Allergy alert: %s (allergen %s)", a.Medication, a.Allergen),
			Detail:    detail,
			Indicator: cdshooks.IndicatorCritical,
			Source:    src,
		})
	}
	for _, w := range r.Duplicates {
		cards = append(cards, cdshooks.Card{
			UUID:      uuid.New().String(),
			Summary:   w,
			Indicator: cdshooks.IndicatorWarning,
			Source:    src,
		})
	}
	return cards
}
