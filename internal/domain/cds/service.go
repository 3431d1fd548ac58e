package cds

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/cdsengine/internal/platform/db"
	"github.com/ehr/cdsengine/internal/platform/metrics"
)

const (
	defaultConcurrency = 8
	defaultPortTimeout = 5 * time.Second
)

type Service struct {
	interactions InteractionRepository
	allergies    AllergyRepository
	logger       zerolog.Logger
	metrics      *metrics.Recorder
	concurrency  int
	portTimeout  time.Duration
}

func NewService(interactions InteractionRepository, allergies AllergyRepository, logger zerolog.Logger) *Service {
	return &Service{
		interactions: interactions,
		allergies:    allergies,
		logger:       logger.With().Str("component", "cds").Logger(),
		concurrency:  defaultConcurrency,
		portTimeout:  defaultPortTimeout,
	}
}

func (s *Service) SetMetrics(m *metrics.Recorder) { s.metrics = m }

// SetLimits bounds the interaction batches run in parallel when no tenant
// connection is pinned, and the time allowed for each reference data call.
// Non-positive values keep the defaults.
func (s *Service) SetLimits(concurrency int, portTimeout time.Duration) {
	if concurrency > 0 {
		s.concurrency = concurrency
	}
	if portTimeout > 0 {
		s.portTimeout = portTimeout
	}
}

func validateCandidates(candidates []MedicationCandidate) error {
	for i, c := range candidates {
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("medications[%d].name is required", i)
		}
	}
	return nil
}

// -- Interaction Matcher --

// CheckInteractions looks up every unordered candidate pair and returns the
// matched interactions, most severe first, in pair-scan order within a
// severity. Pair lookups are batched. On a pinned tenant connection the
// whole scan is one batch. Otherwise it is split into up to concurrency
// batches that run in parallel.
func (s *Service) CheckInteractions(ctx context.Context, candidates []MedicationCandidate) (alerts []InteractionAlert, err error) {
	defer func() {
		s.metrics.Check(metrics.CheckInteractions, metrics.Outcome(len(alerts), err))
		for _, a := range alerts {
			s.metrics.Advisory(metrics.CheckInteractions, string(a.Severity))
		}
	}()

	if len(candidates) < 2 {
		return []InteractionAlert{}, nil
	}
	if err := validateCandidates(candidates); err != nil {
		return nil, err
	}

	type pair struct{ a, b MedicationCandidate }
	var (
		pairs   []pair
		queries []InteractionQuery
	)
	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			pairs = append(pairs, pair{candidates[i], candidates[j]})
			queries = append(queries, QueryFor(candidates[i], candidates[j]))
		}
	}

	limit := db.FanOutLimit(ctx, s.concurrency)
	size := (len(queries) + limit - 1) / limit
	perPair := make([][]*DrugInteraction, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for start := 0; start < len(queries); start += size {
		start, end := start, min(start+size, len(queries))
		g.Go(func() error {
			found, err := s.findInteractions(gctx, queries[start:end])
			if err != nil {
				return err
			}
			copy(perPair[start:end], found)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Error().Err(err).Str("check", metrics.CheckInteractions).Int("candidates", len(candidates)).
			Msg("interaction lookup failed")
		return nil, err
	}

	alerts = []InteractionAlert{}
	for k, records := range perPair {
		p := pairs[k]
		for _, rec := range records {
			alerts = append(alerts, InteractionAlert{
				Severity:       rec.Severity,
				Drug1:          p.a.Name,
				Drug2:          p.b.Name,
				ClinicalEffect: rec.ClinicalEffect,
				Recommendation: rec.Recommendation,
				Mechanism:      rec.Mechanism,
			})
		}
	}
	SortBySeverity(alerts)
	return alerts, nil
}

func (s *Service) findInteractions(ctx context.Context, qs []InteractionQuery) ([][]*DrugInteraction, error) {
	ctx, cancel := context.WithTimeout(ctx, s.portTimeout)
	defer cancel()
	defer s.metrics.ObservePort("find_interactions", time.Now())
	found, err := s.interactions.FindInteractions(ctx, qs)
	if err != nil {
		return nil, err
	}
	if len(found) != len(qs) {
		return nil, db.Unavailable("find interactions", fmt.Errorf("expected %d results, got %d", len(qs), len(found)))
	}
	return found, nil
}

// -- Allergy Matcher --

// CheckAllergies compares candidates with the patient's DRUG allergies. One
// alert per matching (candidate, allergy) pair, in discovery order.
func (s *Service) CheckAllergies(ctx context.Context, patientID uuid.UUID, candidates []MedicationCandidate) (alerts []AllergyAlert, err error) {
	defer func() {
		s.metrics.Check(metrics.CheckAllergies, metrics.Outcome(len(alerts), err))
		for _, a := range alerts {
			s.metrics.Advisory(metrics.CheckAllergies, a.Severity)
		}
	}()

	if patientID == uuid.Nil {
		return nil, fmt.Errorf("patient_id is required")
	}
	if err := validateCandidates(candidates); err != nil {
		return nil, err
	}

	allergies, err := s.findDrugAllergies(ctx, patientID)
	if err != nil {
		s.logger.Error().Err(err).Str("check", metrics.CheckAllergies).Str("patient_id", patientID.String()).
			Msg("allergy lookup failed")
		return nil, err
	}

	alerts = []AllergyAlert{}
	if len(allergies) == 0 {
		return alerts, nil
	}
	for _, c := range candidates {
		for _, al := range allergies {
			if al.Matches(c) {
				alerts = append(alerts, AllergyAlert{
					Allergen:   al.Allergen,
					Severity:   al.Severity,
					Reaction:   al.Reaction,
					Medication: c.Name,
				})
			}
		}
	}
	return alerts, nil
}

func (s *Service) findDrugAllergies(ctx context.Context, patientID uuid.UUID) ([]*Allergy, error) {
	ctx, cancel := context.WithTimeout(ctx, s.portTimeout)
	defer cancel()
	defer s.metrics.ObservePort("find_allergies", time.Now())
	return s.allergies.ListByPatientAndType(ctx, patientID, AllergenTypeDrug)
}

// -- Duplicate Therapy Detector --

// CheckDuplicates reports repeated medication names, compared trimmed and
// case-insensitively. Each warning names the first-seen spelling. Only
// exact name duplicates are detected, not therapeutic class overlap.
func CheckDuplicates(candidates []MedicationCandidate) []string {
	warnings := []string{}
	seen := make(map[string]string, len(candidates))
	for _, c := range candidates {
		normalized := strings.ToLower(strings.TrimSpace(c.Name))
		if first, ok := seen[normalized]; ok {
			warnings = append(warnings, "Duplicate medication detected: "+first)
			continue
		}
		seen[normalized] = c.Name
	}
	return warnings
}

func (s *Service) CheckDuplicates(candidates []MedicationCandidate) ([]string, error) {
	if err := validateCandidates(candidates); err != nil {
		s.metrics.Check(metrics.CheckDuplicates, metrics.OutcomeInvalid)
		return nil, err
	}
	warnings := CheckDuplicates(candidates)
	s.metrics.Check(metrics.CheckDuplicates, metrics.Outcome(len(warnings), nil))
	return warnings, nil
}

// -- Combined review --

// ReviewMedications runs the three prescribing checks together, one at a
// time on a pinned tenant connection. The allergy check is skipped when
// patientID is nil. Any port failure fails the review.
func (s *Service) ReviewMedications(ctx context.Context, patientID *uuid.UUID, candidates []MedicationCandidate) (*MedicationReview, error) {
	if err := validateCandidates(candidates); err != nil {
		return nil, err
	}

	review := &MedicationReview{Allergies: []AllergyAlert{}}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(db.FanOutLimit(ctx, 3))
	g.Go(func() error {
		alerts, err := s.CheckInteractions(gctx, candidates)
		review.Interactions = alerts
		return err
	})
	if patientID != nil {
		g.Go(func() error {
			alerts, err := s.CheckAllergies(gctx, *patientID, candidates)
			review.Allergies = alerts
			return err
		})
	}
	g.Go(func() error {
		warnings, err := s.CheckDuplicates(candidates)
		review.Duplicates = warnings
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return review, nil
}

// -- Interaction catalog --

func (s *Service) UpsertInteraction(ctx context.Context, d *DrugInteraction) error {
	d.Drug1Name = strings.TrimSpace(d.Drug1Name)
	d.Drug2Name = strings.TrimSpace(d.Drug2Name)
	if d.Drug1Name == "" {
		return fmt.Errorf("drug1_name is required")
	}
	if d.Drug2Name == "" {
		return fmt.Errorf("drug2_name is required")
	}
	if !d.Severity.Valid() {
		return fmt.Errorf("invalid severity: %s", d.Severity)
	}
	if d.ClinicalEffect == "" {
		return fmt.Errorf("clinical_effect is required")
	}
	if d.Recommendation == "" {
		return fmt.Errorf("recommendation is required")
	}
	d.ID = InteractionKey(d.Drug1Name, d.Drug2Name)
	return s.interactions.Upsert(ctx, d)
}

func (s *Service) GetInteraction(ctx context.Context, id uuid.UUID) (*DrugInteraction, error) {
	return s.interactions.GetByID(ctx, id)
}

func (s *Service) DeleteInteraction(ctx context.Context, id uuid.UUID) error {
	return s.interactions.Delete(ctx, id)
}

func (s *Service) ListInteractions(ctx context.Context, limit, offset int) ([]*DrugInteraction, int, error) {
	return s.interactions.List(ctx, limit, offset)
}

// -- Allergies --

// AddAllergy records a patient allergy. The allergen type defaults to DRUG.
func (s *Service) AddAllergy(ctx context.Context, a *Allergy) error {
	if a.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	a.Allergen = strings.TrimSpace(a.Allergen)
	if a.Allergen == "" {
		return fmt.Errorf("allergen is required")
	}
	if a.Severity == "" {
		return fmt.Errorf("severity is required")
	}
	if a.AllergenType == "" {
		a.AllergenType = AllergenTypeDrug
	}
	a.AllergenType = strings.ToUpper(a.AllergenType)
	return s.allergies.Create(ctx, a)
}

func (s *Service) DeleteAllergy(ctx context.Context, id uuid.UUID) error {
	return s.allergies.Delete(ctx, id)
}

// ListAllergies returns every allergy on file for the patient, most
// recently noted first.
func (s *Service) ListAllergies(ctx context.Context, patientID uuid.UUID) ([]*Allergy, error) {
	return s.allergies.ListByPatient(ctx, patientID)
}
