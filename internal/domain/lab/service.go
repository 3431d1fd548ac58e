package lab

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/cdsengine/internal/domain/patient"
	"github.com/ehr/cdsengine/internal/platform/metrics"
	"github.com/ehr/cdsengine/internal/platform/notification"
)

const defaultPortTimeout = 5 * time.Second

// Notifier sends templated alerts. *notification.Dispatcher satisfies it.
type Notifier interface {
	SendFromTemplate(ctx context.Context, templateID string, data map[string]string, recipient string) (*notification.Notification, error)
}

type Service struct {
	ranges       ReferenceRangeRepository
	results      ResultRepository
	demographics *patient.Service
	notifier     Notifier
	logger       zerolog.Logger
	metrics      *metrics.Recorder
	portTimeout  time.Duration
	now          func() time.Time
}

func NewService(ranges ReferenceRangeRepository, results ResultRepository, demographics *patient.Service, logger zerolog.Logger) *Service {
	return &Service{
		ranges:       ranges,
		results:      results,
		demographics: demographics,
		logger:       logger.With().Str("component", "lab").Logger(),
		portTimeout:  defaultPortTimeout,
		now:          time.Now,
	}
}

func (s *Service) SetMetrics(m *metrics.Recorder) { s.metrics = m }

func (s *Service) SetNotifier(n Notifier) { s.notifier = n }

func (s *Service) SetPortTimeout(d time.Duration) {
	if d > 0 {
		s.portTimeout = d
	}
}

func (s *Service) findRanges(ctx context.Context, testCode string) ([]*ReferenceRange, error) {
	ctx, cancel := context.WithTimeout(ctx, s.portTimeout)
	defer cancel()
	defer s.metrics.ObservePort("find_reference_ranges", time.Now())
	return s.ranges.ListByTestCode(ctx, testCode)
}

func (s *Service) findRecent(ctx context.Context, patientID uuid.UUID, testCode string) ([]*LabResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.portTimeout)
	defer cancel()
	defer s.metrics.ObservePort("find_recent_lab_results", time.Now())
	return s.results.ListRecent(ctx, patientID, testCode, 2)
}

// ResolveRange returns the most specific reference range for the test, or
// nil when none applies.
func (s *Service) ResolveRange(ctx context.Context, testCode string, age *int, gender string) (*ReferenceRange, error) {
	code := NormalizeTestCode(testCode)
	if code == "" {
		return nil, fmt.Errorf("test_code is required")
	}
	ranges, err := s.findRanges(ctx, code)
	if err != nil {
		return nil, err
	}
	return ResolveRange(ranges, age, gender), nil
}

// FlagResult interprets value against the patient's reference range. A
// missing range or a non-numeric value is an outcome, not an error.
func (s *Service) FlagResult(ctx context.Context, testCode, value string, age *int, gender string) (FlagOutcome, error) {
	out, _, err := s.FlagResultWithRange(ctx, testCode, value, age, gender)
	return out, err
}

// FlagResultWithRange is FlagResult that also returns the range it applied,
// nil when none did.
func (s *Service) FlagResultWithRange(ctx context.Context, testCode, value string, age *int, gender string) (out FlagOutcome, r *ReferenceRange, err error) {
	defer func() {
		advisory := 0
		if err == nil && out.Flag != FlagNormal {
			advisory = 1
			s.metrics.LabFlag(out.Flag)
		}
		s.metrics.Check(metrics.CheckLabFlag, metrics.Outcome(advisory, err))
	}()

	r, err = s.ResolveRange(ctx, testCode, age, gender)
	if err != nil {
		s.logger.Error().Err(err).Str("check", metrics.CheckLabFlag).Str("test_code", testCode).
			Msg("reference range lookup failed")
		return FlagOutcome{}, nil, err
	}
	return Evaluate(r, value), r, nil
}

// CalculateDelta compares currentValue with the second most recent stored
// result for the patient and test.
func (s *Service) CalculateDelta(ctx context.Context, patientID uuid.UUID, testCode, currentValue string) (d Delta, err error) {
	defer func() {
		advisory := 0
		if d.DeltaFlag {
			advisory = 1
		}
		s.metrics.Check(metrics.CheckLabDelta, metrics.Outcome(advisory, err))
	}()

	if patientID == uuid.Nil {
		return Delta{}, fmt.Errorf("patient_id is required")
	}
	code := NormalizeTestCode(testCode)
	if code == "" {
		return Delta{}, fmt.Errorf("test_code is required")
	}
	recent, err := s.findRecent(ctx, patientID, code)
	if err != nil {
		s.logger.Error().Err(err).Str("check", metrics.CheckLabDelta).Str("patient_id", patientID.String()).
			Str("test_code", code).Msg("recent result lookup failed")
		return Delta{}, err
	}
	return ComputeDelta(recent, currentValue), nil
}

// RecordResult flags, stores and delta-checks an incoming result, then
// notifies the ordering practitioner when it is critical or delta-flagged.
// Notification failures are logged and never fail the intake.
func (s *Service) RecordResult(ctx context.Context, r *LabResult) error {
	if r.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	r.TestCode = NormalizeTestCode(r.TestCode)
	if r.TestCode == "" {
		return fmt.Errorf("test_code is required")
	}
	if strings.TrimSpace(r.Value) == "" {
		return fmt.Errorf("value is required")
	}
	if r.TestName == "" {
		r.TestName = r.TestCode
	}
	if r.TestedAt.IsZero() {
		r.TestedAt = s.now()
	}

	demo, err := s.demographics.DemographicsOrEmpty(ctx, r.PatientID)
	if err != nil {
		return err
	}
	outcome, err := s.FlagResult(ctx, r.TestCode, r.Value, demo.AgeAt(r.TestedAt), demo.GenderValue())
	if err != nil {
		return err
	}
	r.Flag = outcome.Flag
	r.FlagAutomated = outcome.FlagAutomated

	if err := s.results.Create(ctx, r); err != nil {
		return err
	}

	// The new row is now the most recent, so the second most recent is the
	// true previous value.
	delta, err := s.CalculateDelta(ctx, r.PatientID, r.TestCode, r.Value)
	if err != nil {
		return err
	}
	if err := s.results.SetDelta(ctx, r.ID, delta); err != nil {
		return err
	}
	r.ApplyDelta(delta)

	s.notify(ctx, r)
	return nil
}

func (s *Service) notify(ctx context.Context, r *LabResult) {
	if s.notifier == nil || r.OrderingPractitioner == nil || *r.OrderingPractitioner == "" {
		return
	}
	data := map[string]string{
		"patient_id": r.PatientID.String(),
		"test_code":  r.TestCode,
		"test_name":  r.TestName,
		"value":      r.Value,
		"flag":       r.Flag,
		"unit":       "",
	}
	if r.Unit != nil {
		data["unit"] = *r.Unit
	}

	var templates []string
	if r.Flag == FlagCritical {
		templates = append(templates, notification.TemplateLabCritical)
	}
	if r.DeltaFlag {
		templates = append(templates, notification.TemplateLabDelta)
		if r.PreviousValue != nil {
			data["previous_value"] = *r.PreviousValue
		}
		if r.PercentChange != nil {
			data["percent_change"] = strconv.FormatFloat(*r.PercentChange, 'f', 1, 64)
		}
	}
	for _, tpl := range templates {
		if _, err := s.notifier.SendFromTemplate(ctx, tpl, data, *r.OrderingPractitioner); err != nil {
			s.logger.Warn().Err(err).Str("template", tpl).Str("result_id", r.ID.String()).
				Msg("lab notification failed")
		}
	}
}

func (s *Service) ListResults(ctx context.Context, patientID uuid.UUID, testCode string, limit, offset int) ([]*LabResult, int, error) {
	return s.results.ListByPatient(ctx, patientID, NormalizeTestCode(testCode), limit, offset)
}

// -- Reference range catalog --

func (s *Service) UpsertReferenceRange(ctx context.Context, r *ReferenceRange) error {
	r.TestCode = NormalizeTestCode(r.TestCode)
	if r.TestCode == "" {
		return fmt.Errorf("test_code is required")
	}
	if r.TestName == "" {
		return fmt.Errorf("test_name is required")
	}
	if r.Unit == "" {
		return fmt.Errorf("unit is required")
	}
	if r.LowNormal > r.HighNormal {
		return fmt.Errorf("low_normal must not exceed high_normal")
	}
	if r.AgeMin != nil && r.AgeMax != nil && *r.AgeMin > *r.AgeMax {
		return fmt.Errorf("age_min must not exceed age_max")
	}
	if r.Gender != nil {
		g := strings.ToUpper(strings.TrimSpace(*r.Gender))
		switch g {
		case "":
			r.Gender = nil
		case GenderAll, patient.GenderMale, patient.GenderFemale:
			r.Gender = &g
		default:
			return fmt.Errorf("invalid gender: %s", *r.Gender)
		}
	}
	r.ID = RangeKey(r.TestCode, r.Gender, r.AgeMin)
	return s.ranges.Upsert(ctx, r)
}

func (s *Service) ListReferenceRanges(ctx context.Context, testCode string, limit, offset int) ([]*ReferenceRange, int, error) {
	return s.ranges.List(ctx, NormalizeTestCode(testCode), limit, offset)
}

func (s *Service) DeleteReferenceRange(ctx context.Context, id uuid.UUID) error {
	return s.ranges.Delete(ctx, id)
}
