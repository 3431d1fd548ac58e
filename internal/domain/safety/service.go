package safety

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/cdsengine/internal/domain/patient"
	"github.com/ehr/cdsengine/internal/platform/db"
	"github.com/ehr/cdsengine/internal/platform/metrics"
)

const defaultPortTimeout = 5 * time.Second

type Service struct {
	patients    *patient.Service
	logger      zerolog.Logger
	metrics     *metrics.Recorder
	portTimeout time.Duration
	now         func() time.Time
}

func NewService(patients *patient.Service, logger zerolog.Logger) *Service {
	return &Service{
		patients:    patients,
		logger:      logger.With().Str("component", "safety").Logger(),
		portTimeout: defaultPortTimeout,
		now:         time.Now,
	}
}

func (s *Service) SetMetrics(m *metrics.Recorder) { s.metrics = m }

func (s *Service) SetPortTimeout(d time.Duration) {
	if d > 0 {
		s.portTimeout = d
	}
}

func validateInvestigations(tests []Investigation) error {
	for i, t := range tests {
		if strings.TrimSpace(t.TestName) == "" && strings.TrimSpace(t.TestType) == "" {
			return fmt.Errorf("investigations[%d].test_name is required", i)
		}
	}
	return nil
}

// subject loads the safety profile and demographics, concurrently unless a
// tenant connection is pinned. Either being absent is an empty record.
func (s *Service) subject(ctx context.Context, patientID uuid.UUID) (Subject, error) {
	ctx, cancel := context.WithTimeout(ctx, s.portTimeout)
	defer cancel()

	var (
		profile *patient.SafetyProfile
		demo    *patient.Demographics
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(db.FanOutLimit(ctx, 2))
	g.Go(func() error {
		defer s.metrics.ObservePort("get_safety_profile", time.Now())
		var err error
		profile, err = s.patients.SafetyProfileOrEmpty(gctx, patientID)
		return err
	})
	g.Go(func() error {
		defer s.metrics.ObservePort("get_patient_demographics", time.Now())
		var err error
		demo, err = s.patients.DemographicsOrEmpty(gctx, patientID)
		return err
	})
	if err := g.Wait(); err != nil {
		return Subject{}, err
	}
	return Subject{Profile: profile, Age: demo.AgeAt(s.now()), Gender: demo.GenderValue()}, nil
}

// Screen evaluates the selected investigations against the patient's safety
// profile.
func (s *Service) Screen(ctx context.Context, patientID uuid.UUID, tests []Investigation) (out *Screening, err error) {
	defer func() {
		n := 0
		if out != nil {
			n = len(out.Checks)
			for _, c := range out.Checks {
				s.metrics.Advisory(metrics.CheckSafety, c.Severity)
			}
		}
		s.metrics.Check(metrics.CheckSafety, metrics.Outcome(n, err))
	}()

	if patientID == uuid.Nil {
		return nil, fmt.Errorf("patient_id is required")
	}
	if err := validateInvestigations(tests); err != nil {
		return nil, err
	}
	if len(tests) == 0 {
		return NewScreening([]SafetyCheck{}), nil
	}

	subj, err := s.subject(ctx, patientID)
	if err != nil {
		s.logger.Error().Err(err).Str("check", metrics.CheckSafety).Str("patient_id", patientID.String()).
			Msg("safety profile lookup failed")
		return nil, err
	}
	screening := NewScreening(Evaluate(tests, subj))
	if !screening.SafeToProceed {
		s.logger.Info().Str("patient_id", patientID.String()).Int("checks", len(screening.Checks)).
			Msg("investigation order blocked by safety screen")
	}
	return screening, nil
}
