package patient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/cdsengine/internal/platform/db"
)

type Service struct {
	demographics DemographicsRepository
	profiles     SafetyProfileRepository
}

func NewService(demographics DemographicsRepository, profiles SafetyProfileRepository) *Service {
	return &Service{demographics: demographics, profiles: profiles}
}

func (s *Service) GetDemographics(ctx context.Context, patientID uuid.UUID) (*Demographics, error) {
	return s.demographics.Get(ctx, patientID)
}

// DemographicsOrEmpty treats an unknown patient as one with no recorded
// gender or date of birth.
func (s *Service) DemographicsOrEmpty(ctx context.Context, patientID uuid.UUID) (*Demographics, error) {
	d, err := s.demographics.Get(ctx, patientID)
	if errors.Is(err, db.ErrNotFound) {
		return &Demographics{PatientID: patientID}, nil
	}
	return d, err
}

func (s *Service) SaveDemographics(ctx context.Context, d *Demographics) error {
	if d.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if d.Gender != nil {
		g := NormalizeGender(*d.Gender)
		switch g {
		case GenderMale, GenderFemale, GenderOther, GenderUnknown:
		default:
			return fmt.Errorf("invalid gender: %s", *d.Gender)
		}
		d.Gender = &g
	}
	if d.DateOfBirth != nil && d.DateOfBirth.After(time.Now()) {
		return fmt.Errorf("date_of_birth cannot be in the future")
	}
	return s.demographics.Upsert(ctx, d)
}

func (s *Service) GetSafetyProfile(ctx context.Context, patientID uuid.UUID) (*SafetyProfile, error) {
	return s.profiles.Get(ctx, patientID)
}

// SafetyProfileOrEmpty treats a patient without a recorded screening as one
// with no risk flags set.
func (s *Service) SafetyProfileOrEmpty(ctx context.Context, patientID uuid.UUID) (*SafetyProfile, error) {
	p, err := s.profiles.Get(ctx, patientID)
	if errors.Is(err, db.ErrNotFound) {
		return &SafetyProfile{PatientID: patientID}, nil
	}
	return p, err
}

func (s *Service) SaveSafetyProfile(ctx context.Context, p *SafetyProfile) error {
	if p.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if p.LastEGFR != nil && *p.LastEGFR < 0 {
		return fmt.Errorf("last_egfr must not be negative")
	}
	if p.LastCreatinine != nil && *p.LastCreatinine < 0 {
		return fmt.Errorf("last_creatinine must not be negative")
	}
	return s.profiles.Upsert(ctx, p)
}
