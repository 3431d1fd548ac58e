package patient

import (
	"context"

	"github.com/google/uuid"
)

// DemographicsRepository returns db.ErrNotFound for unknown patients.
type DemographicsRepository interface {
	Get(ctx context.Context, patientID uuid.UUID) (*Demographics, error)
	Upsert(ctx context.Context, d *Demographics) error
}

// SafetyProfileRepository returns db.ErrNotFound when no screening has been
// recorded for the patient.
type SafetyProfileRepository interface {
	Get(ctx context.Context, patientID uuid.UUID) (*SafetyProfile, error)
	Upsert(ctx context.Context, p *SafetyProfile) error
}
