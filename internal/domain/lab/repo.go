package lab

import (
	"context"

	"github.com/google/uuid"
)

// ReferenceRangeRepository reads and maintains the reference range catalog.
type ReferenceRangeRepository interface {
	ListByTestCode(ctx context.Context, testCode string) ([]*ReferenceRange, error)
	Upsert(ctx context.Context, r *ReferenceRange) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, testCode string, limit, offset int) ([]*ReferenceRange, int, error)
}

// ResultRepository stores lab results. ListRecent returns newest first by
// tested_at.
type ResultRepository interface {
	Create(ctx context.Context, r *LabResult) error
	SetDelta(ctx context.Context, id uuid.UUID, d Delta) error
	ListRecent(ctx context.Context, patientID uuid.UUID, testCode string, limit int) ([]*LabResult, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, testCode string, limit, offset int) ([]*LabResult, int, error)
}
