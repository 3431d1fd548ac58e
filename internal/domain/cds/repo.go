package cds

import (
	"context"

	"github.com/google/uuid"
)

// InteractionRepository reads and maintains the drug interaction catalog.
// Read failures must come back as db.ErrDataUnavailable, never as an empty
// result. FindInteractions answers every query in one round trip and
// returns one result slice per query, in query order.
type InteractionRepository interface {
	FindInteractions(ctx context.Context, qs []InteractionQuery) ([][]*DrugInteraction, error)
	Upsert(ctx context.Context, d *DrugInteraction) error
	GetByID(ctx context.Context, id uuid.UUID) (*DrugInteraction, error)
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*DrugInteraction, int, error)
}

// AllergyRepository stores patient allergies.
type AllergyRepository interface {
	Create(ctx context.Context, a *Allergy) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Allergy, error)
	ListByPatientAndType(ctx context.Context, patientID uuid.UUID, allergenType string) ([]*Allergy, error)
}
