package orderset

import (
	"context"

	"github.com/google/uuid"
)

// Repository stores order sets with their items. List and ListPublic only
// return active sets.
type Repository interface {
	List(ctx context.Context, specialty string) ([]*OrderSet, error)
	ListPublic(ctx context.Context) ([]*OrderSet, error)
	GetByID(ctx context.Context, id uuid.UUID) (*OrderSet, error)
	Create(ctx context.Context, s *OrderSet) error
	// Upsert writes the set header and adds any missing items. Existing
	// items and the use count are left alone.
	Upsert(ctx context.Context, s *OrderSet) error
	IncrementUseCount(ctx context.Context, id uuid.UUID) (int, error)
}
