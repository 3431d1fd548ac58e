package orderset

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger.With().Str("component", "orderset").Logger()}
}

// List returns active sets, most used first, optionally for one specialty.
func (s *Service) List(ctx context.Context, specialty string) ([]*OrderSet, error) {
	return s.repo.List(ctx, strings.ToUpper(strings.TrimSpace(specialty)))
}

func (s *Service) ListPublic(ctx context.Context) ([]*OrderSet, error) {
	return s.repo.ListPublic(ctx)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*OrderSet, error) {
	return s.repo.GetByID(ctx, id)
}

// Create stores a clinician-defined set. Sets are active on creation and
// private unless IsPublic is set.
func (s *Service) Create(ctx context.Context, set *OrderSet) error {
	set.Name = strings.TrimSpace(set.Name)
	set.Category = strings.ToUpper(strings.TrimSpace(set.Category))
	set.CreatedBy = strings.TrimSpace(set.CreatedBy)
	if set.Name == "" {
		return fmt.Errorf("name is required")
	}
	if set.Category == "" {
		return fmt.Errorf("category is required")
	}
	if set.CreatedBy == "" {
		return fmt.Errorf("created_by is required")
	}
	if len(set.Items) == 0 {
		return fmt.Errorf("at least one item is required")
	}
	for i, it := range set.Items {
		if it == nil || strings.TrimSpace(it.TestName) == "" {
			return fmt.Errorf("items[%d].test_name is required", i)
		}
		if strings.TrimSpace(it.TestCategory) == "" {
			return fmt.Errorf("items[%d].test_category is required", i)
		}
		if it.DisplayOrder < 0 {
			return fmt.Errorf("items[%d].display_order must not be negative", i)
		}
	}
	if set.Specialty != nil {
		sp := strings.ToUpper(strings.TrimSpace(*set.Specialty))
		if sp == "" {
			set.Specialty = nil
		} else {
			set.Specialty = &sp
		}
	}

	set.ID = uuid.New()
	set.Slug = nil
	set.IsActive = true
	set.UseCount = 0
	set.assignItemKeys()
	if err := checkPositions(set.Items); err != nil {
		return err
	}
	return s.repo.Create(ctx, set)
}

// checkPositions rejects two items at the same display position.
func checkPositions(items []*OrderSetItem) error {
	seen := make(map[int]bool, len(items))
	for _, it := range items {
		if seen[it.DisplayOrder] {
			return fmt.Errorf("display_order %d is used by more than one item", it.DisplayOrder)
		}
		seen[it.DisplayOrder] = true
	}
	return nil
}

// Import upserts a set that already carries its id, such as one read back
// from a catalog snapshot. Use counts on existing rows are kept.
func (s *Service) Import(ctx context.Context, set *OrderSet) error {
	if set.ID == uuid.Nil {
		return fmt.Errorf("id is required")
	}
	if strings.TrimSpace(set.Name) == "" {
		return fmt.Errorf("name is required")
	}
	set.assignItemKeys()
	if err := checkPositions(set.Items); err != nil {
		return err
	}
	return s.repo.Upsert(ctx, set)
}

// IncrementUseCount records one use of the set and returns the new count.
func (s *Service) IncrementUseCount(ctx context.Context, id uuid.UUID) (int, error) {
	return s.repo.IncrementUseCount(ctx, id)
}
