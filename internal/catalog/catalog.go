// Package catalog moves the reference catalogs (drug interactions, lab
// reference ranges and order sets) between tenants and environments as
// portable snapshots.
package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/cdsengine/internal/domain/cds"
	"github.com/ehr/cdsengine/internal/domain/lab"
	"github.com/ehr/cdsengine/internal/domain/orderset"
)

// FormatVersion is written into every snapshot. Import refuses newer formats.
const FormatVersion = 1

const pageSize = 100

// Snapshot is the full content of the reference catalogs at one point in time.
type Snapshot struct {
	Version         int                    `json:"version"`
	ExportedAt      time.Time              `json:"exported_at"`
	Interactions    []*cds.DrugInteraction `json:"interactions"`
	ReferenceRanges []*lab.ReferenceRange  `json:"reference_ranges"`
	OrderSets       []*orderset.OrderSet   `json:"order_sets"`
}

// Counts reports how many rows of each catalog a snapshot carried.
type Counts struct {
	Interactions    int `json:"interactions"`
	ReferenceRanges int `json:"reference_ranges"`
	OrderSets       int `json:"order_sets"`
}

func (s *Snapshot) Counts() Counts {
	return Counts{
		Interactions:    len(s.Interactions),
		ReferenceRanges: len(s.ReferenceRanges),
		OrderSets:       len(s.OrderSets),
	}
}

type InteractionCatalog interface {
	ListInteractions(ctx context.Context, limit, offset int) ([]*cds.DrugInteraction, int, error)
	UpsertInteraction(ctx context.Context, d *cds.DrugInteraction) error
}

type RangeCatalog interface {
	ListReferenceRanges(ctx context.Context, testCode string, limit, offset int) ([]*lab.ReferenceRange, int, error)
	UpsertReferenceRange(ctx context.Context, r *lab.ReferenceRange) error
}

type OrderSetCatalog interface {
	List(ctx context.Context, specialty string) ([]*orderset.OrderSet, error)
	Import(ctx context.Context, set *orderset.OrderSet) error
}

// Service exports and imports snapshots through the catalog services, so
// imports go through the same validation and idempotent upserts as the API.
type Service struct {
	interactions InteractionCatalog
	ranges       RangeCatalog
	orderSets    OrderSetCatalog
	logger       zerolog.Logger
	now          func() time.Time
}

func NewService(interactions InteractionCatalog, ranges RangeCatalog, orderSets OrderSetCatalog, logger zerolog.Logger) *Service {
	return &Service{
		interactions: interactions,
		ranges:       ranges,
		orderSets:    orderSets,
		logger:       logger.With().Str("component", "catalog").Logger(),
		now:          time.Now,
	}
}

// collect pages through a list call until total rows have been read.
func collect[T any](list func(limit, offset int) ([]T, int, error)) ([]T, error) {
	var out []T
	for offset := 0; ; offset += pageSize {
		page, total, err := list(pageSize, offset)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < pageSize || len(out) >= total {
			return out, nil
		}
	}
}

func (s *Service) Export(ctx context.Context) (*Snapshot, error) {
	interactions, err := collect(func(limit, offset int) ([]*cds.DrugInteraction, int, error) {
		return s.interactions.ListInteractions(ctx, limit, offset)
	})
	if err != nil {
		return nil, fmt.Errorf("export interactions: %w", err)
	}
	ranges, err := collect(func(limit, offset int) ([]*lab.ReferenceRange, int, error) {
		return s.ranges.ListReferenceRanges(ctx, "", limit, offset)
	})
	if err != nil {
		return nil, fmt.Errorf("export reference ranges: %w", err)
	}
	sets, err := s.orderSets.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("export order sets: %w", err)
	}

	snap := &Snapshot{
		Version:         FormatVersion,
		ExportedAt:      s.now().UTC(),
		Interactions:    interactions,
		ReferenceRanges: ranges,
		OrderSets:       sets,
	}
	s.logger.Info().Interface("counts", snap.Counts()).Msg("catalog exported")
	return snap, nil
}

// Import upserts every row of snap. Importing the same snapshot twice leaves
// the catalog sizes unchanged.
func (s *Service) Import(ctx context.Context, snap *Snapshot) (Counts, error) {
	if snap == nil {
		return Counts{}, fmt.Errorf("snapshot is required")
	}
	if snap.Version > FormatVersion {
		return Counts{}, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	for _, d := range snap.Interactions {
		if err := s.interactions.UpsertInteraction(ctx, d); err != nil {
			return Counts{}, fmt.Errorf("import interaction %s/%s: %w", d.Drug1Name, d.Drug2Name, err)
		}
	}
	for _, r := range snap.ReferenceRanges {
		if err := s.ranges.UpsertReferenceRange(ctx, r); err != nil {
			return Counts{}, fmt.Errorf("import reference range %s: %w", r.TestCode, err)
		}
	}
	for _, set := range snap.OrderSets {
		if err := s.orderSets.Import(ctx, set); err != nil {
			return Counts{}, fmt.Errorf("import order set %s: %w", set.Name, err)
		}
	}
	counts := snap.Counts()
	s.logger.Info().Interface("counts", counts).Msg("catalog imported")
	return counts, nil
}
