package orderset

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/cdsengine/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type orderSetRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &orderSetRepoPG{pool: pool}
}

func (r *orderSetRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const setCols = `id, slug, name, category, description, specialty, created_by,
	is_public, is_active, use_count, created_at, updated_at`

const itemCols = `id, order_set_id, test_category, test_name, test_code, is_required,
	instructions, display_order`

func (r *orderSetRepoPG) scanSet(row pgx.Row) (*OrderSet, error) {
	var s OrderSet
	err := row.Scan(&s.ID, &s.Slug, &s.Name, &s.Category, &s.Description, &s.Specialty, &s.CreatedBy,
		&s.IsPublic, &s.IsActive, &s.UseCount, &s.CreatedAt, &s.UpdatedAt)
	return &s, err
}

func (r *orderSetRepoPG) listSets(ctx context.Context, op, where string, args ...interface{}) ([]*OrderSet, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+setCols+` FROM order_set WHERE `+where+`
		ORDER BY use_count DESC, name, id`, args...)
	if err != nil {
		return nil, db.Unavailable(op, err)
	}
	defer rows.Close()
	var sets []*OrderSet
	for rows.Next() {
		s, err := r.scanSet(rows)
		if err != nil {
			return nil, db.Unavailable(op, err)
		}
		sets = append(sets, s)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Unavailable(op, err)
	}
	return sets, r.loadItems(ctx, sets)
}

func (r *orderSetRepoPG) loadItems(ctx context.Context, sets []*OrderSet) error {
	if len(sets) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(sets))
	byID := make(map[uuid.UUID]*OrderSet, len(sets))
	for i, s := range sets {
		ids[i] = s.ID
		byID[s.ID] = s
		s.Items = []*OrderSetItem{}
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+itemCols+` FROM order_set_item
		WHERE order_set_id = ANY($1) ORDER BY display_order, id`, ids)
	if err != nil {
		return db.Unavailable("list order set items", err)
	}
	defer rows.Close()
	for rows.Next() {
		var it OrderSetItem
		if err := rows.Scan(&it.ID, &it.OrderSetID, &it.TestCategory, &it.TestName, &it.TestCode,
			&it.IsRequired, &it.Instructions, &it.DisplayOrder); err != nil {
			return db.Unavailable("list order set items", err)
		}
		if s, ok := byID[it.OrderSetID]; ok {
			s.Items = append(s.Items, &it)
		}
	}
	return db.Unavailable("list order set items", rows.Err())
}

func (r *orderSetRepoPG) List(ctx context.Context, specialty string) ([]*OrderSet, error) {
	return r.listSets(ctx, "list order sets", `is_active AND ($1::text = '' OR specialty = $1)`, specialty)
}

func (r *orderSetRepoPG) ListPublic(ctx context.Context) ([]*OrderSet, error) {
	return r.listSets(ctx, "list public order sets", `is_active AND is_public`)
}

func (r *orderSetRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*OrderSet, error) {
	s, err := r.scanSet(r.conn(ctx).QueryRow(ctx, `SELECT `+setCols+` FROM order_set WHERE id = $1`, id))
	if err != nil {
		return nil, db.Lookup("get order set", err)
	}
	if err := r.loadItems(ctx, []*OrderSet{s}); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *orderSetRepoPG) insertItems(ctx context.Context, s *OrderSet) error {
	for _, it := range s.Items {
		if _, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO order_set_item (`+itemCols+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			ON CONFLICT (id) DO NOTHING`,
			it.ID, it.OrderSetID, it.TestCategory, it.TestName, it.TestCode, it.IsRequired,
			it.Instructions, it.DisplayOrder); err != nil {
			return db.Unavailable("insert order set item", err)
		}
	}
	return nil
}

func (r *orderSetRepoPG) Create(ctx context.Context, s *OrderSet) error {
	return db.InTx(ctx, r.pool, func(ctx context.Context) error {
		err := r.conn(ctx).QueryRow(ctx, `
			INSERT INTO order_set (id, slug, name, category, description, specialty, created_by,
				is_public, is_active, use_count)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			RETURNING created_at, updated_at`,
			s.ID, s.Slug, s.Name, s.Category, s.Description, s.Specialty, s.CreatedBy,
			s.IsPublic, s.IsActive, s.UseCount,
		).Scan(&s.CreatedAt, &s.UpdatedAt)
		if err != nil {
			return db.Unavailable("create order set", err)
		}
		return r.insertItems(ctx, s)
	})
}

func (r *orderSetRepoPG) Upsert(ctx context.Context, s *OrderSet) error {
	return db.InTx(ctx, r.pool, func(ctx context.Context) error {
		err := r.conn(ctx).QueryRow(ctx, `
			INSERT INTO order_set (id, slug, name, category, description, specialty, created_by,
				is_public, is_active)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name, category = EXCLUDED.category,
				description = EXCLUDED.description, specialty = EXCLUDED.specialty,
				is_public = EXCLUDED.is_public, is_active = EXCLUDED.is_active,
				updated_at = NOW()
			RETURNING use_count, created_at, updated_at`,
			s.ID, s.Slug, s.Name, s.Category, s.Description, s.Specialty, s.CreatedBy,
			s.IsPublic, s.IsActive,
		).Scan(&s.UseCount, &s.CreatedAt, &s.UpdatedAt)
		if err != nil {
			return db.Unavailable("upsert order set", err)
		}
		return r.insertItems(ctx, s)
	})
}

func (r *orderSetRepoPG) IncrementUseCount(ctx context.Context, id uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `UPDATE order_set SET use_count = use_count + 1
		WHERE id = $1 RETURNING use_count`, id).Scan(&n)
	if err != nil {
		return 0, db.Lookup("increment order set use count", err)
	}
	return n, nil
}
