package lab

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

// =========== Reference Range Repository ===========

type referenceRangeRepoPG struct{ pool *pgxpool.Pool }

func NewReferenceRangeRepoPG(pool *pgxpool.Pool) ReferenceRangeRepository {
	return &referenceRangeRepoPG{pool: pool}
}

func (r *referenceRangeRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const rangeCols = `id, test_code, test_name, gender, age_min, age_max, unit,
	low_normal, high_normal, critical_low, critical_high, source, created_at, updated_at`

func (r *referenceRangeRepoPG) scanRange(row pgx.Row) (*ReferenceRange, error) {
	var rr ReferenceRange
	err := row.Scan(&rr.ID, &rr.TestCode, &rr.TestName, &rr.Gender, &rr.AgeMin, &rr.AgeMax, &rr.Unit,
		&rr.LowNormal, &rr.HighNormal, &rr.CriticalLow, &rr.CriticalHigh, &rr.Source, &rr.CreatedAt, &rr.UpdatedAt)
	return &rr, err
}

func (r *referenceRangeRepoPG) collect(rows pgx.Rows, op string) ([]*ReferenceRange, error) {
	defer rows.Close()
	var items []*ReferenceRange
	for rows.Next() {
		rr, err := r.scanRange(rows)
		if err != nil {
			return nil, db.Unavailable(op, err)
		}
		items = append(items, rr)
	}
	return items, db.Unavailable(op, rows.Err())
}

func (r *referenceRangeRepoPG) ListByTestCode(ctx context.Context, testCode string) ([]*ReferenceRange, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+rangeCols+` FROM reference_range
		WHERE test_code = $1 ORDER BY id`, testCode)
	if err != nil {
		return nil, db.Unavailable("find reference ranges", err)
	}
	return r.collect(rows, "find reference ranges")
}

func (r *referenceRangeRepoPG) Upsert(ctx context.Context, rr *ReferenceRange) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO reference_range (id, test_code, test_name, gender, age_min, age_max, unit,
			low_normal, high_normal, critical_low, critical_high, source)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO UPDATE SET
			test_code = EXCLUDED.test_code, test_name = EXCLUDED.test_name,
			gender = EXCLUDED.gender, age_min = EXCLUDED.age_min, age_max = EXCLUDED.age_max,
			unit = EXCLUDED.unit, low_normal = EXCLUDED.low_normal, high_normal = EXCLUDED.high_normal,
			critical_low = EXCLUDED.critical_low, critical_high = EXCLUDED.critical_high,
			source = EXCLUDED.source, updated_at = NOW()
		RETURNING created_at, updated_at`,
		rr.ID, rr.TestCode, rr.TestName, rr.Gender, rr.AgeMin, rr.AgeMax, rr.Unit,
		rr.LowNormal, rr.HighNormal, rr.CriticalLow, rr.CriticalHigh, rr.Source,
	).Scan(&rr.CreatedAt, &rr.UpdatedAt)
	return db.Unavailable("upsert reference range", err)
}

func (r *referenceRangeRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM reference_range WHERE id = $1`, id)
	if err != nil {
		return db.Unavailable("delete reference range", err)
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *referenceRangeRepoPG) List(ctx context.Context, testCode string, limit, offset int) ([]*ReferenceRange, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM reference_range
		WHERE ($1::text = '' OR test_code = $1)`, testCode).Scan(&total); err != nil {
		return nil, 0, db.Unavailable("count reference ranges", err)
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+rangeCols+` FROM reference_range
		WHERE ($1::text = '' OR test_code = $1)
		ORDER BY test_code, gender NULLS FIRST, age_min NULLS FIRST, id
		LIMIT $2 OFFSET $3`, testCode, limit, offset)
	if err != nil {
		return nil, 0, db.Unavailable("list reference ranges", err)
	}
	items, err := r.collect(rows, "list reference ranges")
	return items, total, err
}

// =========== Lab Result Repository ===========

type resultRepoPG struct{ pool *pgxpool.Pool }

func NewResultRepoPG(pool *pgxpool.Pool) ResultRepository {
	return &resultRepoPG{pool: pool}
}

func (r *resultRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const resultCols = `id, patient_id, order_id, test_code, test_name, value, unit, flag, flag_automated,
	delta_flag, percent_change, previous_value, ordering_practitioner, tested_at, created_at`

func (r *resultRepoPG) scanResult(row pgx.Row) (*LabResult, error) {
	var lr LabResult
	err := row.Scan(&lr.ID, &lr.PatientID, &lr.OrderID, &lr.TestCode, &lr.TestName, &lr.Value, &lr.Unit,
		&lr.Flag, &lr.FlagAutomated, &lr.DeltaFlag, &lr.PercentChange, &lr.PreviousValue,
		&lr.OrderingPractitioner, &lr.TestedAt, &lr.CreatedAt)
	return &lr, err
}

func (r *resultRepoPG) collect(rows pgx.Rows, op string) ([]*LabResult, error) {
	defer rows.Close()
	var items []*LabResult
	for rows.Next() {
		lr, err := r.scanResult(rows)
		if err != nil {
			return nil, db.Unavailable(op, err)
		}
		items = append(items, lr)
	}
	return items, db.Unavailable(op, rows.Err())
}

func (r *resultRepoPG) Create(ctx context.Context, lr *LabResult) error {
	lr.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO lab_result (id, patient_id, order_id, test_code, test_name, value, unit,
			flag, flag_automated, ordering_practitioner, tested_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at`,
		lr.ID, lr.PatientID, lr.OrderID, lr.TestCode, lr.TestName, lr.Value, lr.Unit,
		lr.Flag, lr.FlagAutomated, lr.OrderingPractitioner, lr.TestedAt,
	).Scan(&lr.CreatedAt)
	return db.Unavailable("create lab result", err)
}

func (r *resultRepoPG) SetDelta(ctx context.Context, id uuid.UUID, d Delta) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE lab_result SET delta_flag = $2, percent_change = $3, previous_value = $4
		WHERE id = $1`, id, d.DeltaFlag, d.PercentChange, d.PreviousValue)
	if err != nil {
		return db.Unavailable("set lab delta", err)
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *resultRepoPG) ListRecent(ctx context.Context, patientID uuid.UUID, testCode string, limit int) ([]*LabResult, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+resultCols+` FROM lab_result
		WHERE patient_id = $1 AND test_code = $2
		ORDER BY tested_at DESC, created_at DESC, id LIMIT $3`, patientID, testCode, limit)
	if err != nil {
		return nil, db.Unavailable("find recent lab results", err)
	}
	return r.collect(rows, "find recent lab results")
}

func (r *resultRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, testCode string, limit, offset int) ([]*LabResult, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM lab_result
		WHERE patient_id = $1 AND ($2::text = '' OR test_code = $2)`, patientID, testCode).Scan(&total); err != nil {
		return nil, 0, db.Unavailable("count lab results", err)
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+resultCols+` FROM lab_result
		WHERE patient_id = $1 AND ($2::text = '' OR test_code = $2)
		ORDER BY tested_at DESC, created_at DESC, id LIMIT $3 OFFSET $4`, patientID, testCode, limit, offset)
	if err != nil {
		return nil, 0, db.Unavailable("list lab results", err)
	}
	items, err := r.collect(rows, "list lab results")
	return items, total, err
}
