package cds

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
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// =========== Drug Interaction Repository ===========

type drugInteractionRepoPG struct{ pool *pgxpool.Pool }

func NewDrugInteractionRepoPG(pool *pgxpool.Pool) InteractionRepository {
	return &drugInteractionRepoPG{pool: pool}
}

func (r *drugInteractionRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const diCols = `id, drug1_name, drug1_generic, drug2_name, drug2_generic,
	severity, mechanism, clinical_effect, recommendation, created_at, updated_at`

func (r *drugInteractionRepoPG) scanDI(row pgx.Row) (*DrugInteraction, error) {
	var d DrugInteraction
	err := row.Scan(&d.ID, &d.Drug1Name, &d.Drug1Generic, &d.Drug2Name, &d.Drug2Generic,
		&d.Severity, &d.Mechanism, &d.ClinicalEffect, &d.Recommendation, &d.CreatedAt, &d.UpdatedAt)
	return &d, err
}

// slot matches one side of the pair: the name column contains the candidate
// name, or the generic column contains the candidate generic. strpos keeps
// user input from acting as a LIKE pattern.
const (
	slot1A = `(($1::text <> '' AND strpos(lower(drug1_name), lower($1::text)) > 0)
		OR ($2::text <> '' AND strpos(lower(coalesce(drug1_generic, '')), lower($2::text)) > 0))`
	slot2B = `(($3::text <> '' AND strpos(lower(drug2_name), lower($3::text)) > 0)
		OR ($4::text <> '' AND strpos(lower(coalesce(drug2_generic, '')), lower($4::text)) > 0))`
	slot1B = `(($3::text <> '' AND strpos(lower(drug1_name), lower($3::text)) > 0)
		OR ($4::text <> '' AND strpos(lower(coalesce(drug1_generic, '')), lower($4::text)) > 0))`
	slot2A = `(($1::text <> '' AND strpos(lower(drug2_name), lower($1::text)) > 0)
		OR ($2::text <> '' AND strpos(lower(coalesce(drug2_generic, '')), lower($2::text)) > 0))`
)

const findInteractionsSQL = `SELECT ` + diCols + ` FROM drug_interaction
	WHERE (` + slot1A + ` AND ` + slot2B + `) OR (` + slot1B + ` AND ` + slot2A + `)
	ORDER BY created_at, id`

// FindInteractions queues every pair lookup on a single pgx batch, so a
// pinned tenant connection answers them all in one round trip.
func (r *drugInteractionRepoPG) FindInteractions(ctx context.Context, qs []InteractionQuery) ([][]*DrugInteraction, error) {
	out := make([][]*DrugInteraction, len(qs))
	if len(qs) == 0 {
		return out, nil
	}
	batch := &pgx.Batch{}
	for _, q := range qs {
		batch.Queue(findInteractionsSQL, q.NameA, q.GenericA, q.NameB, q.GenericB)
	}
	br := r.conn(ctx).SendBatch(ctx, batch)
	defer br.Close()

	for i := range qs {
		rows, err := br.Query()
		if err != nil {
			return nil, db.Unavailable("find interactions", err)
		}
		for rows.Next() {
			d, err := r.scanDI(rows)
			if err != nil {
				rows.Close()
				return nil, db.Unavailable("find interactions", err)
			}
			out[i] = append(out[i], d)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, db.Unavailable("find interactions", err)
		}
	}
	if err := br.Close(); err != nil {
		return nil, db.Unavailable("find interactions", err)
	}
	return out, nil
}

func (r *drugInteractionRepoPG) Upsert(ctx context.Context, d *DrugInteraction) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO drug_interaction (id, drug1_name, drug1_generic, drug2_name, drug2_generic,
			severity, mechanism, clinical_effect, recommendation)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE SET
			drug1_name = EXCLUDED.drug1_name, drug1_generic = EXCLUDED.drug1_generic,
			drug2_name = EXCLUDED.drug2_name, drug2_generic = EXCLUDED.drug2_generic,
			severity = EXCLUDED.severity, mechanism = EXCLUDED.mechanism,
			clinical_effect = EXCLUDED.clinical_effect, recommendation = EXCLUDED.recommendation,
			updated_at = NOW()
		RETURNING created_at, updated_at`,
		d.ID, d.Drug1Name, d.Drug1Generic, d.Drug2Name, d.Drug2Generic,
		d.Severity, d.Mechanism, d.ClinicalEffect, d.Recommendation,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	return db.Unavailable("upsert interaction", err)
}

func (r *drugInteractionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*DrugInteraction, error) {
	d, err := r.scanDI(r.conn(ctx).QueryRow(ctx, `SELECT `+diCols+` FROM drug_interaction WHERE id = $1`, id))
	if err != nil {
		return nil, db.Lookup("get interaction", err)
	}
	return d, nil
}

func (r *drugInteractionRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM drug_interaction WHERE id = $1`, id)
	if err != nil {
		return db.Unavailable("delete interaction", err)
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *drugInteractionRepoPG) List(ctx context.Context, limit, offset int) ([]*DrugInteraction, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM drug_interaction`).Scan(&total); err != nil {
		return nil, 0, db.Unavailable("count interactions", err)
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+diCols+` FROM drug_interaction
		ORDER BY drug1_name, drug2_name, id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, db.Unavailable("list interactions", err)
	}
	defer rows.Close()
	var items []*DrugInteraction
	for rows.Next() {
		d, err := r.scanDI(rows)
		if err != nil {
			return nil, 0, db.Unavailable("list interactions", err)
		}
		items = append(items, d)
	}
	return items, total, db.Unavailable("list interactions", rows.Err())
}

// =========== Allergy Repository ===========

type allergyRepoPG struct{ pool *pgxpool.Pool }

func NewAllergyRepoPG(pool *pgxpool.Pool) AllergyRepository { return &allergyRepoPG{pool: pool} }

func (r *allergyRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const allergyCols = `id, patient_id, allergen, allergen_type, severity, reaction, verified_by, noted_at`

func (r *allergyRepoPG) scanAllergy(row pgx.Row) (*Allergy, error) {
	var a Allergy
	err := row.Scan(&a.ID, &a.PatientID, &a.Allergen, &a.AllergenType, &a.Severity,
		&a.Reaction, &a.VerifiedBy, &a.NotedAt)
	return &a, err
}

func (r *allergyRepoPG) Create(ctx context.Context, a *Allergy) error {
	a.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO allergy (id, patient_id, allergen, allergen_type, severity, reaction, verified_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING noted_at`,
		a.ID, a.PatientID, a.Allergen, a.AllergenType, a.Severity, a.Reaction, a.VerifiedBy,
	).Scan(&a.NotedAt)
	return db.Unavailable("create allergy", err)
}

func (r *allergyRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM allergy WHERE id = $1`, id)
	if err != nil {
		return db.Unavailable("delete allergy", err)
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (r *allergyRepoPG) list(ctx context.Context, op, sql string, args ...interface{}) ([]*Allergy, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, db.Unavailable(op, err)
	}
	defer rows.Close()
	var items []*Allergy
	for rows.Next() {
		a, err := r.scanAllergy(rows)
		if err != nil {
			return nil, db.Unavailable(op, err)
		}
		items = append(items, a)
	}
	return items, db.Unavailable(op, rows.Err())
}

func (r *allergyRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Allergy, error) {
	return r.list(ctx, "list allergies",
		`SELECT `+allergyCols+` FROM allergy WHERE patient_id = $1 ORDER BY noted_at DESC, id`, patientID)
}

func (r *allergyRepoPG) ListByPatientAndType(ctx context.Context, patientID uuid.UUID, allergenType string) ([]*Allergy, error) {
	return r.list(ctx, "find allergies",
		`SELECT `+allergyCols+` FROM allergy WHERE patient_id = $1 AND allergen_type = $2 ORDER BY noted_at, id`,
		patientID, allergenType)
}
