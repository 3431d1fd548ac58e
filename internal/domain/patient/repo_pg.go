package patient

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

func connFor(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

// =========== Demographics Repository ===========

type demographicsRepoPG struct{ pool *pgxpool.Pool }

func NewDemographicsRepoPG(pool *pgxpool.Pool) DemographicsRepository {
	return &demographicsRepoPG{pool: pool}
}

func (r *demographicsRepoPG) Get(ctx context.Context, patientID uuid.UUID) (*Demographics, error) {
	var d Demographics
	err := connFor(ctx, r.pool).QueryRow(ctx, `
		SELECT patient_id, gender, date_of_birth, updated_at
		FROM patient_demographics WHERE patient_id = $1`, patientID,
	).Scan(&d.PatientID, &d.Gender, &d.DateOfBirth, &d.UpdatedAt)
	if err != nil {
		return nil, db.Lookup("get demographics", err)
	}
	return &d, nil
}

func (r *demographicsRepoPG) Upsert(ctx context.Context, d *Demographics) error {
	err := connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO patient_demographics (patient_id, gender, date_of_birth)
		VALUES ($1, $2, $3)
		ON CONFLICT (patient_id) DO UPDATE SET
			gender = EXCLUDED.gender, date_of_birth = EXCLUDED.date_of_birth, updated_at = NOW()
		RETURNING updated_at`,
		d.PatientID, d.Gender, d.DateOfBirth,
	).Scan(&d.UpdatedAt)
	return db.Unavailable("upsert demographics", err)
}

// =========== Safety Profile Repository ===========

type safetyProfileRepoPG struct{ pool *pgxpool.Pool }

func NewSafetyProfileRepoPG(pool *pgxpool.Pool) SafetyProfileRepository {
	return &safetyProfileRepoPG{pool: pool}
}

const profileCols = `patient_id, has_pacemaker, has_metal_implants, metal_implant_details,
	has_contrast_allergy, contrast_allergy_type, contrast_allergy_details,
	has_renal_impairment, last_egfr, last_creatinine, is_pregnant, updated_at`

func (r *safetyProfileRepoPG) Get(ctx context.Context, patientID uuid.UUID) (*SafetyProfile, error) {
	var p SafetyProfile
	err := connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+profileCols+` FROM patient_safety_profile WHERE patient_id = $1`, patientID,
	).Scan(&p.PatientID, &p.HasPacemaker, &p.HasMetalImplants, &p.MetalImplantDetails,
		&p.HasContrastAllergy, &p.ContrastAllergyType, &p.ContrastAllergyDetails,
		&p.HasRenalImpairment, &p.LastEGFR, &p.LastCreatinine, &p.IsPregnant, &p.UpdatedAt)
	if err != nil {
		return nil, db.Lookup("get safety profile", err)
	}
	return &p, nil
}

func (r *safetyProfileRepoPG) Upsert(ctx context.Context, p *SafetyProfile) error {
	err := connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO patient_safety_profile (patient_id, has_pacemaker, has_metal_implants, metal_implant_details,
			has_contrast_allergy, contrast_allergy_type, contrast_allergy_details,
			has_renal_impairment, last_egfr, last_creatinine, is_pregnant)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (patient_id) DO UPDATE SET
			has_pacemaker = EXCLUDED.has_pacemaker,
			has_metal_implants = EXCLUDED.has_metal_implants,
			metal_implant_details = EXCLUDED.metal_implant_details,
			has_contrast_allergy = EXCLUDED.has_contrast_allergy,
			contrast_allergy_type = EXCLUDED.contrast_allergy_type,
			contrast_allergy_details = EXCLUDED.contrast_allergy_details,
			has_renal_impairment = EXCLUDED.has_renal_impairment,
			last_egfr = EXCLUDED.last_egfr,
			last_creatinine = EXCLUDED.last_creatinine,
			is_pregnant = EXCLUDED.is_pregnant,
			updated_at = NOW()
		RETURNING updated_at`,
		p.PatientID, p.HasPacemaker, p.HasMetalImplants, p.MetalImplantDetails,
		p.HasContrastAllergy, p.ContrastAllergyType, p.ContrastAllergyDetails,
		p.HasRenalImpairment, p.LastEGFR, p.LastCreatinine, p.IsPregnant,
	).Scan(&p.UpdatedAt)
	return db.Unavailable("upsert safety profile", err)
}
