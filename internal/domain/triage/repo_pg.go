package triage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/erqueue/erqueue/internal/platform/apperr"
	"github.com/erqueue/erqueue/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const recordCols = `id, patient_id, heart_rate, blood_pressure, pain_level, symptoms, created_at`

func scanRecord(row pgx.Row) (*Record, error) {
	var t Record
	if err := row.Scan(&t.ID, &t.PatientID, &t.HeartRate, &t.BloodPressure, &t.PainLevel, &t.Symptoms, &t.CreatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *repoPG) Create(ctx context.Context, t *Record) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO triage_record (id, patient_id, heart_rate, blood_pressure, pain_level, symptoms)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		t.ID, t.PatientID, t.HeartRate, t.BloodPressure, t.PainLevel, t.Symptoms,
	).Scan(&t.CreatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Record, error) {
	t, err := scanRecord(r.conn(ctx).QueryRow(ctx, `SELECT `+recordCols+` FROM triage_record WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, fmt.Errorf("triage record %s: %w", id, apperr.ErrNotFound)
	}
	return t, err
}

func (r *repoPG) LatestByPatient(ctx context.Context, patientID uuid.UUID) (*Record, error) {
	t, err := scanRecord(r.conn(ctx).QueryRow(ctx, `
		SELECT `+recordCols+` FROM triage_record
		WHERE patient_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, patientID))
	if db.IsNoRows(err) {
		return nil, fmt.Errorf("triage record for patient %s: %w", patientID, apperr.ErrNotFound)
	}
	return t, err
}
