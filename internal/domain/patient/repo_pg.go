package patient

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/erqueue/erqueue/internal/platform/apperr"
	"github.com/erqueue/erqueue/internal/platform/db"
)

type directoryPG struct{ pool *pgxpool.Pool }

func NewDirectoryPG(pool *pgxpool.Pool) Directory { return &directoryPG{pool: pool} }

func (r *directoryPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *directoryPG) Create(ctx context.Context, p *Patient) error {
	if p.MedicalRecordNumber == "" {
		return fmt.Errorf("medical record number is required: %w", apperr.ErrValidation)
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient (id, first_name, last_name, date_of_birth, medical_record_number)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		p.ID, p.FirstName, p.LastName, p.DateOfBirth, p.MedicalRecordNumber,
	).Scan(&p.CreatedAt)
}

func (r *directoryPG) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var p Patient
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, first_name, last_name, date_of_birth, medical_record_number, created_at
		FROM patient WHERE id = $1`, id,
	).Scan(&p.ID, &p.FirstName, &p.LastName, &p.DateOfBirth, &p.MedicalRecordNumber, &p.CreatedAt)
	if db.IsNoRows(err) {
		return nil, fmt.Errorf("patient %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
