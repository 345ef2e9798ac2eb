package triage

import (
	"context"

	"github.com/google/uuid"
)

// Repository stores triage records. Records are never updated.
type Repository interface {
	Create(ctx context.Context, r *Record) error
	GetByID(ctx context.Context, id uuid.UUID) (*Record, error)
	LatestByPatient(ctx context.Context, patientID uuid.UUID) (*Record, error)
}
