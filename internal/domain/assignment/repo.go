package assignment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type SessionRepository interface {
	// Create fails with apperr.ErrActiveSessionConflict when the doctor
	// already has an open session.
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id uuid.UUID) (*Session, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Session, error)
	// Close fails with apperr.ErrAlreadyCompleted when the session has ended.
	Close(ctx context.Context, id uuid.UUID, notes string, at time.Time) (*Session, error)
	FindOpenByDoctor(ctx context.Context, doctorID uuid.UUID) (*Session, error)
}
