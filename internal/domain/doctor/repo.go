package doctor

import (
	"context"

	"github.com/google/uuid"
)

// Registry tracks doctor availability and the single open session each
// doctor may hold.
type Registry interface {
	Create(ctx context.Context, d *Doctor) error
	Get(ctx context.Context, id uuid.UUID) (*Doctor, error)
	// GetForUpdate reads the doctor and, inside a transaction, holds a row
	// lock on it until the transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Doctor, error)
	// SetAvailable fails with apperr.ErrActiveSessionConflict when value is
	// true and the doctor holds an open session.
	SetAvailable(ctx context.Context, id uuid.UUID, value bool) (*Doctor, error)
	// AttachSession binds sessionID and marks the doctor unavailable.
	AttachSession(ctx context.Context, id, sessionID uuid.UUID) (*Doctor, error)
	// DetachSession clears the open session and marks the doctor available.
	DetachSession(ctx context.Context, id uuid.UUID) (*Doctor, error)
}
