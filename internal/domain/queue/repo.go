package queue

import (
	"context"

	"github.com/google/uuid"
)

// Store persists queue entries. Implementations honour the transaction bound
// to ctx by db.Transactor.
type Store interface {
	// Insert assigns ID, Version and timestamps when unset and stores e as
	// WAITING.
	Insert(ctx context.Context, e *Entry, policy DuplicatePolicy) error
	Get(ctx context.Context, id uuid.UUID) (*Entry, error)
	// PeekHighest returns the first WAITING entry in service order, or
	// apperr.ErrQueueEmpty.
	PeekHighest(ctx context.Context) (*Entry, error)
	// MarkInSession moves a WAITING entry to IN_SESSION when its version
	// still equals expectedVersion.
	MarkInSession(ctx context.Context, id uuid.UUID, expectedVersion int64) (*Entry, error)
	// MarkCompleted moves an IN_SESSION entry to COMPLETED.
	MarkCompleted(ctx context.Context, id uuid.UUID, expectedVersion int64) (*Entry, error)
	ListWaiting(ctx context.Context, limit, offset int) ([]*Entry, int, error)
	FindInSessionByPatient(ctx context.Context, patientID uuid.UUID) (*Entry, error)
}
