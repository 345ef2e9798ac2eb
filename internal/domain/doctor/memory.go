package doctor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/erqueue/erqueue/internal/platform/apperr"
	"github.com/erqueue/erqueue/internal/platform/db"
)

type memoryRegistry struct {
	mu      sync.Mutex
	doctors map[uuid.UUID]*Doctor
	// revs counts writes per doctor so an undo step can tell whether the
	// record still holds the value it wrote.
	revs map[uuid.UUID]uint64
}

func NewMemoryRegistry() Registry {
	return &memoryRegistry{
		doctors: make(map[uuid.UUID]*Doctor),
		revs:    make(map[uuid.UUID]uint64),
	}
}

func clone(d *Doctor) *Doctor {
	cp := *d
	if d.ActiveSessionID != nil {
		id := *d.ActiveSessionID
		cp.ActiveSessionID = &id
	}
	return &cp
}

func (r *memoryRegistry) Create(ctx context.Context, d *Doctor) error {
	if !d.Role.Valid() {
		return fmt.Errorf("role %q: %w", d.Role, apperr.ErrValidation)
	}
	if d.Available && d.HasActiveSession() {
		return fmt.Errorf("doctor cannot be available with an open session: %w", apperr.ErrActiveSessionConflict)
	}
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	d.UpdatedAt = time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.doctors[d.ID]; exists {
		return fmt.Errorf("doctor %s already exists", d.ID)
	}
	r.doctors[d.ID] = clone(d)

	id := d.ID
	db.OnRollback(ctx, func() {
		r.mu.Lock()
		delete(r.doctors, id)
		r.mu.Unlock()
	})
	return nil
}

func (r *memoryRegistry) Get(_ context.Context, id uuid.UUID) (*Doctor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.doctors[id]
	if !ok {
		return nil, fmt.Errorf("doctor %s: %w", id, apperr.ErrNotFound)
	}
	return clone(d), nil
}

// GetForUpdate is Get: in-memory callers serialise per doctor themselves.
func (r *memoryRegistry) GetForUpdate(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return r.Get(ctx, id)
}

func (r *memoryRegistry) SetAvailable(ctx context.Context, id uuid.UUID, value bool) (*Doctor, error) {
	return r.update(ctx, id, func(d *Doctor) error {
		if value && d.HasActiveSession() {
			return fmt.Errorf("doctor %s has open session %s: %w", id, *d.ActiveSessionID, apperr.ErrActiveSessionConflict)
		}
		d.Available = value
		return nil
	})
}

func (r *memoryRegistry) AttachSession(ctx context.Context, id, sessionID uuid.UUID) (*Doctor, error) {
	return r.update(ctx, id, func(d *Doctor) error {
		if d.HasActiveSession() {
			return fmt.Errorf("doctor %s has open session %s: %w", id, *d.ActiveSessionID, apperr.ErrActiveSessionConflict)
		}
		d.ActiveSessionID = &sessionID
		d.Available = false
		return nil
	})
}

func (r *memoryRegistry) DetachSession(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return r.update(ctx, id, func(d *Doctor) error {
		d.ActiveSessionID = nil
		d.Available = true
		return nil
	})
}

func (r *memoryRegistry) update(ctx context.Context, id uuid.UUID, mutate func(*Doctor) error) (*Doctor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.doctors[id]
	if !ok {
		return nil, fmt.Errorf("doctor %s: %w", id, apperr.ErrNotFound)
	}
	prev := clone(d)
	next := clone(d)
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.UpdatedAt = time.Now().UTC()
	r.doctors[id] = next
	r.revs[id]++
	written := r.revs[id]

	db.OnRollback(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.revs[id] == written {
			r.doctors[id] = prev
			r.revs[id] = written - 1
		}
	})
	return clone(next), nil
}
