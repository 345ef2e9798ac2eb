package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/erqueue/erqueue/internal/platform/apperr"
	"github.com/erqueue/erqueue/internal/platform/db"
	"github.com/erqueue/erqueue/pkg/pagination"
)

type memoryStore struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*Entry
	now     func() time.Time
}

// NewMemoryStore returns a Store held in process memory. Writes made inside
// a db.MemoryTransactor unit are undone if the unit aborts.
func NewMemoryStore() Store {
	return &memoryStore{entries: make(map[uuid.UUID]*Entry), now: time.Now}
}

func (s *memoryStore) Insert(ctx context.Context, e *Entry, policy DuplicatePolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if policy == RejectDuplicates {
		for _, cur := range s.entries {
			if cur.PatientID == e.PatientID && cur.Status.Active() {
				return fmt.Errorf("patient %s: %w", e.PatientID, apperr.ErrDuplicateActiveEntry)
			}
		}
	}

	now := s.now().UTC()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.EntryTime.IsZero() {
		e.EntryTime = now
	}
	e.Status = StatusWaiting
	e.Version = 1
	e.UpdatedAt = now

	if _, exists := s.entries[e.ID]; exists {
		return fmt.Errorf("queue entry %s already exists", e.ID)
	}
	cp := *e
	s.entries[e.ID] = &cp

	id := e.ID
	db.OnRollback(ctx, func() {
		s.mu.Lock()
		delete(s.entries, id)
		s.mu.Unlock()
	})
	return nil
}

func (s *memoryStore) Get(_ context.Context, id uuid.UUID) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("queue entry %s: %w", id, apperr.ErrNotFound)
	}
	cp := *e
	return &cp, nil
}

func (s *memoryStore) PeekHighest(_ context.Context) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var head *Entry
	for _, e := range s.entries {
		if e.Status != StatusWaiting {
			continue
		}
		if head == nil || Less(e, head) {
			head = e
		}
	}
	if head == nil {
		return nil, apperr.ErrQueueEmpty
	}
	cp := *head
	return &cp, nil
}

func (s *memoryStore) MarkInSession(ctx context.Context, id uuid.UUID, expectedVersion int64) (*Entry, error) {
	return s.transition(ctx, id, StatusWaiting, StatusInSession, expectedVersion)
}

func (s *memoryStore) MarkCompleted(ctx context.Context, id uuid.UUID, expectedVersion int64) (*Entry, error) {
	return s.transition(ctx, id, StatusInSession, StatusCompleted, expectedVersion)
}

func (s *memoryStore) transition(ctx context.Context, id uuid.UUID, from, to Status, expectedVersion int64) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("queue entry %s: %w", id, apperr.ErrNotFound)
	}
	if e.Version != expectedVersion {
		return nil, fmt.Errorf("queue entry %s at version %d, expected %d: %w",
			id, e.Version, expectedVersion, apperr.ErrTransientConflict)
	}
	if e.Status != from {
		return nil, fmt.Errorf("queue entry %s is %s, not %s: %w", id, e.Status, from, apperr.ErrInvalidTransition)
	}

	prev := *e
	e.Status = to
	e.Version++
	e.UpdatedAt = s.now().UTC()
	written := e.Version

	db.OnRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		// Only restore if nothing has moved the entry on since.
		if cur, ok := s.entries[id]; ok && cur.Version == written {
			*cur = prev
		}
	})

	cp := *e
	return &cp, nil
}

func (s *memoryStore) ListWaiting(_ context.Context, limit, offset int) ([]*Entry, int, error) {
	s.mu.Lock()
	waiting := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if e.Status == StatusWaiting {
			cp := *e
			waiting = append(waiting, &cp)
		}
	}
	s.mu.Unlock()

	sort.Slice(waiting, func(i, j int) bool { return Less(waiting[i], waiting[j]) })

	total := len(waiting)
	if limit <= 0 {
		limit = total
	}
	lo, hi := pagination.Params{Limit: limit, Offset: offset}.Window(total)
	return waiting[lo:hi], total, nil
}

func (s *memoryStore) FindInSessionByPatient(_ context.Context, patientID uuid.UUID) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var found *Entry
	for _, e := range s.entries {
		if e.PatientID != patientID || e.Status != StatusInSession {
			continue
		}
		if found == nil || e.EntryTime.Before(found.EntryTime) {
			found = e
		}
	}
	if found == nil {
		return nil, fmt.Errorf("in-session entry for patient %s: %w", patientID, apperr.ErrNotFound)
	}
	cp := *found
	return &cp, nil
}
