package assignment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/erqueue/erqueue/internal/platform/apperr"
	"github.com/erqueue/erqueue/internal/platform/db"
)

type memorySessions struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
	revs     map[uuid.UUID]uint64
}

func NewMemorySessionRepo() SessionRepository {
	return &memorySessions{
		sessions: make(map[uuid.UUID]*Session),
		revs:     make(map[uuid.UUID]uint64),
	}
}

func cloneSession(s *Session) *Session {
	cp := *s
	if s.EndTime != nil {
		t := *s.EndTime
		cp.EndTime = &t
	}
	if s.MedicalNotes != nil {
		n := *s.MedicalNotes
		cp.MedicalNotes = &n
	}
	return &cp
}

func (m *memorySessions) Create(ctx context.Context, s *Session) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cur := range m.sessions {
		if cur.DoctorID == s.DoctorID && cur.Open() {
			return fmt.Errorf("doctor %s already in session %s: %w", s.DoctorID, cur.ID, apperr.ErrActiveSessionConflict)
		}
	}
	m.sessions[s.ID] = cloneSession(s)

	id := s.ID
	db.OnRollback(ctx, func() {
		m.mu.Lock()
		delete(m.sessions, id)
		m.mu.Unlock()
	})
	return nil
}

func (m *memorySessions) Get(_ context.Context, id uuid.UUID) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, apperr.ErrNotFound)
	}
	return cloneSession(s), nil
}

func (m *memorySessions) GetForUpdate(ctx context.Context, id uuid.UUID) (*Session, error) {
	return m.Get(ctx, id)
}

func (m *memorySessions) Close(ctx context.Context, id uuid.UUID, notes string, at time.Time) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, apperr.ErrNotFound)
	}
	if !s.Open() {
		return nil, fmt.Errorf("session %s: %w", id, apperr.ErrAlreadyCompleted)
	}

	prev := cloneSession(s)
	next := cloneSession(s)
	next.EndTime = &at
	next.MedicalNotes = &notes
	m.sessions[id] = next
	m.revs[id]++
	written := m.revs[id]

	db.OnRollback(ctx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.revs[id] == written {
			m.sessions[id] = prev
			m.revs[id] = written - 1
		}
	})
	return cloneSession(next), nil
}

func (m *memorySessions) FindOpenByDoctor(_ context.Context, doctorID uuid.UUID) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.DoctorID == doctorID && s.Open() {
			return cloneSession(s), nil
		}
	}
	return nil, fmt.Errorf("open session for doctor %s: %w", doctorID, apperr.ErrNotFound)
}
