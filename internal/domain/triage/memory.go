package triage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/erqueue/erqueue/internal/platform/apperr"
	"github.com/erqueue/erqueue/internal/platform/db"
)

type memoryRepo struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*Record
}

func NewMemoryRepo() Repository {
	return &memoryRepo{records: make(map[uuid.UUID]*Record)}
}

func (m *memoryRepo) Create(ctx context.Context, r *Record) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	m.mu.Lock()
	cp := *r
	m.records[r.ID] = &cp
	m.mu.Unlock()

	id := r.ID
	db.OnRollback(ctx, func() {
		m.mu.Lock()
		delete(m.records, id)
		m.mu.Unlock()
	})
	return nil
}

func (m *memoryRepo) GetByID(_ context.Context, id uuid.UUID) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("triage record %s: %w", id, apperr.ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (m *memoryRepo) LatestByPatient(_ context.Context, patientID uuid.UUID) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *Record
	for _, r := range m.records {
		if r.PatientID != patientID {
			continue
		}
		if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("triage record for patient %s: %w", patientID, apperr.ErrNotFound)
	}
	cp := *latest
	return &cp, nil
}
