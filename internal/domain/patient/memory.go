package patient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/erqueue/erqueue/internal/platform/apperr"
	"github.com/erqueue/erqueue/internal/platform/db"
)

type memoryDirectory struct {
	mu       sync.RWMutex
	patients map[uuid.UUID]*Patient
}

func NewMemoryDirectory() Directory {
	return &memoryDirectory{patients: make(map[uuid.UUID]*Patient)}
}

func (d *memoryDirectory) Create(ctx context.Context, p *Patient) error {
	if p.MedicalRecordNumber == "" {
		return fmt.Errorf("medical record number is required: %w", apperr.ErrValidation)
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = time.Now().UTC()

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, cur := range d.patients {
		if cur.MedicalRecordNumber == p.MedicalRecordNumber {
			return fmt.Errorf("medical record number %s already registered: %w", p.MedicalRecordNumber, apperr.ErrValidation)
		}
	}
	cp := *p
	d.patients[p.ID] = &cp

	id := p.ID
	db.OnRollback(ctx, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.patients[id] == &cp {
			delete(d.patients, id)
		}
	})
	return nil
}

func (d *memoryDirectory) Get(_ context.Context, id uuid.UUID) (*Patient, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.patients[id]
	if !ok {
		return nil, fmt.Errorf("patient %s: %w", id, apperr.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}
