package patient

import (
	"context"

	"github.com/google/uuid"
)

// Directory is read access to patient demographics. Registration lives
// outside this service; Create exists for seeding.
type Directory interface {
	Get(ctx context.Context, id uuid.UUID) (*Patient, error)
	Create(ctx context.Context, p *Patient) error
}
