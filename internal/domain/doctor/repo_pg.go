package doctor

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/erqueue/erqueue/internal/platform/apperr"
	"github.com/erqueue/erqueue/internal/platform/db"
)

type registryPG struct{ pool *pgxpool.Pool }

func NewRegistryPG(pool *pgxpool.Pool) Registry { return &registryPG{pool: pool} }

func (r *registryPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const doctorCols = `id, name, role, available, active_session_id, updated_at`

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	if err := row.Scan(&d.ID, &d.Name, &d.Role, &d.Available, &d.ActiveSessionID, &d.UpdatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

func notFound(id uuid.UUID, err error) error {
	if db.IsNoRows(err) {
		return fmt.Errorf("doctor %s: %w", id, apperr.ErrNotFound)
	}
	return err
}

func (r *registryPG) Create(ctx context.Context, d *Doctor) error {
	if !d.Role.Valid() {
		return fmt.Errorf("role %q: %w", d.Role, apperr.ErrValidation)
	}
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO doctor (id, name, role, available, active_session_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING updated_at`,
		d.ID, d.Name, d.Role, d.Available, d.ActiveSessionID,
	).Scan(&d.UpdatedAt)
}

func (r *registryPG) Get(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	d, err := scanDoctor(r.conn(ctx).QueryRow(ctx, `SELECT `+doctorCols+` FROM doctor WHERE id = $1`, id))
	return d, notFound(id, err)
}

func (r *registryPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	d, err := scanDoctor(r.conn(ctx).QueryRow(ctx, `SELECT `+doctorCols+` FROM doctor WHERE id = $1 FOR UPDATE`, id))
	return d, notFound(id, err)
}

func (r *registryPG) SetAvailable(ctx context.Context, id uuid.UUID, value bool) (*Doctor, error) {
	d, err := scanDoctor(r.conn(ctx).QueryRow(ctx, `
		UPDATE doctor SET available = $2, updated_at = NOW()
		WHERE id = $1 AND (NOT $2 OR active_session_id IS NULL)
		RETURNING `+doctorCols, id, value))
	if err == nil {
		return d, nil
	}
	if !db.IsNoRows(err) {
		return nil, err
	}
	if _, err := r.Get(ctx, id); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("doctor %s has an open session: %w", id, apperr.ErrActiveSessionConflict)
}

func (r *registryPG) AttachSession(ctx context.Context, id, sessionID uuid.UUID) (*Doctor, error) {
	d, err := scanDoctor(r.conn(ctx).QueryRow(ctx, `
		UPDATE doctor SET active_session_id = $2, available = FALSE, updated_at = NOW()
		WHERE id = $1 AND active_session_id IS NULL
		RETURNING `+doctorCols, id, sessionID))
	if err == nil {
		return d, nil
	}
	if !db.IsNoRows(err) {
		return nil, err
	}
	if _, err := r.Get(ctx, id); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("doctor %s has an open session: %w", id, apperr.ErrActiveSessionConflict)
}

func (r *registryPG) DetachSession(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	d, err := scanDoctor(r.conn(ctx).QueryRow(ctx, `
		UPDATE doctor SET active_session_id = NULL, available = TRUE, updated_at = NOW()
		WHERE id = $1
		RETURNING `+doctorCols, id))
	return d, notFound(id, err)
}
