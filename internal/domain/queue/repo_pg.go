package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/erqueue/erqueue/internal/platform/apperr"
	"github.com/erqueue/erqueue/internal/platform/db"
)

type storePG struct{ pool *pgxpool.Pool }

func NewStorePG(pool *pgxpool.Pool) Store { return &storePG{pool: pool} }

func (r *storePG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const entryCols = `id, triage_id, patient_id, urgency_score, entry_time, status, version, updated_at`

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	if err := row.Scan(&e.ID, &e.TriageID, &e.PatientID, &e.UrgencyScore,
		&e.EntryTime, &e.Status, &e.Version, &e.UpdatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *storePG) Insert(ctx context.Context, e *Entry, policy DuplicatePolicy) error {
	if db.ConnFromContext(ctx) == nil {
		// The advisory lock below is transaction scoped.
		return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
			return r.insert(ctx, tx, e, policy)
		})
	}
	return r.insert(ctx, r.conn(ctx), e, policy)
}

func (r *storePG) insert(ctx context.Context, q db.Querier, e *Entry, policy DuplicatePolicy) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.EntryTime.IsZero() {
		e.EntryTime = time.Now().UTC()
	}

	if policy == RejectDuplicates {
		if _, err := q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1::text))`, e.PatientID); err != nil {
			return fmt.Errorf("lock patient %s: %w", e.PatientID, err)
		}
		var exists bool
		err := q.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM queue_entry
				WHERE patient_id = $1 AND status IN ('WAITING', 'IN_SESSION'))`,
			e.PatientID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check active entries: %w", err)
		}
		if exists {
			return fmt.Errorf("patient %s: %w", e.PatientID, apperr.ErrDuplicateActiveEntry)
		}
	}

	return q.QueryRow(ctx, `
		INSERT INTO queue_entry (id, triage_id, patient_id, urgency_score, entry_time, status, version)
		VALUES ($1, $2, $3, $4, $5, 'WAITING', 1)
		RETURNING status, version, updated_at`,
		e.ID, e.TriageID, e.PatientID, e.UrgencyScore, e.EntryTime,
	).Scan(&e.Status, &e.Version, &e.UpdatedAt)
}

func (r *storePG) Get(ctx context.Context, id uuid.UUID) (*Entry, error) {
	e, err := scanEntry(r.conn(ctx).QueryRow(ctx, `SELECT `+entryCols+` FROM queue_entry WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, fmt.Errorf("queue entry %s: %w", id, apperr.ErrNotFound)
	}
	return e, err
}

func (r *storePG) PeekHighest(ctx context.Context) (*Entry, error) {
	e, err := scanEntry(r.conn(ctx).QueryRow(ctx, `
		SELECT `+entryCols+` FROM queue_entry
		WHERE status = 'WAITING'
		ORDER BY urgency_score DESC, entry_time ASC, id ASC
		LIMIT 1`))
	if db.IsNoRows(err) {
		return nil, apperr.ErrQueueEmpty
	}
	return e, err
}

func (r *storePG) MarkInSession(ctx context.Context, id uuid.UUID, expectedVersion int64) (*Entry, error) {
	return r.transition(ctx, id, StatusWaiting, StatusInSession, expectedVersion)
}

func (r *storePG) MarkCompleted(ctx context.Context, id uuid.UUID, expectedVersion int64) (*Entry, error) {
	return r.transition(ctx, id, StatusInSession, StatusCompleted, expectedVersion)
}

func (r *storePG) transition(ctx context.Context, id uuid.UUID, from, to Status, expectedVersion int64) (*Entry, error) {
	e, err := scanEntry(r.conn(ctx).QueryRow(ctx, `
		UPDATE queue_entry SET status = $4, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND status = $2 AND version = $3
		RETURNING `+entryCols,
		id, from, expectedVersion, to))
	if err == nil {
		return e, nil
	}
	if !db.IsNoRows(err) {
		return nil, err
	}

	// Nothing matched: work out which guard failed.
	var status Status
	var version int64
	err = r.conn(ctx).QueryRow(ctx, `SELECT status, version FROM queue_entry WHERE id = $1`, id).Scan(&status, &version)
	switch {
	case db.IsNoRows(err):
		return nil, fmt.Errorf("queue entry %s: %w", id, apperr.ErrNotFound)
	case err != nil:
		return nil, err
	case version != expectedVersion:
		return nil, fmt.Errorf("queue entry %s at version %d, expected %d: %w",
			id, version, expectedVersion, apperr.ErrTransientConflict)
	default:
		return nil, fmt.Errorf("queue entry %s is %s, not %s: %w", id, status, from, apperr.ErrInvalidTransition)
	}
}

func (r *storePG) ListWaiting(ctx context.Context, limit, offset int) ([]*Entry, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM queue_entry WHERE status = 'WAITING'`).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + entryCols + ` FROM queue_entry
		WHERE status = 'WAITING'
		ORDER BY urgency_score DESC, entry_time ASC, id ASC
		OFFSET $1`
	args := []interface{}{offset}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}

func (r *storePG) FindInSessionByPatient(ctx context.Context, patientID uuid.UUID) (*Entry, error) {
	e, err := scanEntry(r.conn(ctx).QueryRow(ctx, `
		SELECT `+entryCols+` FROM queue_entry
		WHERE patient_id = $1 AND status = 'IN_SESSION'
		ORDER BY entry_time ASC
		LIMIT 1`, patientID))
	if db.IsNoRows(err) {
		return nil, fmt.Errorf("in-session entry for patient %s: %w", patientID, apperr.ErrNotFound)
	}
	return e, err
}
