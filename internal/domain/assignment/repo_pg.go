package assignment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/erqueue/erqueue/internal/platform/apperr"
	"github.com/erqueue/erqueue/internal/platform/db"
)

const uniqueViolation = "23505"

type sessionRepoPG struct{ pool *pgxpool.Pool }

func NewSessionRepoPG(pool *pgxpool.Pool) SessionRepository { return &sessionRepoPG{pool: pool} }

func (r *sessionRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const sessionCols = `id, doctor_id, patient_id, queue_entry_id, start_time, end_time, medical_notes`

func scanSession(row pgx.Row) (*Session, error) {
	var s Session
	if err := row.Scan(&s.ID, &s.DoctorID, &s.PatientID, &s.QueueEntryID, &s.StartTime, &s.EndTime, &s.MedicalNotes); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *sessionRepoPG) Create(ctx context.Context, s *Session) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO doctor_session (id, doctor_id, patient_id, queue_entry_id, start_time)
		VALUES ($1, $2, $3, $4, $5)`,
		s.ID, s.DoctorID, s.PatientID, s.QueueEntryID, s.StartTime)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("doctor %s already in session: %w", s.DoctorID, apperr.ErrActiveSessionConflict)
	}
	return err
}

func (r *sessionRepoPG) Get(ctx context.Context, id uuid.UUID) (*Session, error) {
	s, err := scanSession(r.conn(ctx).QueryRow(ctx, `SELECT `+sessionCols+` FROM doctor_session WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, fmt.Errorf("session %s: %w", id, apperr.ErrNotFound)
	}
	return s, err
}

func (r *sessionRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Session, error) {
	s, err := scanSession(r.conn(ctx).QueryRow(ctx, `SELECT `+sessionCols+` FROM doctor_session WHERE id = $1 FOR UPDATE`, id))
	if db.IsNoRows(err) {
		return nil, fmt.Errorf("session %s: %w", id, apperr.ErrNotFound)
	}
	return s, err
}

func (r *sessionRepoPG) Close(ctx context.Context, id uuid.UUID, notes string, at time.Time) (*Session, error) {
	s, err := scanSession(r.conn(ctx).QueryRow(ctx, `
		UPDATE doctor_session SET end_time = $2, medical_notes = $3
		WHERE id = $1 AND end_time IS NULL
		RETURNING `+sessionCols, id, at, notes))
	if err == nil {
		return s, nil
	}
	if !db.IsNoRows(err) {
		return nil, err
	}
	if _, err := r.Get(ctx, id); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("session %s: %w", id, apperr.ErrAlreadyCompleted)
}

func (r *sessionRepoPG) FindOpenByDoctor(ctx context.Context, doctorID uuid.UUID) (*Session, error) {
	s, err := scanSession(r.conn(ctx).QueryRow(ctx, `
		SELECT `+sessionCols+` FROM doctor_session
		WHERE doctor_id = $1 AND end_time IS NULL`, doctorID))
	if db.IsNoRows(err) {
		return nil, fmt.Errorf("open session for doctor %s: %w", doctorID, apperr.ErrNotFound)
	}
	return s, err
}
