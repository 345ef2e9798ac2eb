package assignment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/erqueue/erqueue/internal/domain/doctor"
	"github.com/erqueue/erqueue/internal/domain/patient"
	"github.com/erqueue/erqueue/internal/domain/queue"
	"github.com/erqueue/erqueue/internal/domain/triage"
	"github.com/erqueue/erqueue/internal/platform/apperr"
	"github.com/erqueue/erqueue/internal/platform/db"
	"github.com/erqueue/erqueue/internal/platform/notify"
)

const DefaultMaxAttempts = 5

type Deps struct {
	Tx       db.Transactor
	Queue    queue.Store
	Doctors  doctor.Registry
	Sessions SessionRepository
	Triage   triage.Repository
	Patients patient.Directory
	Notifier notify.Notifier
	Logger   zerolog.Logger

	// MaxAttempts bounds how often TryAssign re-reads the head of the queue
	// after losing it to another doctor.
	MaxAttempts int
	Now         func() time.Time
}

// Coordinator pairs doctors with waiting patients. Every operation commits
// all of its writes or none of them, and signals the notifier only after a
// commit.
type Coordinator struct {
	tx          db.Transactor
	queue       queue.Store
	doctors     doctor.Registry
	sessions    SessionRepository
	triage      triage.Repository
	patients    patient.Directory
	notifier    notify.Notifier
	logger      zerolog.Logger
	maxAttempts int
	now         func() time.Time
	locks       *keyedMutex
}

func NewCoordinator(d Deps) *Coordinator {
	c := &Coordinator{
		tx:          d.Tx,
		queue:       d.Queue,
		doctors:     d.Doctors,
		sessions:    d.Sessions,
		triage:      d.Triage,
		patients:    d.Patients,
		notifier:    d.Notifier,
		logger:      d.Logger.With().Str("component", "assignment").Logger(),
		maxAttempts: d.MaxAttempts,
		now:         d.Now,
		locks:       newKeyedMutex(),
	}
	if c.notifier == nil {
		c.notifier = notify.Nop{}
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = DefaultMaxAttempts
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// TryAssign gives the highest-priority waiting patient to doctorID.
func (c *Coordinator) TryAssign(ctx context.Context, doctorID uuid.UUID) (*Assignment, error) {
	unlock, err := c.locks.Lock(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var out *Assignment
	err = c.tx.WithinTx(ctx, func(ctx context.Context) error {
		d, err := c.doctors.GetForUpdate(ctx, doctorID)
		if err != nil {
			return err
		}
		if err := eligibleForAssignment(d); err != nil {
			return err
		}

		entry, err := c.claimHead(ctx)
		if err != nil {
			return err
		}

		rec, err := c.triage.GetByID(ctx, entry.TriageID)
		if err != nil {
			return fmt.Errorf("load triage for entry %s: %w", entry.ID, err)
		}
		p, err := c.patients.Get(ctx, entry.PatientID)
		if err != nil {
			return fmt.Errorf("load patient for entry %s: %w", entry.ID, err)
		}

		s := &Session{
			ID:           uuid.New(),
			DoctorID:     doctorID,
			PatientID:    entry.PatientID,
			QueueEntryID: entry.ID,
			StartTime:    c.now().UTC(),
		}
		if err := c.sessions.Create(ctx, s); err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		if _, err := c.doctors.AttachSession(ctx, doctorID, s.ID); err != nil {
			return fmt.Errorf("attach session: %w", err)
		}

		out = &Assignment{Session: s, Patient: p, Triage: rec, Entry: entry}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info().
		Str("doctor_id", doctorID.String()).
		Str("session_id", out.Session.ID.String()).
		Str("queue_entry_id", out.Entry.ID.String()).
		Int("urgency_score", out.Entry.UrgencyScore).
		Msg("patient assigned")
	c.notifier.Publish(notify.KindSessionStarted)
	c.notifier.Publish(notify.KindQueueUpdated)
	return out, nil
}

func eligibleForAssignment(d *doctor.Doctor) error {
	switch {
	case !d.Role.IsClinician():
		return fmt.Errorf("staff %s with role %s cannot take patients: %w", d.ID, d.Role, apperr.ErrNotEligible)
	case d.HasActiveSession():
		return fmt.Errorf("doctor %s is already in session %s: %w", d.ID, *d.ActiveSessionID, apperr.ErrNotEligible)
	case !d.Available:
		return fmt.Errorf("doctor %s is not available: %w", d.ID, apperr.ErrNotEligible)
	}
	return nil
}

// claimHead moves the head of the queue to IN_SESSION. Losing the head to a
// concurrent claim re-reads the new head, up to maxAttempts times.
func (c *Coordinator) claimHead(ctx context.Context) (*queue.Entry, error) {
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		head, err := c.queue.PeekHighest(ctx)
		if err != nil {
			return nil, err
		}
		entry, err := c.queue.MarkInSession(ctx, head.ID, head.Version)
		if err == nil {
			return entry, nil
		}
		if !errors.Is(err, apperr.ErrTransientConflict) {
			return nil, err
		}
		c.logger.Debug().Err(err).Int("attempt", attempt).Msg("queue head taken, retrying")
	}
	return nil, fmt.Errorf("queue head contended after %d attempts: %w", c.maxAttempts, apperr.ErrServiceUnavailable)
}

// Complete closes sessionID with notes on behalf of requestingDoctorID and
// frees the doctor for the next patient.
func (c *Coordinator) Complete(ctx context.Context, sessionID uuid.UUID, notes string, requestingDoctorID uuid.UUID) (*Completion, error) {
	unlock, err := c.locks.Lock(ctx, requestingDoctorID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	out := &Completion{}
	err = c.tx.WithinTx(ctx, func(ctx context.Context) error {
		s, err := c.sessions.GetForUpdate(ctx, sessionID)
		if err != nil {
			return err
		}
		if s.DoctorID != requestingDoctorID {
			return fmt.Errorf("session %s belongs to another doctor: %w", sessionID, apperr.ErrUnauthorized)
		}
		if strings.TrimSpace(notes) == "" {
			return fmt.Errorf("medical notes are required: %w", apperr.ErrValidation)
		}
		if !s.Open() {
			return fmt.Errorf("session %s: %w", sessionID, apperr.ErrAlreadyCompleted)
		}

		closed, err := c.sessions.Close(ctx, sessionID, notes, c.now().UTC())
		if err != nil {
			return err
		}
		out.Session = closed

		entry, err := c.inSessionEntry(ctx, s)
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			msg := fmt.Sprintf("no in-session queue entry found for patient %s", s.PatientID)
			c.logger.Warn().Str("session_id", sessionID.String()).Msg(msg)
			out.Warnings = append(out.Warnings, msg)
		case err != nil:
			return err
		default:
			if out.Entry, err = c.queue.MarkCompleted(ctx, entry.ID, entry.Version); err != nil {
				return fmt.Errorf("complete queue entry %s: %w", entry.ID, err)
			}
		}

		if _, err := c.doctors.DetachSession(ctx, requestingDoctorID); err != nil {
			return fmt.Errorf("release doctor: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info().
		Str("doctor_id", requestingDoctorID.String()).
		Str("session_id", sessionID.String()).
		Msg("session completed")
	c.notifier.Publish(notify.KindSessionCompleted)
	c.notifier.Publish(notify.KindQueueUpdated)
	return out, nil
}

// inSessionEntry finds the entry a session is serving: the one it was
// opened for, or failing that the patient's oldest in-session entry.
func (c *Coordinator) inSessionEntry(ctx context.Context, s *Session) (*queue.Entry, error) {
	if s.QueueEntryID != uuid.Nil {
		e, err := c.queue.Get(ctx, s.QueueEntryID)
		if err == nil && e.Status == queue.StatusInSession {
			return e, nil
		}
		if err != nil && !errors.Is(err, apperr.ErrNotFound) {
			return nil, err
		}
	}
	return c.queue.FindInSessionByPatient(ctx, s.PatientID)
}

// ToggleAvailability flips the doctor's availability and returns the new
// state.
func (c *Coordinator) ToggleAvailability(ctx context.Context, doctorID uuid.UUID) (*doctor.Doctor, error) {
	unlock, err := c.locks.Lock(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var out *doctor.Doctor
	err = c.tx.WithinTx(ctx, func(ctx context.Context) error {
		d, err := c.doctors.GetForUpdate(ctx, doctorID)
		if err != nil {
			return err
		}
		if !d.Role.IsClinician() {
			return fmt.Errorf("only doctors can toggle availability: %w", apperr.ErrNotEligible)
		}
		target := !d.Available
		if target && d.HasActiveSession() {
			return fmt.Errorf("doctor %s has open session %s: %w", doctorID, *d.ActiveSessionID, apperr.ErrActiveSessionConflict)
		}
		out, err = c.doctors.SetAvailable(ctx, doctorID, target)
		return err
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info().Str("doctor_id", doctorID.String()).Bool("available", out.Available).Msg("availability changed")
	c.notifier.Publish(notify.KindDoctorAvailability)
	return out, nil
}

// CurrentSession returns the doctor's open session with its patient and the
// patient's latest triage.
func (c *Coordinator) CurrentSession(ctx context.Context, doctorID uuid.UUID) (*Assignment, error) {
	s, err := c.sessions.FindOpenByDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	out := &Assignment{Session: s}

	if out.Patient, err = c.patients.Get(ctx, s.PatientID); err != nil {
		return nil, fmt.Errorf("load patient: %w", err)
	}
	if rec, err := c.triage.LatestByPatient(ctx, s.PatientID); err == nil {
		out.Triage = rec
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, fmt.Errorf("load triage: %w", err)
	}
	if e, err := c.queue.Get(ctx, s.QueueEntryID); err == nil {
		out.Entry = e
	}
	return out, nil
}
