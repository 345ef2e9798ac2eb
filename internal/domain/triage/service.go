package triage

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/erqueue/erqueue/internal/domain/patient"
	"github.com/erqueue/erqueue/internal/domain/queue"
	"github.com/erqueue/erqueue/internal/platform/db"
	"github.com/erqueue/erqueue/internal/platform/notify"
)

// Service records triage submissions and enqueues the patient.
type Service struct {
	tx       db.Transactor
	records  Repository
	queue    queue.Store
	patients patient.Directory
	notifier notify.Notifier
	policy   queue.DuplicatePolicy
	logger   zerolog.Logger
}

func NewService(tx db.Transactor, records Repository, q queue.Store, patients patient.Directory,
	notifier notify.Notifier, policy queue.DuplicatePolicy, logger zerolog.Logger) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Service{
		tx:       tx,
		records:  records,
		queue:    q,
		patients: patients,
		notifier: notifier,
		policy:   policy,
		logger:   logger.With().Str("component", "triage").Logger(),
	}
}

// Submit validates v, stores the triage record and its queue entry as one
// unit, then signals that the queue changed.
func (s *Service) Submit(ctx context.Context, v Vitals) (*Intake, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.patients.Get(ctx, v.PatientID); err != nil {
		return nil, fmt.Errorf("lookup patient: %w", err)
	}

	rec := &Record{
		PatientID:     v.PatientID,
		HeartRate:     v.HeartRate,
		BloodPressure: v.BloodPressure,
		PainLevel:     v.PainLevel,
		Symptoms:      v.Symptoms,
	}
	entry := &queue.Entry{
		PatientID:    v.PatientID,
		UrgencyScore: Score(v),
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.records.Create(ctx, rec); err != nil {
			return fmt.Errorf("create triage record: %w", err)
		}
		entry.TriageID = rec.ID
		if err := s.queue.Insert(ctx, entry, s.policy); err != nil {
			return fmt.Errorf("enqueue: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("patient_id", v.PatientID.String()).
		Str("queue_entry_id", entry.ID.String()).
		Int("urgency_score", entry.UrgencyScore).
		Msg("patient triaged")
	s.notifier.Publish(notify.KindQueueUpdated)

	return &Intake{Triage: rec, QueueEntry: entry}, nil
}

// Enrich attaches patient and triage details to queue entries for display.
// Missing details are left empty rather than failing the listing.
func (s *Service) Enrich(ctx context.Context, entries []*queue.Entry) (interface{}, error) {
	items := make([]QueueItem, 0, len(entries))
	for _, e := range entries {
		item := QueueItem{Entry: e}
		if p, err := s.patients.Get(ctx, e.PatientID); err == nil {
			item.Patient = p
		} else {
			s.logger.Warn().Err(err).Str("queue_entry_id", e.ID.String()).Msg("patient missing for queue entry")
		}
		if t, err := s.records.GetByID(ctx, e.TriageID); err == nil {
			item.Triage = t
		} else {
			s.logger.Warn().Err(err).Str("queue_entry_id", e.ID.String()).Msg("triage missing for queue entry")
		}
		items = append(items, item)
	}
	return items, nil
}
