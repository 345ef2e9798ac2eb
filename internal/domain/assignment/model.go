package assignment

import (
	"time"

	"github.com/google/uuid"

	"github.com/erqueue/erqueue/internal/domain/patient"
	"github.com/erqueue/erqueue/internal/domain/queue"
	"github.com/erqueue/erqueue/internal/domain/triage"
)

// Session is one doctor-patient encounter. It is open while EndTime is nil.
type Session struct {
	ID           uuid.UUID  `json:"id"`
	DoctorID     uuid.UUID  `json:"doctor_id"`
	PatientID    uuid.UUID  `json:"patient_id"`
	QueueEntryID uuid.UUID  `json:"queue_entry_id"`
	StartTime    time.Time  `json:"start_time"`
	EndTime      *time.Time `json:"end_time,omitempty"`
	MedicalNotes *string    `json:"medical_notes,omitempty"`
}

func (s *Session) Open() bool { return s.EndTime == nil }

// Assignment is what a doctor receives when taking the next patient.
type Assignment struct {
	Session *Session         `json:"session"`
	Patient *patient.Patient `json:"patient"`
	Triage  *triage.Record   `json:"triage"`
	Entry   *queue.Entry     `json:"queue_entry"`
}

// Completion reports a closed session. Warnings lists inconsistencies found
// while closing that did not prevent it.
type Completion struct {
	Session  *Session     `json:"session"`
	Entry    *queue.Entry `json:"queue_entry,omitempty"`
	Warnings []string     `json:"warnings,omitempty"`
}
