package queue

import (
	"bytes"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a queue entry. Transitions only move
// forward: WAITING -> IN_SESSION -> COMPLETED.
type Status string

const (
	StatusWaiting   Status = "WAITING"
	StatusInSession Status = "IN_SESSION"
	StatusCompleted Status = "COMPLETED"
)

// Active reports whether the entry still occupies the patient's slot.
func (s Status) Active() bool {
	return s == StatusWaiting || s == StatusInSession
}

// Entry is a patient's place in the queue, created from one triage record.
type Entry struct {
	ID           uuid.UUID `json:"id"`
	TriageID     uuid.UUID `json:"triage_id"`
	PatientID    uuid.UUID `json:"patient_id"`
	UrgencyScore int       `json:"urgency_score"`
	EntryTime    time.Time `json:"entry_time"`
	Status       Status    `json:"status"`
	Version      int64     `json:"version"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Less orders entries for service: higher score first, then earlier entry
// time, then id so that the order is total.
func Less(a, b *Entry) bool {
	if a.UrgencyScore != b.UrgencyScore {
		return a.UrgencyScore > b.UrgencyScore
	}
	if !a.EntryTime.Equal(b.EntryTime) {
		return a.EntryTime.Before(b.EntryTime)
	}
	return bytes.Compare(a.ID[:], b.ID[:]) < 0
}

// DuplicatePolicy controls whether Insert accepts a second active entry for
// the same patient.
type DuplicatePolicy int

const (
	RejectDuplicates DuplicatePolicy = iota
	AllowDuplicates
)
