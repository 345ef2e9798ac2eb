package triage

import (
	"time"

	"github.com/google/uuid"

	"github.com/erqueue/erqueue/internal/domain/patient"
	"github.com/erqueue/erqueue/internal/domain/queue"
)

// Vitals is what a nurse records at intake.
type Vitals struct {
	PatientID     uuid.UUID `json:"patient_id" validate:"required"`
	HeartRate     int       `json:"heart_rate" validate:"min=0,max=250"`
	BloodPressure string    `json:"blood_pressure" validate:"required,max=32,bloodpressure"`
	PainLevel     int       `json:"pain_level" validate:"min=1,max=10"`
	Symptoms      string    `json:"symptoms" validate:"required,notblank"`
}

// SubmitRequest is the intake body as sent over HTTP. The numeric readings
// are pointers so an omitted field is told apart from a zero reading.
type SubmitRequest struct {
	PatientID     uuid.UUID `json:"patient_id" validate:"required"`
	HeartRate     *int      `json:"heart_rate" validate:"required,min=0,max=250"`
	BloodPressure string    `json:"blood_pressure" validate:"required,max=32,bloodpressure"`
	PainLevel     *int      `json:"pain_level" validate:"required,min=1,max=10"`
	Symptoms      string    `json:"symptoms" validate:"required,notblank"`
}

// Vitals converts a validated request.
func (r SubmitRequest) Vitals() Vitals {
	v := Vitals{
		PatientID:     r.PatientID,
		BloodPressure: r.BloodPressure,
		Symptoms:      r.Symptoms,
	}
	if r.HeartRate != nil {
		v.HeartRate = *r.HeartRate
	}
	if r.PainLevel != nil {
		v.PainLevel = *r.PainLevel
	}
	return v
}

// Record is the stored, immutable snapshot of one intake.
type Record struct {
	ID            uuid.UUID `json:"id"`
	PatientID     uuid.UUID `json:"patient_id"`
	HeartRate     int       `json:"heart_rate"`
	BloodPressure string    `json:"blood_pressure"`
	PainLevel     int       `json:"pain_level"`
	Symptoms      string    `json:"symptoms"`
	CreatedAt     time.Time `json:"created_at"`
}

func (r *Record) Vitals() Vitals {
	return Vitals{
		PatientID:     r.PatientID,
		HeartRate:     r.HeartRate,
		BloodPressure: r.BloodPressure,
		PainLevel:     r.PainLevel,
		Symptoms:      r.Symptoms,
	}
}

// Intake is the result of a successful submission.
type Intake struct {
	Triage     *Record      `json:"triage"`
	QueueEntry *queue.Entry `json:"queue_entry"`
}

// QueueItem is a waiting entry with the patient and triage it refers to.
type QueueItem struct {
	*queue.Entry
	Patient *patient.Patient `json:"patient,omitempty"`
	Triage  *Record          `json:"triage,omitempty"`
}
