package patient

import (
	"time"

	"github.com/google/uuid"
)

// Patient holds the demographics shown alongside a queue entry.
type Patient struct {
	ID                  uuid.UUID  `json:"id"`
	FirstName           string     `json:"first_name"`
	LastName            string     `json:"last_name"`
	DateOfBirth         *time.Time `json:"date_of_birth,omitempty"`
	MedicalRecordNumber string     `json:"medical_record_number"`
	CreatedAt           time.Time  `json:"created_at"`
}

func (p *Patient) FullName() string {
	return p.FirstName + " " + p.LastName
}
