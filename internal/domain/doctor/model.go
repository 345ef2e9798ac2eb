package doctor

import (
	"time"

	"github.com/google/uuid"
)

// Role is a staff member's role. Role names match the roles carried in
// access tokens.
type Role string

const (
	RoleDoctor Role = "doctor"
	RoleNurse  Role = "nurse"
	RoleAdmin  Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleDoctor, RoleNurse, RoleAdmin:
		return true
	}
	return false
}

// IsClinician reports whether staff with this role may take patients from
// the queue.
func (r Role) IsClinician() bool {
	return r == RoleDoctor
}

// Doctor is a staff member tracked by the registry. Available is never true
// while ActiveSessionID is set.
type Doctor struct {
	ID              uuid.UUID  `json:"id"`
	Name            string     `json:"name"`
	Role            Role       `json:"role"`
	Available       bool       `json:"available"`
	ActiveSessionID *uuid.UUID `json:"active_session_id,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// HasActiveSession reports whether the doctor is bound to an open session.
func (d *Doctor) HasActiveSession() bool {
	return d.ActiveSessionID != nil
}
