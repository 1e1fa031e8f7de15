package identity

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RolePatient   Role = "PATIENT"
	RoleTherapist Role = "THERAPIST"
)

func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RolePatient, RoleTherapist:
		return Role(s), true
	}
	return "", false
}

type User struct {
	ID           uuid.UUID  `json:"id"`
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	Role         Role       `json:"role"`
	PasswordHash string     `json:"-"`
	TherapistID  *uuid.UUID `json:"therapistId,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// Principal is the authenticated caller. It is either a Patient or a
// Therapist; handlers type-switch on the variant they accept.
type Principal interface {
	UserID() uuid.UUID
	DisplayName() string
	principal()
}

type Patient struct {
	ID   uuid.UUID
	Name string
}

type Therapist struct {
	ID   uuid.UUID
	Name string
}

func (p Patient) UserID() uuid.UUID   { return p.ID }
func (p Patient) DisplayName() string { return p.Name }
func (Patient) principal()            {}

func (t Therapist) UserID() uuid.UUID   { return t.ID }
func (t Therapist) DisplayName() string { return t.Name }
func (Therapist) principal()            {}

// PrincipalOf returns nil for a user with an unknown role.
func PrincipalOf(id uuid.UUID, name string, role Role) Principal {
	switch role {
	case RolePatient:
		return Patient{ID: id, Name: name}
	case RoleTherapist:
		return Therapist{ID: id, Name: name}
	}
	return nil
}
