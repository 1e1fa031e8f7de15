package report

import (
	"time"

	"github.com/google/uuid"

	"cbt-companion/internal/therapist"
)

// Report is append-only. It stays readable after the consents that fed it
// are revoked.
type Report struct {
	ID          uuid.UUID             `json:"id"`
	TherapistID uuid.UUID             `json:"therapistId"`
	PatientID   uuid.UUID             `json:"patientId"`
	Title       string                `json:"title"`
	Content     string                `json:"content"`
	CreatedAt   time.Time             `json:"createdAt"`
	Patient     *therapist.PatientRef `json:"patient,omitempty"`
}
