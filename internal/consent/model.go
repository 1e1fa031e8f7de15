package consent

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusPending, StatusApproved, StatusRejected:
		return Status(s), true
	}
	return "", false
}

// Consent is a patient's decision about sharing one chat with their
// assigned therapist. RespondedAt is set iff Status is not PENDING.
type Consent struct {
	ID          uuid.UUID  `json:"id"`
	ChatID      uuid.UUID  `json:"chatId"`
	PatientID   uuid.UUID  `json:"patientId"`
	Status      Status     `json:"status"`
	RequestedAt time.Time  `json:"requestedAt"`
	RespondedAt *time.Time `json:"respondedAt"`
}

type ChatSummary struct {
	ID           uuid.UUID `json:"id"`
	Title        string    `json:"title"`
	MessageCount int       `json:"messageCount"`
}

type WithChat struct {
	Consent
	Chat ChatSummary `json:"chat"`
}
