package chat

import (
	"time"

	"github.com/google/uuid"

	"cbt-companion/internal/consent"
)

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

const titleLimit = 50

// Message is immutable once stored.
type Message struct {
	ID        uuid.UUID   `json:"id"`
	ChatID    uuid.UUID   `json:"chatId"`
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"createdAt"`
}

type Chat struct {
	ID                uuid.UUID `json:"id"`
	PatientID         uuid.UUID `json:"patientId"`
	Title             string    `json:"title"`
	TherapistGuidance *string   `json:"therapistGuidance"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
	Messages          []Message `json:"messages"`
	MessageCount      int       `json:"messageCount"`
}

type Detail struct {
	Chat
	Consents []consent.Consent `json:"consents"`
}

type PostResult struct {
	ChatID   uuid.UUID `json:"chatId"`
	Response string    `json:"response"`
	Chat     *Chat     `json:"chat"`
}

func titleFrom(text string) string {
	r := []rune(text)
	if len(r) > titleLimit {
		r = r[:titleLimit]
	}
	return string(r)
}
