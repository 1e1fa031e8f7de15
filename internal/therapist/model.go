package therapist

import (
	"time"

	"github.com/google/uuid"

	"cbt-companion/internal/agent"
	"cbt-companion/internal/chat"
	"cbt-companion/internal/consent"
)

// Analysis is one therapist's AI assessment of one chat. Regenerating it
// overwrites the model output but keeps the therapist's corrections.
type Analysis struct {
	ID                   uuid.UUID       `json:"id"`
	ChatID               uuid.UUID       `json:"chatId"`
	TherapistID          uuid.UUID       `json:"therapistId"`
	Analysis             string          `json:"analysis"`
	Predictions          *string         `json:"predictions"`
	Sentiment            agent.Sentiment `json:"sentiment"`
	RiskLevel            agent.RiskLevel `json:"riskLevel"`
	TherapistCorrections *string         `json:"therapistCorrections"`
	CorrectedAt          *time.Time      `json:"correctedAt"`
	CreatedAt            time.Time       `json:"createdAt"`
	UpdatedAt            time.Time       `json:"updatedAt"`
}

// Composed is the analysis text with the therapist's corrections appended.
func (a *Analysis) Composed() string {
	if a.TherapistCorrections == nil || *a.TherapistCorrections == "" {
		return a.Analysis
	}
	return a.Analysis + "\n\nTherapist Corrections:\n" + *a.TherapistCorrections
}

// NeedsAlert reports whether the care team should be paged.
func (a *Analysis) NeedsAlert() bool {
	return a.RiskLevel == agent.RiskHigh || a.Sentiment == agent.SentimentConcerning
}

type PatientRef struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
}

type ChatOverview struct {
	ID               uuid.UUID         `json:"id"`
	Title            string            `json:"title"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
	MessageCount     int               `json:"messageCount"`
	ApprovedConsents []consent.Consent `json:"consents"`
}

type PatientOverview struct {
	PatientRef
	CreatedAt time.Time      `json:"createdAt"`
	ChatCount int            `json:"chatCount"`
	Chats     []ChatOverview `json:"chats"`
}

// SharedChat is a chat the patient has approved for their therapist.
type SharedChat struct {
	chat.Chat
	Consents   []consent.Consent `json:"consents"`
	AIAnalyses []Analysis        `json:"aiAnalyses"`
}
