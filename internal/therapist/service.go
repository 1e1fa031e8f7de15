package therapist

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"cbt-companion/internal/agent"
	"cbt-companion/internal/apperr"
	"cbt-companion/internal/chat"
	"cbt-companion/internal/consent"
	"cbt-companion/internal/platform/events"
)

// ChatStore is the part of the chat ledger a therapist may read, plus the
// guidance column they own.
type ChatStore interface {
	Get(ctx context.Context, chatID uuid.UUID) (*chat.Chat, error)
	Messages(ctx context.Context, chatID uuid.UUID) ([]chat.Message, error)
	MessagesFor(ctx context.Context, chatIDs []uuid.UUID) (map[uuid.UUID][]chat.Message, error)
	Guidance(ctx context.Context, chatID uuid.UUID) (*string, error)
	SetGuidance(ctx context.Context, chatID uuid.UUID, guidance *string, at time.Time) error
}

type Analyzer interface {
	Analyze(ctx context.Context, history []agent.Turn) agent.Assessment
}

// Notifier pages the care team. telegram.Notifier satisfies it.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, string) error { return nil }

type Service struct {
	repo     Repository
	chats    ChatStore
	analyzer Analyzer
	events   events.Publisher
	notifier Notifier
	log      *zap.Logger
	now      func() time.Time
}

func NewService(repo Repository, chats ChatStore, analyzer Analyzer, pub events.Publisher, notifier Notifier, log *zap.Logger) *Service {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Service{
		repo:     repo,
		chats:    chats,
		analyzer: analyzer,
		events:   pub,
		notifier: notifier,
		log:      log,
		now:      time.Now,
	}
}

// ensureVisible is the consent gate. It is evaluated on every call so a
// revoked consent takes effect immediately.
func (s *Service) ensureVisible(ctx context.Context, therapistID, chatID uuid.UUID) error {
	ok, err := s.repo.VisibleChat(ctx, therapistID, chatID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("Chat not found or access denied")
	}
	return nil
}

func (s *Service) Patients(ctx context.Context, therapistID uuid.UUID) ([]PatientOverview, error) {
	return s.repo.Patients(ctx, therapistID)
}

func (s *Service) PatientChats(ctx context.Context, therapistID, patientID uuid.UUID) ([]SharedChat, error) {
	if _, err := s.repo.AssignedPatient(ctx, therapistID, patientID); err != nil {
		return nil, err
	}
	chats, err := s.repo.ApprovedChats(ctx, patientID)
	if err != nil {
		return nil, err
	}
	ids := lo.Map(chats, func(c chat.Chat, _ int) uuid.UUID { return c.ID })

	msgs, err := s.chats.MessagesFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	consents, err := s.repo.ApprovedConsents(ctx, ids)
	if err != nil {
		return nil, err
	}
	analyses, err := s.repo.AnalysesFor(ctx, therapistID, ids)
	if err != nil {
		return nil, err
	}

	return lo.Map(chats, func(c chat.Chat, _ int) SharedChat {
		c.Messages = lo.Ternary(msgs[c.ID] != nil, msgs[c.ID], []chat.Message{})
		c.MessageCount = len(c.Messages)
		sc := SharedChat{Chat: c, Consents: consents[c.ID], AIAnalyses: []Analysis{}}
		if sc.Consents == nil {
			sc.Consents = []consent.Consent{}
		}
		if a, ok := analyses[c.ID]; ok {
			sc.AIAnalyses = append(sc.AIAnalyses, *a)
		}
		return sc
	}), nil
}

// GenerateAnalysis runs the analysis collaborator over the full transcript and
// stores the result. Corrections already recorded are kept.
func (s *Service) GenerateAnalysis(ctx context.Context, therapistID, chatID uuid.UUID) (*Analysis, error) {
	if err := s.ensureVisible(ctx, therapistID, chatID); err != nil {
		return nil, err
	}
	msgs, err := s.chats.Messages(ctx, chatID)
	if err != nil {
		return nil, err
	}

	assessment := s.analyzer.Analyze(ctx, chat.Turns(msgs))
	var predictions *string
	if assessment.Predictions != "" {
		predictions = &assessment.Predictions
	}
	a, err := s.repo.UpsertAnalysis(ctx, &Analysis{
		ID:          uuid.New(),
		ChatID:      chatID,
		TherapistID: therapistID,
		Analysis:    assessment.Analysis,
		Predictions: predictions,
		Sentiment:   assessment.Sentiment,
		RiskLevel:   assessment.RiskLevel,
		UpdatedAt:   s.now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.AnalysisGenerated, chatID, therapistID, map[string]any{
		"analysisId": a.ID,
		"sentiment":  a.Sentiment,
		"riskLevel":  a.RiskLevel,
	})
	if a.NeedsAlert() {
		text := fmt.Sprintf("Risk alert: chat %s was assessed as %s risk (sentiment: %s). Please review the latest analysis.",
			chatID, a.RiskLevel, a.Sentiment)
		if err := s.notifier.Notify(ctx, text); err != nil {
			s.log.Warn("failed to send risk alert", zap.String("chat_id", chatID.String()), zap.Error(err))
		}
	}
	return a, nil
}

func (s *Service) Analysis(ctx context.Context, therapistID, chatID uuid.UUID) (*Analysis, error) {
	if err := s.ensureVisible(ctx, therapistID, chatID); err != nil {
		return nil, err
	}
	return s.repo.AnalysisFor(ctx, therapistID, chatID)
}

func (s *Service) CorrectAnalysis(ctx context.Context, therapistID, analysisID uuid.UUID, text string) (*Analysis, error) {
	if analysisID == uuid.Nil || text == "" {
		return nil, apperr.Invalid("Analysis ID and corrections are required")
	}
	a, err := s.repo.SaveCorrection(ctx, therapistID, analysisID, text, s.now().UTC())
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.AnalysisCorrected, a.ChatID, therapistID, map[string]any{"analysisId": a.ID})
	return a, nil
}

func (s *Service) Guidance(ctx context.Context, therapistID, chatID uuid.UUID) (*string, error) {
	if err := s.ensureVisible(ctx, therapistID, chatID); err != nil {
		return nil, err
	}
	return s.chats.Guidance(ctx, chatID)
}

// SetGuidance stores text verbatim. Nil or empty text clears it.
func (s *Service) SetGuidance(ctx context.Context, therapistID, chatID uuid.UUID, text *string) (*chat.Chat, error) {
	if err := s.ensureVisible(ctx, therapistID, chatID); err != nil {
		return nil, err
	}
	if text != nil && *text == "" {
		text = nil
	}
	if err := s.chats.SetGuidance(ctx, chatID, text, s.now().UTC()); err != nil {
		return nil, err
	}
	s.publish(ctx, events.GuidanceUpdated, chatID, therapistID, map[string]any{"cleared": text == nil})
	return s.chats.Get(ctx, chatID)
}

func (s *Service) publish(ctx context.Context, typ string, chatID, therapistID uuid.UUID, data map[string]any) {
	err := s.events.Publish(ctx, events.Event{
		Type:       typ,
		Subject:    chatID.String(),
		ActorID:    therapistID.String(),
		OccurredAt: s.now().UTC(),
		Data:       data,
	})
	if err != nil {
		s.log.Warn("failed to publish event", zap.String("type", typ), zap.Error(err))
	}
}
