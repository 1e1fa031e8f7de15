package consent

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cbt-companion/internal/apperr"
	"cbt-companion/internal/platform/events"
)

type Service struct {
	repo   Repository
	events events.Publisher
	log    *zap.Logger
	now    func() time.Time
}

func NewService(repo Repository, pub events.Publisher, log *zap.Logger) *Service {
	return &Service{repo: repo, events: pub, log: log, now: time.Now}
}

func (s *Service) ensureOwner(ctx context.Context, chatID, patientID uuid.UUID) error {
	ok, err := s.repo.ChatOwnedBy(ctx, chatID, patientID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("Chat not found")
	}
	return nil
}

// Request opens a PENDING consent for the chat. Re-requesting returns the
// existing record unchanged unless it is already APPROVED.
func (s *Service) Request(ctx context.Context, patientID, chatID uuid.UUID) (*Consent, error) {
	if err := s.ensureOwner(ctx, chatID, patientID); err != nil {
		return nil, err
	}

	existing, err := s.repo.Get(ctx, chatID, patientID)
	switch {
	case err == nil:
		if existing.Status == StatusApproved {
			return nil, apperr.AlreadyApproved("Consent already approved for this chat", existing)
		}
		return existing, nil
	case !apperr.Is(err, apperr.KindNotFound):
		return nil, err
	}

	return s.repo.CreatePending(ctx, chatID, patientID, s.now().UTC())
}

// SetStatus overwrites the consent status. Any state may move to any other.
func (s *Service) SetStatus(ctx context.Context, patientID, chatID uuid.UUID, status string) (*Consent, error) {
	st, ok := ParseStatus(status)
	if !ok {
		return nil, apperr.Invalid("Invalid status")
	}
	if err := s.ensureOwner(ctx, chatID, patientID); err != nil {
		return nil, err
	}

	var respondedAt *time.Time
	if st != StatusPending {
		now := s.now().UTC()
		respondedAt = &now
	}
	c, err := s.repo.Upsert(ctx, chatID, patientID, st, respondedAt)
	if err != nil {
		return nil, err
	}

	if err := s.events.Publish(ctx, events.Event{
		Type:    events.ConsentStatusChanged,
		Subject: chatID.String(),
		ActorID: patientID.String(),
		Data:    map[string]any{"consent_id": c.ID, "status": c.Status},
	}); err != nil {
		s.log.Warn("failed to publish consent event", zap.Error(err))
	}
	return c, nil
}

func (s *Service) List(ctx context.Context, patientID uuid.UUID) ([]WithChat, error) {
	return s.repo.ListForPatient(ctx, patientID)
}

// ForChat is used by the chat detail view.
func (s *Service) ForChat(ctx context.Context, chatID, patientID uuid.UUID) ([]Consent, error) {
	return s.repo.ForChat(ctx, chatID, patientID)
}
