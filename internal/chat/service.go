package chat

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"cbt-companion/internal/agent"
	"cbt-companion/internal/apperr"
	"cbt-companion/internal/consent"
)

// Generator produces the assistant reply for a conversation.
type Generator interface {
	Respond(ctx context.Context, history []agent.Turn, guidance string) (string, error)
}

type ConsentLister interface {
	ForChat(ctx context.Context, chatID, patientID uuid.UUID) ([]consent.Consent, error)
}

type Service struct {
	repo     Repository
	gen      Generator
	consents ConsentLister
	log      *zap.Logger
	now      func() time.Time
}

func NewService(repo Repository, gen Generator, consents ConsentLister, log *zap.Logger) *Service {
	return &Service{repo: repo, gen: gen, consents: consents, log: log, now: time.Now}
}

func Turns(msgs []Message) []agent.Turn {
	return lo.Map(msgs, func(m Message, _ int) agent.Turn {
		return agent.Turn{Role: string(m.Role), Content: m.Content}
	})
}

// PostMessage appends the patient's message, asks the generator for a reply
// and appends it. A generator failure is returned after the user message is
// already stored; nothing is rolled back.
func (s *Service) PostMessage(ctx context.Context, patientID uuid.UUID, chatID *uuid.UUID, text string) (*PostResult, error) {
	if text == "" {
		return nil, apperr.Invalid("Message is required")
	}

	var c *Chat
	if chatID != nil {
		owned, err := s.repo.GetOwned(ctx, patientID, *chatID)
		if err != nil {
			return nil, err
		}
		c = owned
	} else {
		now := s.now().UTC()
		c = &Chat{
			ID:        uuid.New(),
			PatientID: patientID,
			Title:     titleFrom(text),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.repo.Create(ctx, c); err != nil {
			return nil, err
		}
	}

	if err := s.repo.AppendMessage(ctx, &Message{
		ID: uuid.New(), ChatID: c.ID, Role: RoleUser, Content: text, CreatedAt: s.now().UTC(),
	}); err != nil {
		return nil, err
	}

	history, err := s.repo.Messages(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	// Guidance is read at call time so a therapist's change applies to the
	// very next message.
	guidance, err := s.repo.Guidance(ctx, c.ID)
	if err != nil {
		return nil, err
	}

	reply, err := s.gen.Respond(ctx, Turns(history), lo.FromPtr(guidance))
	if err != nil {
		s.log.Error("chat generation failed", zap.String("chat_id", c.ID.String()), zap.Error(err))
		return nil, apperr.Collaborator("Failed to generate response from AI", err)
	}

	now := s.now().UTC()
	if err := s.repo.AppendMessage(ctx, &Message{
		ID: uuid.New(), ChatID: c.ID, Role: RoleAssistant, Content: reply, CreatedAt: now,
	}); err != nil {
		return nil, err
	}
	if err := s.repo.Touch(ctx, c.ID, now); err != nil {
		return nil, err
	}

	updated, err := s.repo.Get(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	if updated.Messages, err = s.repo.Messages(ctx, c.ID); err != nil {
		return nil, err
	}
	updated.MessageCount = len(updated.Messages)

	return &PostResult{ChatID: c.ID, Response: reply, Chat: updated}, nil
}

// List returns the patient's chats, most recently active first.
func (s *Service) List(ctx context.Context, patientID uuid.UUID) ([]Chat, error) {
	chats, err := s.repo.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.repo.MessagesFor(ctx, lo.Map(chats, func(c Chat, _ int) uuid.UUID { return c.ID }))
	if err != nil {
		return nil, err
	}
	for i := range chats {
		chats[i].Messages = lo.Ternary(msgs[chats[i].ID] != nil, msgs[chats[i].ID], []Message{})
		chats[i].MessageCount = len(chats[i].Messages)
	}
	return chats, nil
}

func (s *Service) Get(ctx context.Context, patientID, chatID uuid.UUID) (*Detail, error) {
	c, err := s.repo.GetOwned(ctx, patientID, chatID)
	if err != nil {
		return nil, err
	}
	if c.Messages, err = s.repo.Messages(ctx, chatID); err != nil {
		return nil, err
	}
	c.MessageCount = len(c.Messages)

	consents, err := s.consents.ForChat(ctx, chatID, patientID)
	if err != nil {
		return nil, err
	}
	return &Detail{Chat: *c, Consents: consents}, nil
}

func (s *Service) Delete(ctx context.Context, patientID, chatID uuid.UUID) error {
	return s.repo.Delete(ctx, patientID, chatID)
}
