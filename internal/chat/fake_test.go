package chat

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"cbt-companion/internal/agent"
	"cbt-companion/internal/apperr"
	"cbt-companion/internal/consent"
)

type memRepo struct {
	mu    sync.Mutex
	chats map[uuid.UUID]*Chat
	msgs  map[uuid.UUID][]Message
}

func newMemRepo() *memRepo {
	return &memRepo{chats: map[uuid.UUID]*Chat{}, msgs: map[uuid.UUID][]Message{}}
}

func (m *memRepo) Create(_ context.Context, c *Chat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.chats[c.ID] = &cp
	return nil
}

func (m *memRepo) Get(_ context.Context, chatID uuid.UUID) (*Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chats[chatID]
	if !ok {
		return nil, apperr.NotFound("Chat not found")
	}
	cp := *c
	return &cp, nil
}

func (m *memRepo) GetOwned(ctx context.Context, patientID, chatID uuid.UUID) (*Chat, error) {
	c, err := m.Get(ctx, chatID)
	if err != nil || c.PatientID != patientID {
		return nil, apperr.NotFound("Chat not found")
	}
	return c, nil
}

func (m *memRepo) ListByPatient(_ context.Context, patientID uuid.UUID) ([]Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Chat{}
	for _, c := range m.chats {
		if c.PatientID == patientID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (m *memRepo) Delete(_ context.Context, patientID, chatID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chats[chatID]
	if !ok || c.PatientID != patientID {
		return apperr.NotFound("Chat not found")
	}
	delete(m.chats, chatID)
	delete(m.msgs, chatID)
	return nil
}

func (m *memRepo) AppendMessage(_ context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs[msg.ChatID] = append(m.msgs[msg.ChatID], *msg)
	return nil
}

func (m *memRepo) Messages(_ context.Context, chatID uuid.UUID) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message{}, m.msgs[chatID]...), nil
}

func (m *memRepo) MessagesFor(ctx context.Context, chatIDs []uuid.UUID) (map[uuid.UUID][]Message, error) {
	out := map[uuid.UUID][]Message{}
	for _, id := range chatIDs {
		msgs, _ := m.Messages(ctx, id)
		if len(msgs) > 0 {
			out[id] = msgs
		}
	}
	return out, nil
}

func (m *memRepo) Touch(_ context.Context, chatID uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chats[chatID].UpdatedAt = at
	return nil
}

func (m *memRepo) Guidance(_ context.Context, chatID uuid.UUID) (*string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chats[chatID]
	if !ok {
		return nil, apperr.NotFound("Chat not found")
	}
	return c.TherapistGuidance, nil
}

func (m *memRepo) SetGuidance(_ context.Context, chatID uuid.UUID, g *string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chats[chatID]
	if !ok {
		return apperr.NotFound("Chat not found")
	}
	c.TherapistGuidance = g
	c.UpdatedAt = at
	return nil
}

type stubGenerator struct {
	mu        sync.Mutex
	reply     string
	err       error
	guidances []string
	histories [][]agent.Turn
}

func (g *stubGenerator) Respond(_ context.Context, history []agent.Turn, guidance string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.guidances = append(g.guidances, guidance)
	g.histories = append(g.histories, history)
	if g.err != nil {
		return "", g.err
	}
	return g.reply, nil
}

var errUpstream = errors.New("upstream timeout")

type noConsents struct{}

func (noConsents) ForChat(context.Context, uuid.UUID, uuid.UUID) ([]consent.Consent, error) {
	return []consent.Consent{}, nil
}

// tickingClock advances one millisecond on every call.
func tickingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	t := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Millisecond)
		return t
	}
}
