package therapist

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"cbt-companion/internal/agent"
	"cbt-companion/internal/apperr"
	"cbt-companion/internal/chat"
	"cbt-companion/internal/consent"
	"cbt-companion/internal/platform/events"
)

type pair struct{ therapist, chat uuid.UUID }

type memRepo struct {
	mu       sync.Mutex
	visible  map[pair]bool
	patients map[uuid.UUID]PatientRef
	assigned map[uuid.UUID]uuid.UUID
	approved map[uuid.UUID][]chat.Chat
	consents map[uuid.UUID][]consent.Consent
	analyses map[pair]*Analysis
}

func newMemRepo() *memRepo {
	return &memRepo{
		visible:  map[pair]bool{},
		patients: map[uuid.UUID]PatientRef{},
		assigned: map[uuid.UUID]uuid.UUID{},
		approved: map[uuid.UUID][]chat.Chat{},
		consents: map[uuid.UUID][]consent.Consent{},
		analyses: map[pair]*Analysis{},
	}
}

func (m *memRepo) share(therapistID, patientID uuid.UUID, c chat.Chat) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patients[patientID] = PatientRef{ID: patientID, Name: "alex", Email: "alex@example.com"}
	m.assigned[patientID] = therapistID
	m.approved[patientID] = append(m.approved[patientID], c)
	m.consents[c.ID] = []consent.Consent{{ID: uuid.New(), ChatID: c.ID, PatientID: patientID, Status: consent.StatusApproved}}
	m.visible[pair{therapistID, c.ID}] = true
}

func (m *memRepo) revoke(therapistID, chatID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.visible, pair{therapistID, chatID})
	delete(m.consents, chatID)
	for p, chats := range m.approved {
		m.approved[p] = lo.Reject(chats, func(c chat.Chat, _ int) bool { return c.ID == chatID })
	}
}

func (m *memRepo) VisibleChat(_ context.Context, therapistID, chatID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.visible[pair{therapistID, chatID}], nil
}

func (m *memRepo) AssignedPatient(_ context.Context, therapistID, patientID uuid.UUID) (*PatientRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.assigned[patientID] != therapistID {
		return nil, apperr.NotFound("Patient not found or not assigned to you")
	}
	p := m.patients[patientID]
	return &p, nil
}

func (m *memRepo) Patients(_ context.Context, therapistID uuid.UUID) ([]PatientOverview, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []PatientOverview{}
	for id, t := range m.assigned {
		if t == therapistID {
			out = append(out, PatientOverview{PatientRef: m.patients[id], ChatCount: len(m.approved[id])})
		}
	}
	return out, nil
}

func (m *memRepo) ApprovedChats(_ context.Context, patientID uuid.UUID) ([]chat.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]chat.Chat{}, m.approved[patientID]...), nil
}

func (m *memRepo) ApprovedConsents(_ context.Context, chatIDs []uuid.UUID) (map[uuid.UUID][]consent.Consent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[uuid.UUID][]consent.Consent{}
	for _, id := range chatIDs {
		if c, ok := m.consents[id]; ok {
			out[id] = c
		}
	}
	return out, nil
}

func (m *memRepo) UpsertAnalysis(_ context.Context, a *Analysis) (*Analysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pair{a.TherapistID, a.ChatID}
	if cur, ok := m.analyses[key]; ok {
		cur.Analysis, cur.Predictions, cur.Sentiment, cur.RiskLevel, cur.UpdatedAt =
			a.Analysis, a.Predictions, a.Sentiment, a.RiskLevel, a.UpdatedAt
		cp := *cur
		return &cp, nil
	}
	cp := *a
	cp.CreatedAt = a.UpdatedAt
	m.analyses[key] = &cp
	out := cp
	return &out, nil
}

func (m *memRepo) AnalysisFor(_ context.Context, therapistID, chatID uuid.UUID) (*Analysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.analyses[pair{therapistID, chatID}]
	if !ok {
		return nil, apperr.NotFound("Analysis not found")
	}
	cp := *a
	return &cp, nil
}

func (m *memRepo) PatientAnalysis(_ context.Context, therapistID, patientID, analysisID uuid.UUID) (*Analysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, a := range m.analyses {
		owned := lo.ContainsBy(m.approved[patientID], func(c chat.Chat) bool { return c.ID == a.ChatID })
		if a.ID == analysisID && k.therapist == therapistID && owned {
			cp := *a
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("Analysis not found or access denied")
}

func (m *memRepo) AnalysesFor(_ context.Context, therapistID uuid.UUID, chatIDs []uuid.UUID) (map[uuid.UUID]*Analysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[uuid.UUID]*Analysis{}
	for _, id := range chatIDs {
		if a, ok := m.analyses[pair{therapistID, id}]; ok {
			cp := *a
			out[id] = &cp
		}
	}
	return out, nil
}

func (m *memRepo) SaveCorrection(_ context.Context, therapistID, analysisID uuid.UUID, text string, at time.Time) (*Analysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, a := range m.analyses {
		if a.ID == analysisID && k.therapist == therapistID {
			a.TherapistCorrections = &text
			a.CorrectedAt = &at
			cp := *a
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("Analysis not found or access denied")
}

type memChats struct {
	mu       sync.Mutex
	chats    map[uuid.UUID]*chat.Chat
	msgs     map[uuid.UUID][]chat.Message
	guidance map[uuid.UUID]*string
}

func newMemChats() *memChats {
	return &memChats{
		chats:    map[uuid.UUID]*chat.Chat{},
		msgs:     map[uuid.UUID][]chat.Message{},
		guidance: map[uuid.UUID]*string{},
	}
}

func (m *memChats) add(c chat.Chat, contents ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := c
	m.chats[c.ID] = &cp
	for i, text := range contents {
		role := chat.RoleUser
		if i%2 == 1 {
			role = chat.RoleAssistant
		}
		m.msgs[c.ID] = append(m.msgs[c.ID], chat.Message{ID: uuid.New(), ChatID: c.ID, Role: role, Content: text})
	}
}

func (m *memChats) Get(_ context.Context, chatID uuid.UUID) (*chat.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chats[chatID]
	if !ok {
		return nil, apperr.NotFound("Chat not found")
	}
	cp := *c
	cp.TherapistGuidance = m.guidance[chatID]
	return &cp, nil
}

func (m *memChats) Messages(_ context.Context, chatID uuid.UUID) ([]chat.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]chat.Message{}, m.msgs[chatID]...), nil
}

func (m *memChats) MessagesFor(ctx context.Context, chatIDs []uuid.UUID) (map[uuid.UUID][]chat.Message, error) {
	out := map[uuid.UUID][]chat.Message{}
	for _, id := range chatIDs {
		msgs, _ := m.Messages(ctx, id)
		out[id] = msgs
	}
	return out, nil
}

func (m *memChats) Guidance(_ context.Context, chatID uuid.UUID) (*string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.guidance[chatID], nil
}

func (m *memChats) SetGuidance(_ context.Context, chatID uuid.UUID, g *string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.guidance[chatID] = g
	return nil
}

type stubAnalyzer struct {
	result  agent.Assessment
	calls   int
	history []agent.Turn
}

func (s *stubAnalyzer) Analyze(_ context.Context, history []agent.Turn) agent.Assessment {
	s.calls++
	s.history = history
	return s.result
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type recordingNotifier struct {
	texts []string
}

func (n *recordingNotifier) Notify(_ context.Context, text string) error {
	n.texts = append(n.texts, text)
	return nil
}
