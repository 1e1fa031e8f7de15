package consent

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cbt-companion/internal/apperr"
	"cbt-companion/internal/platform/events"
)

type key struct{ chat, patient uuid.UUID }

type memRepo struct {
	mu       sync.Mutex
	owners   map[uuid.UUID]uuid.UUID
	consents map[key]*Consent
}

func newMemRepo() *memRepo {
	return &memRepo{owners: map[uuid.UUID]uuid.UUID{}, consents: map[key]*Consent{}}
}

func (m *memRepo) ChatOwnedBy(_ context.Context, chatID, patientID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owners[chatID] == patientID, nil
}

func (m *memRepo) Get(_ context.Context, chatID, patientID uuid.UUID) (*Consent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.consents[key{chatID, patientID}]
	if !ok {
		return nil, apperr.NotFound("Consent not found")
	}
	cp := *c
	return &cp, nil
}

func (m *memRepo) CreatePending(_ context.Context, chatID, patientID uuid.UUID, at time.Time) (*Consent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key{chatID, patientID}
	if c, ok := m.consents[k]; ok {
		cp := *c
		return &cp, nil
	}
	c := &Consent{ID: uuid.New(), ChatID: chatID, PatientID: patientID, Status: StatusPending, RequestedAt: at}
	m.consents[k] = c
	cp := *c
	return &cp, nil
}

func (m *memRepo) Upsert(_ context.Context, chatID, patientID uuid.UUID, status Status, respondedAt *time.Time) (*Consent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key{chatID, patientID}
	c, ok := m.consents[k]
	if !ok {
		c = &Consent{ID: uuid.New(), ChatID: chatID, PatientID: patientID, RequestedAt: time.Now()}
		m.consents[k] = c
	}
	c.Status = status
	c.RespondedAt = respondedAt
	cp := *c
	return &cp, nil
}

func (m *memRepo) ForChat(_ context.Context, chatID, patientID uuid.UUID) ([]Consent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Consent{}
	if c, ok := m.consents[key{chatID, patientID}]; ok {
		out = append(out, *c)
	}
	return out, nil
}

func (m *memRepo) ListForPatient(_ context.Context, patientID uuid.UUID) ([]WithChat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []WithChat{}
	for k, c := range m.consents {
		if k.patient == patientID {
			out = append(out, WithChat{Consent: *c, Chat: ChatSummary{ID: k.chat}})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.After(out[j].RequestedAt) })
	return out, nil
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

func setup(t *testing.T) (*Service, *memRepo, *recordingPublisher, uuid.UUID, uuid.UUID) {
	t.Helper()
	repo := newMemRepo()
	pub := &recordingPublisher{}
	patientID, chatID := uuid.New(), uuid.New()
	repo.owners[chatID] = patientID
	return NewService(repo, pub, zap.NewNop()), repo, pub, patientID, chatID
}

func TestRequest_IsIdempotent(t *testing.T) {
	svc, _, _, patientID, chatID := setup(t)
	ctx := context.Background()

	first, err := svc.Request(ctx, patientID, chatID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, first.Status)
	assert.Nil(t, first.RespondedAt)

	second, err := svc.Request(ctx, patientID, chatID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestRequest_RejectedIsReturnedUnchanged(t *testing.T) {
	svc, _, _, patientID, chatID := setup(t)
	ctx := context.Background()

	rejected, err := svc.SetStatus(ctx, patientID, chatID, "REJECTED")
	require.NoError(t, err)

	again, err := svc.Request(ctx, patientID, chatID)
	require.NoError(t, err)
	assert.Equal(t, rejected.ID, again.ID)
	assert.Equal(t, StatusRejected, again.Status)
}

func TestRequest_AlreadyApproved(t *testing.T) {
	svc, repo, _, patientID, chatID := setup(t)
	ctx := context.Background()

	approved, err := svc.SetStatus(ctx, patientID, chatID, "APPROVED")
	require.NoError(t, err)

	_, err = svc.Request(ctx, patientID, chatID)
	require.True(t, apperr.Is(err, apperr.KindAlreadyApproved))
	detail, ok := apperr.DetailOf(err).(*Consent)
	require.True(t, ok)
	assert.Equal(t, approved.ID, detail.ID)

	stored, err := repo.Get(ctx, chatID, patientID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, stored.Status)
	assert.Equal(t, approved.RespondedAt, stored.RespondedAt)
}

func TestRequest_NotOwner(t *testing.T) {
	svc, _, _, _, chatID := setup(t)

	_, err := svc.Request(context.Background(), uuid.New(), chatID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestSetStatus_RespondedAtTracksStatus(t *testing.T) {
	svc, _, pub, patientID, chatID := setup(t)
	ctx := context.Background()
	fixed := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	c, err := svc.SetStatus(ctx, patientID, chatID, "APPROVED")
	require.NoError(t, err)
	require.NotNil(t, c.RespondedAt)
	assert.True(t, c.RespondedAt.Equal(fixed))

	c, err = svc.SetStatus(ctx, patientID, chatID, "PENDING")
	require.NoError(t, err)
	assert.Nil(t, c.RespondedAt)

	c, err = svc.SetStatus(ctx, patientID, chatID, "REJECTED")
	require.NoError(t, err)
	assert.NotNil(t, c.RespondedAt)

	require.Len(t, pub.events, 3)
	assert.Equal(t, events.ConsentStatusChanged, pub.events[0].Type)
	assert.Equal(t, chatID.String(), pub.events[0].Subject)
}

func TestSetStatus_Validation(t *testing.T) {
	svc, _, pub, patientID, chatID := setup(t)
	ctx := context.Background()

	_, err := svc.SetStatus(ctx, patientID, chatID, "MAYBE")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = svc.SetStatus(ctx, uuid.New(), chatID, "APPROVED")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	assert.Empty(t, pub.events)
}
