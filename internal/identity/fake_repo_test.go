package identity

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"cbt-companion/internal/apperr"
)

type memRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]*User
}

func newMemRepo() *memRepo {
	return &memRepo{users: map[uuid.UUID]*User{}}
}

func (m *memRepo) GetByID(_ context.Context, id uuid.UUID) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, apperr.NotFound("User not found")
	}
	cp := *u
	return &cp, nil
}

func (m *memRepo) FindByNameAndRole(_ context.Context, name string, role Role) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Name == name && u.Role == role {
			cp := *u
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("User not found")
}

func (m *memRepo) Create(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == u.Email || (existing.Name == u.Name && existing.Role == u.Role) {
			return apperr.Conflict("A user with this name or email already exists")
		}
	}
	u.CreatedAt = time.Now()
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memRepo) AssignTherapist(_ context.Context, patientID, therapistID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[patientID]
	if !ok || u.Role != RolePatient {
		return apperr.NotFound("Patient not found")
	}
	id := therapistID
	u.TherapistID = &id
	return nil
}
