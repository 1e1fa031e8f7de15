package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"cbt-companion/internal/apperr"
)

type Session struct {
	User      *User
	Token     string
	ExpiresAt time.Time
}

type NewUser struct {
	Name     string
	Email    string
	Password string
	Role     Role
}

type Service struct {
	repo   Repository
	tokens *TokenIssuer
	log    *zap.Logger
}

func NewService(repo Repository, tokens *TokenIssuer, log *zap.Logger) *Service {
	return &Service{repo: repo, tokens: tokens, log: log}
}

func (s *Service) Login(ctx context.Context, username, password, role string) (*Session, error) {
	if username == "" || password == "" || role == "" {
		return nil, apperr.Invalid("Username, password, and role are required")
	}
	r, ok := ParseRole(role)
	if !ok {
		return nil, apperr.Invalid("Invalid role")
	}

	u, err := s.repo.FindByNameAndRole(ctx, username, r)
	if apperr.Is(err, apperr.KindNotFound) {
		return nil, apperr.InvalidCredentials()
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, apperr.InvalidCredentials()
	}

	token, exp, err := s.tokens.Issue(*u)
	if err != nil {
		return nil, err
	}
	return &Session{User: u, Token: token, ExpiresAt: exp}, nil
}

func (s *Service) Me(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) CreateUser(ctx context.Context, in NewUser) (*User, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	if in.Name == "" || in.Email == "" || in.Password == "" {
		return nil, apperr.Invalid("Name, email, and password are required")
	}
	if _, ok := ParseRole(string(in.Role)); !ok {
		return nil, apperr.Invalid("Invalid role")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	u := &User{
		ID:           uuid.New(),
		Email:        in.Email,
		Name:         in.Name,
		Role:         in.Role,
		PasswordHash: string(hash),
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Assign points a patient at a therapist. Re-assigning to the same
// therapist is a no-op write.
func (s *Service) Assign(ctx context.Context, patientID, therapistID uuid.UUID) error {
	patient, err := s.repo.GetByID(ctx, patientID)
	if err != nil {
		return err
	}
	if patient.Role != RolePatient {
		return apperr.Invalid("Assignee must be a patient")
	}
	therapist, err := s.repo.GetByID(ctx, therapistID)
	if err != nil {
		return err
	}
	if therapist.Role != RoleTherapist {
		return apperr.Invalid("Assigned user must be a therapist")
	}
	return s.repo.AssignTherapist(ctx, patientID, therapistID)
}

// Bootstrap makes sure an admin therapist and an admin patient exist and
// that the patient is assigned to the therapist.
func (s *Service) Bootstrap(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return nil
	}
	therapist, err := s.ensureUser(ctx, username, password, RoleTherapist)
	if err != nil {
		return err
	}
	patient, err := s.ensureUser(ctx, username, password, RolePatient)
	if err != nil {
		return err
	}
	if patient.TherapistID != nil && *patient.TherapistID == therapist.ID {
		return nil
	}
	if err := s.repo.AssignTherapist(ctx, patient.ID, therapist.ID); err != nil {
		return err
	}
	s.log.Info("admin accounts ready",
		zap.String("therapist_id", therapist.ID.String()),
		zap.String("patient_id", patient.ID.String()))
	return nil
}

func (s *Service) ensureUser(ctx context.Context, name, password string, role Role) (*User, error) {
	u, err := s.repo.FindByNameAndRole(ctx, name, role)
	if err == nil {
		return u, nil
	}
	if !apperr.Is(err, apperr.KindNotFound) {
		return nil, err
	}
	return s.CreateUser(ctx, NewUser{
		Name:     name,
		Email:    fmt.Sprintf("%s_%s@admin.local", name, strings.ToLower(string(role))),
		Password: password,
		Role:     role,
	})
}
