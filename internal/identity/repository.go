package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"cbt-companion/internal/apperr"
	"cbt-companion/internal/platform/database"
)

type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	FindByNameAndRole(ctx context.Context, name string, role Role) (*User, error)
	Create(ctx context.Context, u *User) error
	AssignTherapist(ctx context.Context, patientID, therapistID uuid.UUID) error
}

type postgresRepo struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &postgresRepo{db: db}
}

const userColumns = `id, email, name, role, password_hash, therapist_id, created_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	var therapistID uuid.NullUUID
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.PasswordHash, &therapistID, &u.CreatedAt); err != nil {
		return nil, err
	}
	if therapistID.Valid {
		id := therapistID.UUID
		u.TherapistID = &id
	}
	return &u, nil
}

func (r *postgresRepo) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("User not found")
	}
	return u, err
}

func (r *postgresRepo) FindByNameAndRole(ctx context.Context, name string, role Role) (*User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE name = $1 AND role = $2`, name, role)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("User not found")
	}
	return u, err
}

func (r *postgresRepo) Create(ctx context.Context, u *User) error {
	query := `
		INSERT INTO users (id, email, name, role, password_hash, therapist_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`
	var therapistID uuid.NullUUID
	if u.TherapistID != nil {
		therapistID = uuid.NullUUID{UUID: *u.TherapistID, Valid: true}
	}
	err := r.db.QueryRowContext(ctx, query,
		u.ID, u.Email, u.Name, u.Role, u.PasswordHash, therapistID).Scan(&u.CreatedAt)
	if database.IsUniqueViolation(err) {
		return apperr.Conflict("A user with this name or email already exists")
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *postgresRepo) AssignTherapist(ctx context.Context, patientID, therapistID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET therapist_id = $2 WHERE id = $1 AND role = 'PATIENT'`, patientID, therapistID)
	if err != nil {
		return fmt.Errorf("failed to assign therapist: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("Patient not found")
	}
	return nil
}
