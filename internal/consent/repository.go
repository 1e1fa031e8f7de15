package consent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"cbt-companion/internal/apperr"
)

type Repository interface {
	ChatOwnedBy(ctx context.Context, chatID, patientID uuid.UUID) (bool, error)
	Get(ctx context.Context, chatID, patientID uuid.UUID) (*Consent, error)
	// CreatePending inserts a PENDING record, or returns the existing one if
	// a concurrent request won the unique key.
	CreatePending(ctx context.Context, chatID, patientID uuid.UUID, at time.Time) (*Consent, error)
	Upsert(ctx context.Context, chatID, patientID uuid.UUID, status Status, respondedAt *time.Time) (*Consent, error)
	ForChat(ctx context.Context, chatID, patientID uuid.UUID) ([]Consent, error)
	ListForPatient(ctx context.Context, patientID uuid.UUID) ([]WithChat, error)
}

type postgresRepo struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &postgresRepo{db: db}
}

const consentColumns = `id, chat_id, patient_id, status, requested_at, responded_at`

type scanner interface{ Scan(...any) error }

func scanConsent(row scanner, extra ...any) (*Consent, error) {
	var c Consent
	var responded sql.NullTime
	dest := append([]any{&c.ID, &c.ChatID, &c.PatientID, &c.Status, &c.RequestedAt, &responded}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	if responded.Valid {
		t := responded.Time
		c.RespondedAt = &t
	}
	return &c, nil
}

func (r *postgresRepo) ChatOwnedBy(ctx context.Context, chatID, patientID uuid.UUID) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM chats WHERE id = $1 AND patient_id = $2)`, chatID, patientID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("failed to check chat ownership: %w", err)
	}
	return ok, nil
}

func (r *postgresRepo) Get(ctx context.Context, chatID, patientID uuid.UUID) (*Consent, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+consentColumns+` FROM consents WHERE chat_id = $1 AND patient_id = $2`, chatID, patientID)
	c, err := scanConsent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("Consent not found")
	}
	return c, err
}

func (r *postgresRepo) CreatePending(ctx context.Context, chatID, patientID uuid.UUID, at time.Time) (*Consent, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO consents (id, chat_id, patient_id, status, requested_at)
		VALUES ($1, $2, $3, 'PENDING', $4)
		ON CONFLICT (chat_id, patient_id) DO NOTHING
		RETURNING `+consentColumns, uuid.New(), chatID, patientID, at)
	c, err := scanConsent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return r.Get(ctx, chatID, patientID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create consent: %w", err)
	}
	return c, nil
}

func (r *postgresRepo) Upsert(ctx context.Context, chatID, patientID uuid.UUID, status Status, respondedAt *time.Time) (*Consent, error) {
	var responded sql.NullTime
	if respondedAt != nil {
		responded = sql.NullTime{Time: *respondedAt, Valid: true}
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO consents (id, chat_id, patient_id, status, requested_at, responded_at)
		VALUES ($1, $2, $3, $4, NOW(), $5)
		ON CONFLICT (chat_id, patient_id) DO UPDATE SET
			status = EXCLUDED.status,
			responded_at = EXCLUDED.responded_at
		RETURNING `+consentColumns, uuid.New(), chatID, patientID, status, responded)
	c, err := scanConsent(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert consent: %w", err)
	}
	return c, nil
}

func (r *postgresRepo) ForChat(ctx context.Context, chatID, patientID uuid.UUID) ([]Consent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+consentColumns+` FROM consents
		WHERE chat_id = $1 AND patient_id = $2
		ORDER BY requested_at DESC`, chatID, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list consents: %w", err)
	}
	defer rows.Close()

	out := []Consent{}
	for rows.Next() {
		c, err := scanConsent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *postgresRepo) ListForPatient(ctx context.Context, patientID uuid.UUID) ([]WithChat, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.chat_id, c.patient_id, c.status, c.requested_at, c.responded_at,
		       ch.title, (SELECT COUNT(*) FROM messages m WHERE m.chat_id = ch.id)
		FROM consents c
		JOIN chats ch ON ch.id = c.chat_id
		WHERE c.patient_id = $1
		ORDER BY c.requested_at DESC`, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list consents: %w", err)
	}
	defer rows.Close()

	out := []WithChat{}
	for rows.Next() {
		var w WithChat
		c, err := scanConsent(rows, &w.Chat.Title, &w.Chat.MessageCount)
		if err != nil {
			return nil, err
		}
		w.Consent = *c
		w.Chat.ID = c.ChatID
		out = append(out, w)
	}
	return out, rows.Err()
}
