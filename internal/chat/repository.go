package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/samber/lo"

	"cbt-companion/internal/apperr"
)

type Repository interface {
	Create(ctx context.Context, c *Chat) error
	Get(ctx context.Context, chatID uuid.UUID) (*Chat, error)
	GetOwned(ctx context.Context, patientID, chatID uuid.UUID) (*Chat, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]Chat, error)
	Delete(ctx context.Context, patientID, chatID uuid.UUID) error

	AppendMessage(ctx context.Context, m *Message) error
	Messages(ctx context.Context, chatID uuid.UUID) ([]Message, error)
	MessagesFor(ctx context.Context, chatIDs []uuid.UUID) (map[uuid.UUID][]Message, error)
	Touch(ctx context.Context, chatID uuid.UUID, at time.Time) error

	Guidance(ctx context.Context, chatID uuid.UUID) (*string, error)
	SetGuidance(ctx context.Context, chatID uuid.UUID, guidance *string, at time.Time) error
}

type postgresRepo struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &postgresRepo{db: db}
}

const chatColumns = `id, patient_id, title, therapist_guidance, created_at, updated_at`

func scanChat(row interface{ Scan(...any) error }) (*Chat, error) {
	var c Chat
	var guidance sql.NullString
	if err := row.Scan(&c.ID, &c.PatientID, &c.Title, &guidance, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if guidance.Valid {
		g := guidance.String
		c.TherapistGuidance = &g
	}
	return &c, nil
}

func (r *postgresRepo) Create(ctx context.Context, c *Chat) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO chats (id, patient_id, title, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.PatientID, c.Title, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create chat: %w", err)
	}
	return nil
}

func (r *postgresRepo) Get(ctx context.Context, chatID uuid.UUID) (*Chat, error) {
	c, err := scanChat(r.db.QueryRowContext(ctx, `SELECT `+chatColumns+` FROM chats WHERE id = $1`, chatID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("Chat not found")
	}
	return c, err
}

func (r *postgresRepo) GetOwned(ctx context.Context, patientID, chatID uuid.UUID) (*Chat, error) {
	c, err := scanChat(r.db.QueryRowContext(ctx,
		`SELECT `+chatColumns+` FROM chats WHERE id = $1 AND patient_id = $2`, chatID, patientID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("Chat not found")
	}
	return c, err
}

func (r *postgresRepo) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]Chat, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+chatColumns+` FROM chats WHERE patient_id = $1 ORDER BY updated_at DESC`, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	defer rows.Close()

	out := []Chat{}
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// Delete removes an owned chat; messages, consents and analyses cascade.
func (r *postgresRepo) Delete(ctx context.Context, patientID, chatID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM chats WHERE id = $1 AND patient_id = $2`, chatID, patientID)
	if err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("Chat not found")
	}
	return nil
}

func (r *postgresRepo) AppendMessage(ctx context.Context, m *Message) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (id, chat_id, role, content, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.ChatID, m.Role, m.Content, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	defer rows.Close()
	out := []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *postgresRepo) Messages(ctx context.Context, chatID uuid.UUID) ([]Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, chat_id, role, content, created_at FROM messages
		WHERE chat_id = $1
		ORDER BY created_at, seq`, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	return scanMessages(rows)
}

// MessagesFor loads the ordered history of several chats in one query.
func (r *postgresRepo) MessagesFor(ctx context.Context, chatIDs []uuid.UUID) (map[uuid.UUID][]Message, error) {
	if len(chatIDs) == 0 {
		return map[uuid.UUID][]Message{}, nil
	}
	ids := lo.Map(chatIDs, func(id uuid.UUID, _ int) string { return id.String() })
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, chat_id, role, content, created_at FROM messages
		WHERE chat_id = ANY($1::uuid[])
		ORDER BY created_at, seq`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	return lo.GroupBy(msgs, func(m Message) uuid.UUID { return m.ChatID }), nil
}

func (r *postgresRepo) Touch(ctx context.Context, chatID uuid.UUID, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE chats SET updated_at = $2 WHERE id = $1`, chatID, at)
	if err != nil {
		return fmt.Errorf("failed to touch chat: %w", err)
	}
	return nil
}

func (r *postgresRepo) Guidance(ctx context.Context, chatID uuid.UUID) (*string, error) {
	var g sql.NullString
	err := r.db.QueryRowContext(ctx, `SELECT therapist_guidance FROM chats WHERE id = $1`, chatID).Scan(&g)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("Chat not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load guidance: %w", err)
	}
	if !g.Valid {
		return nil, nil
	}
	return &g.String, nil
}

func (r *postgresRepo) SetGuidance(ctx context.Context, chatID uuid.UUID, guidance *string, at time.Time) error {
	var g sql.NullString
	if guidance != nil {
		g = sql.NullString{String: *guidance, Valid: true}
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE chats SET therapist_guidance = $2, updated_at = $3 WHERE id = $1`, chatID, g, at)
	if err != nil {
		return fmt.Errorf("failed to set guidance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("Chat not found")
	}
	return nil
}
