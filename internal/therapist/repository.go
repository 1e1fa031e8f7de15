package therapist

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
	"cbt-companion/internal/chat"
	"cbt-companion/internal/consent"
)

type Repository interface {
	// VisibleChat reports whether the chat's owner is assigned to the
	// therapist and the chat carries at least one APPROVED consent. Both
	// conditions are evaluated in a single statement on every call.
	VisibleChat(ctx context.Context, therapistID, chatID uuid.UUID) (bool, error)
	AssignedPatient(ctx context.Context, therapistID, patientID uuid.UUID) (*PatientRef, error)
	Patients(ctx context.Context, therapistID uuid.UUID) ([]PatientOverview, error)
	ApprovedChats(ctx context.Context, patientID uuid.UUID) ([]chat.Chat, error)
	ApprovedConsents(ctx context.Context, chatIDs []uuid.UUID) (map[uuid.UUID][]consent.Consent, error)

	UpsertAnalysis(ctx context.Context, a *Analysis) (*Analysis, error)
	AnalysisFor(ctx context.Context, therapistID, chatID uuid.UUID) (*Analysis, error)
	PatientAnalysis(ctx context.Context, therapistID, patientID, analysisID uuid.UUID) (*Analysis, error)
	AnalysesFor(ctx context.Context, therapistID uuid.UUID, chatIDs []uuid.UUID) (map[uuid.UUID]*Analysis, error)
	SaveCorrection(ctx context.Context, therapistID, analysisID uuid.UUID, text string, at time.Time) (*Analysis, error)
}

type postgresRepo struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &postgresRepo{db: db}
}

const visibleChatQuery = `
	SELECT EXISTS (
		SELECT 1 FROM chats c
		JOIN users p ON p.id = c.patient_id
		WHERE c.id = $1
		  AND p.therapist_id = $2
		  AND EXISTS (SELECT 1 FROM consents k WHERE k.chat_id = c.id AND k.status = 'APPROVED')
	)`

func (r *postgresRepo) VisibleChat(ctx context.Context, therapistID, chatID uuid.UUID) (bool, error) {
	var ok bool
	if err := r.db.QueryRowContext(ctx, visibleChatQuery, chatID, therapistID).Scan(&ok); err != nil {
		return false, fmt.Errorf("failed to check chat visibility: %w", err)
	}
	return ok, nil
}

func (r *postgresRepo) AssignedPatient(ctx context.Context, therapistID, patientID uuid.UUID) (*PatientRef, error) {
	var p PatientRef
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, email FROM users
		WHERE id = $1 AND therapist_id = $2 AND role = 'PATIENT'`, patientID, therapistID).
		Scan(&p.ID, &p.Name, &p.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("Patient not found or not assigned to you")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load patient: %w", err)
	}
	return &p, nil
}

func uuidArray(ids []uuid.UUID) any {
	return pq.Array(lo.Map(ids, func(id uuid.UUID, _ int) string { return id.String() }))
}

func (r *postgresRepo) Patients(ctx context.Context, therapistID uuid.UUID) ([]PatientOverview, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, email, created_at FROM users
		WHERE therapist_id = $1 AND role = 'PATIENT'
		ORDER BY created_at DESC`, therapistID)
	if err != nil {
		return nil, fmt.Errorf("failed to list patients: %w", err)
	}
	patients := []PatientOverview{}
	for rows.Next() {
		var p PatientOverview
		if err := rows.Scan(&p.ID, &p.Name, &p.Email, &p.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		patients = append(patients, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(patients) == 0 {
		return patients, nil
	}

	type chatRow struct {
		patientID uuid.UUID
		ChatOverview
	}
	crows, err := r.db.QueryContext(ctx, `
		SELECT c.patient_id, c.id, c.title, c.created_at, c.updated_at,
		       (SELECT COUNT(*) FROM messages m WHERE m.chat_id = c.id)
		FROM chats c
		WHERE c.patient_id = ANY($1::uuid[])
		ORDER BY c.updated_at DESC`,
		uuidArray(lo.Map(patients, func(p PatientOverview, _ int) uuid.UUID { return p.ID })))
	if err != nil {
		return nil, fmt.Errorf("failed to list patient chats: %w", err)
	}
	defer crows.Close()

	var chats []chatRow
	for crows.Next() {
		var c chatRow
		if err := crows.Scan(&c.patientID, &c.ID, &c.Title, &c.CreatedAt, &c.UpdatedAt, &c.MessageCount); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	if err := crows.Err(); err != nil {
		return nil, err
	}

	consents, err := r.ApprovedConsents(ctx, lo.Map(chats, func(c chatRow, _ int) uuid.UUID { return c.ID }))
	if err != nil {
		return nil, err
	}
	byPatient := lo.GroupBy(chats, func(c chatRow) uuid.UUID { return c.patientID })
	for i := range patients {
		list := byPatient[patients[i].ID]
		patients[i].Chats = lo.Map(list, func(c chatRow, _ int) ChatOverview {
			c.ApprovedConsents = lo.Ternary(consents[c.ID] != nil, consents[c.ID], []consent.Consent{})
			return c.ChatOverview
		})
		patients[i].ChatCount = len(list)
	}
	return patients, nil
}

func (r *postgresRepo) ApprovedChats(ctx context.Context, patientID uuid.UUID) ([]chat.Chat, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.patient_id, c.title, c.therapist_guidance, c.created_at, c.updated_at
		FROM chats c
		WHERE c.patient_id = $1
		  AND EXISTS (SELECT 1 FROM consents k WHERE k.chat_id = c.id AND k.status = 'APPROVED')
		ORDER BY c.updated_at DESC`, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list approved chats: %w", err)
	}
	defer rows.Close()

	out := []chat.Chat{}
	for rows.Next() {
		var c chat.Chat
		var g sql.NullString
		if err := rows.Scan(&c.ID, &c.PatientID, &c.Title, &g, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		if g.Valid {
			c.TherapistGuidance = &g.String
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *postgresRepo) ApprovedConsents(ctx context.Context, chatIDs []uuid.UUID) (map[uuid.UUID][]consent.Consent, error) {
	if len(chatIDs) == 0 {
		return map[uuid.UUID][]consent.Consent{}, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, chat_id, patient_id, status, requested_at, responded_at FROM consents
		WHERE chat_id = ANY($1::uuid[]) AND status = 'APPROVED'
		ORDER BY requested_at DESC`, uuidArray(chatIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to list approved consents: %w", err)
	}
	defer rows.Close()

	var list []consent.Consent
	for rows.Next() {
		var c consent.Consent
		var responded sql.NullTime
		if err := rows.Scan(&c.ID, &c.ChatID, &c.PatientID, &c.Status, &c.RequestedAt, &responded); err != nil {
			return nil, err
		}
		if responded.Valid {
			c.RespondedAt = &responded.Time
		}
		list = append(list, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lo.GroupBy(list, func(c consent.Consent) uuid.UUID { return c.ChatID }), nil
}

const analysisColumns = `id, chat_id, therapist_id, analysis, predictions, sentiment, risk_level,
	therapist_corrections, corrected_at, created_at, updated_at`

func scanAnalysis(row interface{ Scan(...any) error }) (*Analysis, error) {
	var a Analysis
	var predictions, corrections sql.NullString
	var correctedAt sql.NullTime
	if err := row.Scan(&a.ID, &a.ChatID, &a.TherapistID, &a.Analysis, &predictions, &a.Sentiment,
		&a.RiskLevel, &corrections, &correctedAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	if predictions.Valid {
		a.Predictions = &predictions.String
	}
	if corrections.Valid {
		a.TherapistCorrections = &corrections.String
	}
	if correctedAt.Valid {
		a.CorrectedAt = &correctedAt.Time
	}
	return &a, nil
}

// UpsertAnalysis writes the model output. The update path names its columns
// explicitly so corrections survive a regeneration.
func (r *postgresRepo) UpsertAnalysis(ctx context.Context, a *Analysis) (*Analysis, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO ai_analyses (id, chat_id, therapist_id, analysis, predictions, sentiment, risk_level, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (chat_id, therapist_id) DO UPDATE SET
			analysis = EXCLUDED.analysis,
			predictions = EXCLUDED.predictions,
			sentiment = EXCLUDED.sentiment,
			risk_level = EXCLUDED.risk_level,
			updated_at = EXCLUDED.updated_at
		RETURNING `+analysisColumns,
		a.ID, a.ChatID, a.TherapistID, a.Analysis, a.Predictions, a.Sentiment, a.RiskLevel, a.UpdatedAt)
	out, err := scanAnalysis(row)
	if err != nil {
		return nil, fmt.Errorf("failed to save analysis: %w", err)
	}
	return out, nil
}

func (r *postgresRepo) AnalysisFor(ctx context.Context, therapistID, chatID uuid.UUID) (*Analysis, error) {
	a, err := scanAnalysis(r.db.QueryRowContext(ctx,
		`SELECT `+analysisColumns+` FROM ai_analyses WHERE chat_id = $1 AND therapist_id = $2`, chatID, therapistID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("Analysis not found")
	}
	return a, err
}

const patientAnalysisQuery = `
	SELECT a.id, a.chat_id, a.therapist_id, a.analysis, a.predictions, a.sentiment, a.risk_level,
		a.therapist_corrections, a.corrected_at, a.created_at, a.updated_at
	FROM ai_analyses a
	JOIN chats c ON c.id = a.chat_id
	WHERE a.id = $1 AND a.therapist_id = $2 AND c.patient_id = $3`

// PatientAnalysis loads an analysis written by therapistID about one of patientID's chats.
func (r *postgresRepo) PatientAnalysis(ctx context.Context, therapistID, patientID, analysisID uuid.UUID) (*Analysis, error) {
	a, err := scanAnalysis(r.db.QueryRowContext(ctx, patientAnalysisQuery, analysisID, therapistID, patientID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("Analysis not found or access denied")
	}
	return a, err
}

func (r *postgresRepo) AnalysesFor(ctx context.Context, therapistID uuid.UUID, chatIDs []uuid.UUID) (map[uuid.UUID]*Analysis, error) {
	out := map[uuid.UUID]*Analysis{}
	if len(chatIDs) == 0 {
		return out, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+analysisColumns+` FROM ai_analyses WHERE therapist_id = $1 AND chat_id = ANY($2::uuid[])`,
		therapistID, uuidArray(chatIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to list analyses: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		out[a.ChatID] = a
	}
	return out, rows.Err()
}

func (r *postgresRepo) SaveCorrection(ctx context.Context, therapistID, analysisID uuid.UUID, text string, at time.Time) (*Analysis, error) {
	a, err := scanAnalysis(r.db.QueryRowContext(ctx, `
		UPDATE ai_analyses SET therapist_corrections = $3, corrected_at = $4
		WHERE id = $1 AND therapist_id = $2
		RETURNING `+analysisColumns, analysisID, therapistID, text, at))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("Analysis not found or access denied")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to save corrections: %w", err)
	}
	return a, nil
}
