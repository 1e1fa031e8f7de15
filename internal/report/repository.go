package report

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"cbt-companion/internal/apperr"
	"cbt-companion/internal/therapist"
)

type Repository interface {
	Create(ctx context.Context, r *Report) error
	List(ctx context.Context, therapistID uuid.UUID, patientID *uuid.UUID) ([]Report, error)
	Get(ctx context.Context, therapistID, reportID uuid.UUID) (*Report, error)
}

type postgresRepo struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &postgresRepo{db: db}
}

func (r *postgresRepo) Create(ctx context.Context, rep *Report) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO reports (id, therapist_id, patient_id, title, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rep.ID, rep.TherapistID, rep.PatientID, rep.Title, rep.Content, rep.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert report: %w", err)
	}
	return nil
}

const selectReports = `
	SELECT r.id, r.therapist_id, r.patient_id, r.title, r.content, r.created_at,
	       u.id, u.name, u.email
	FROM reports r
	JOIN users u ON u.id = r.patient_id`

func scanReport(row interface{ Scan(...any) error }) (*Report, error) {
	var rep Report
	var p therapist.PatientRef
	if err := row.Scan(&rep.ID, &rep.TherapistID, &rep.PatientID, &rep.Title, &rep.Content, &rep.CreatedAt,
		&p.ID, &p.Name, &p.Email); err != nil {
		return nil, err
	}
	rep.Patient = &p
	return &rep, nil
}

func (r *postgresRepo) List(ctx context.Context, therapistID uuid.UUID, patientID *uuid.UUID) ([]Report, error) {
	query := selectReports + ` WHERE r.therapist_id = $1`
	args := []any{therapistID}
	if patientID != nil {
		query += ` AND r.patient_id = $2`
		args = append(args, *patientID)
	}
	query += ` ORDER BY r.created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	out := []Report{}
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rep)
	}
	return out, rows.Err()
}

func (r *postgresRepo) Get(ctx context.Context, therapistID, reportID uuid.UUID) (*Report, error) {
	rep, err := scanReport(r.db.QueryRowContext(ctx,
		selectReports+` WHERE r.id = $1 AND r.therapist_id = $2`, reportID, therapistID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("Report not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load report: %w", err)
	}
	return rep, nil
}
