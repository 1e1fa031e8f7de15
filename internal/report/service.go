package report

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"cbt-companion/internal/agent"
	"cbt-companion/internal/apperr"
	"cbt-companion/internal/chat"
	"cbt-companion/internal/platform/events"
	"cbt-companion/internal/platform/storage"
	"cbt-companion/internal/therapist"
)

// CareTeam answers assignment and consent questions. therapist.Repository
// satisfies it.
type CareTeam interface {
	AssignedPatient(ctx context.Context, therapistID, patientID uuid.UUID) (*therapist.PatientRef, error)
	PatientAnalysis(ctx context.Context, therapistID, patientID, analysisID uuid.UUID) (*therapist.Analysis, error)
	ApprovedChats(ctx context.Context, patientID uuid.UUID) ([]chat.Chat, error)
}

type MessageSource interface {
	MessagesFor(ctx context.Context, chatIDs []uuid.UUID) (map[uuid.UUID][]chat.Message, error)
}

type Composer interface {
	ComposeReport(ctx context.Context, patientName string, chats []agent.Transcript, analysis string) (string, error)
}

type Service struct {
	repo     Repository
	care     CareTeam
	messages MessageSource
	composer Composer
	events   events.Publisher
	archive  storage.Archive
	fonts    []string
	log      *zap.Logger
	now      func() time.Time
}

// NewService wires the report compiler. A nil archive disables PDF archiving.
func NewService(repo Repository, care CareTeam, messages MessageSource, composer Composer,
	pub events.Publisher, archive storage.Archive, fonts []string, log *zap.Logger) *Service {
	return &Service{
		repo:     repo,
		care:     care,
		messages: messages,
		composer: composer,
		events:   pub,
		archive:  archive,
		fonts:    fonts,
		log:      log,
		now:      time.Now,
	}
}

func fallbackContent(name string, at time.Time) string {
	return fmt.Sprintf("Report for %s\n\nGenerated on %s\n\nNo detailed analysis available at this time.",
		name, at.Format("1/2/2006"))
}

// Generate compiles and stores a report. Without a usable analysis the
// templated fallback is stored instead; a composer failure stores nothing.
func (s *Service) Generate(ctx context.Context, therapistID, patientID uuid.UUID, title string, analysisID *uuid.UUID) (*Report, error) {
	if patientID == uuid.Nil || title == "" {
		return nil, apperr.Invalid("Patient ID and title are required")
	}
	patient, err := s.care.AssignedPatient(ctx, therapistID, patientID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	content := ""
	if analysisID != nil {
		content, err = s.compose(ctx, therapistID, patient, *analysisID)
		if err != nil {
			return nil, err
		}
	}
	if content == "" {
		content = fallbackContent(patient.Name, now)
	}

	rep := &Report{
		ID:          uuid.New(),
		TherapistID: therapistID,
		PatientID:   patientID,
		Title:       title,
		Content:     content,
		CreatedAt:   now,
		Patient:     patient,
	}
	if err := s.repo.Create(ctx, rep); err != nil {
		return nil, err
	}

	if err := s.events.Publish(ctx, events.Event{
		Type:       events.ReportCreated,
		Subject:    patientID.String(),
		ActorID:    therapistID.String(),
		OccurredAt: now,
		Data:       map[string]any{"reportId": rep.ID},
	}); err != nil {
		s.log.Warn("failed to publish event", zap.String("type", events.ReportCreated), zap.Error(err))
	}
	s.archivePDF(ctx, rep)
	return rep, nil
}

// compose returns "" when the analysis is missing, was written by another
// therapist or is about another patient's chat.
func (s *Service) compose(ctx context.Context, therapistID uuid.UUID, patient *therapist.PatientRef, analysisID uuid.UUID) (string, error) {
	analysis, err := s.care.PatientAnalysis(ctx, therapistID, patient.ID, analysisID)
	if apperr.Is(err, apperr.KindNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	chats, err := s.care.ApprovedChats(ctx, patient.ID)
	if err != nil {
		return "", err
	}
	msgs, err := s.messages.MessagesFor(ctx, lo.Map(chats, func(c chat.Chat, _ int) uuid.UUID { return c.ID }))
	if err != nil {
		return "", err
	}
	transcripts := lo.Map(chats, func(c chat.Chat, _ int) agent.Transcript {
		return agent.Transcript{Title: c.Title, Turns: chat.Turns(msgs[c.ID])}
	})

	content, err := s.composer.ComposeReport(ctx, patient.Name, transcripts, analysis.Composed())
	if err != nil {
		return "", apperr.Collaborator("Failed to generate report", err)
	}
	return content, nil
}

func (s *Service) archivePDF(ctx context.Context, rep *Report) {
	if s.archive == nil {
		return
	}
	data, err := RenderPDF(rep, s.fonts)
	if err != nil {
		s.log.Warn("failed to render report pdf", zap.String("report_id", rep.ID.String()), zap.Error(err))
		return
	}
	key := fmt.Sprintf("reports/%s/%s.pdf", rep.TherapistID, rep.ID)
	if err := s.archive.Put(ctx, key, data, "application/pdf"); err != nil {
		s.log.Warn("failed to archive report pdf", zap.String("report_id", rep.ID.String()), zap.Error(err))
	}
}

func (s *Service) List(ctx context.Context, therapistID uuid.UUID, patientID *uuid.UUID) ([]Report, error) {
	return s.repo.List(ctx, therapistID, patientID)
}

// PDF renders a stored report for its author.
func (s *Service) PDF(ctx context.Context, therapistID, reportID uuid.UUID) (*Report, []byte, error) {
	rep, err := s.repo.Get(ctx, therapistID, reportID)
	if err != nil {
		return nil, nil, err
	}
	data, err := RenderPDF(rep, s.fonts)
	if err != nil {
		return nil, nil, err
	}
	return rep, data, nil
}
