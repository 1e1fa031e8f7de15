package report

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"cbt-companion/internal/apperr"
	"cbt-companion/internal/identity"
	"cbt-companion/internal/platform/web"
)

type Handler struct {
	svc *Service
	log *zap.Logger
}

func NewHandler(svc *Service, log *zap.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

type generateRequest struct {
	PatientID  string `json:"patientId"`
	Title      string `json:"title"`
	AnalysisID string `json:"analysisId"`
}

const notAssigned = "Patient not found or not assigned to you"

func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	t, _ := identity.TherapistFrom(r.Context())
	var req generateRequest
	if err := web.Decode(r, &req); err != nil {
		web.Error(w, h.log, err, "")
		return
	}
	if req.PatientID == "" || req.Title == "" {
		web.Error(w, h.log, apperr.Invalid("Patient ID and title are required"), "")
		return
	}
	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		web.Error(w, h.log, apperr.NotFound(notAssigned), "")
		return
	}
	var analysisID *uuid.UUID
	if req.AnalysisID != "" {
		// A malformed id is treated like one that does not resolve.
		if id, err := uuid.Parse(req.AnalysisID); err == nil {
			analysisID = &id
		}
	}

	rep, err := h.svc.Generate(r.Context(), t.ID, patientID, req.Title, analysisID)
	if err != nil {
		web.Error(w, h.log, err, "Failed to generate report")
		return
	}
	web.JSON(w, http.StatusCreated, map[string]any{"report": rep})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	t, _ := identity.TherapistFrom(r.Context())
	var patientID *uuid.UUID
	if raw := r.URL.Query().Get("patientId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			web.JSON(w, http.StatusOK, map[string]any{"reports": []Report{}})
			return
		}
		patientID = &id
	}

	reports, err := h.svc.List(r.Context(), t.ID, patientID)
	if err != nil {
		web.Error(w, h.log, err, "Failed to fetch reports")
		return
	}
	web.JSON(w, http.StatusOK, map[string]any{"reports": reports})
}

func (h *Handler) PDF(w http.ResponseWriter, r *http.Request) {
	t, _ := identity.TherapistFrom(r.Context())
	reportID, err := uuid.Parse(chi.URLParam(r, "reportID"))
	if err != nil {
		web.Error(w, h.log, apperr.NotFound("Report not found"), "")
		return
	}

	rep, data, err := h.svc.PDF(r.Context(), t.ID, reportID)
	if err != nil {
		web.Error(w, h.log, err, "Failed to render report")
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="report_%s.pdf"`, rep.ID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// RegisterRoutes adds the report endpoints under /therapist. idem wraps report
// creation so a retried POST with the same Idempotency-Key is replayed.
func RegisterRoutes(r chi.Router, h *Handler, idem func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		r.Use(identity.RequireTherapist)
		r.With(idem).Post("/therapist/reports", h.Generate)
		r.Get("/therapist/reports", h.List)
		r.Get("/therapist/reports/{reportID}/pdf", h.PDF)
	})
}
