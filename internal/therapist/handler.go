package therapist

import (
	"encoding/json"
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

// parseID maps a malformed id to the same NotFound a missing row produces.
func parseID(raw, notFound string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperr.NotFound(notFound)
	}
	return id, nil
}

const gateMessage = "Chat not found or access denied"

func (h *Handler) Patients(w http.ResponseWriter, r *http.Request) {
	t, _ := identity.TherapistFrom(r.Context())
	patients, err := h.svc.Patients(r.Context(), t.ID)
	if err != nil {
		web.Error(w, h.log, err, "Failed to fetch patients")
		return
	}
	web.JSON(w, http.StatusOK, map[string]any{"patients": patients})
}

func (h *Handler) PatientChats(w http.ResponseWriter, r *http.Request) {
	t, _ := identity.TherapistFrom(r.Context())
	patientID, err := parseID(chi.URLParam(r, "patientID"), "Patient not found or not assigned to you")
	if err != nil {
		web.Error(w, h.log, err, "")
		return
	}
	chats, err := h.svc.PatientChats(r.Context(), t.ID, patientID)
	if err != nil {
		web.Error(w, h.log, err, "Failed to fetch chats")
		return
	}
	web.JSON(w, http.StatusOK, map[string]any{"chats": chats})
}

func (h *Handler) GenerateAnalysis(w http.ResponseWriter, r *http.Request) {
	t, _ := identity.TherapistFrom(r.Context())
	var req struct {
		ChatID string `json:"chatId"`
	}
	if err := web.Decode(r, &req); err != nil {
		web.Error(w, h.log, err, "")
		return
	}
	if req.ChatID == "" {
		web.Error(w, h.log, apperr.Invalid("Chat ID is required"), "")
		return
	}
	chatID, err := parseID(req.ChatID, gateMessage)
	if err != nil {
		web.Error(w, h.log, err, "")
		return
	}

	a, err := h.svc.GenerateAnalysis(r.Context(), t.ID, chatID)
	if err != nil {
		web.Error(w, h.log, err, "Failed to generate analysis")
		return
	}
	web.JSON(w, http.StatusOK, map[string]any{"analysis": a})
}

func (h *Handler) Analysis(w http.ResponseWriter, r *http.Request) {
	t, _ := identity.TherapistFrom(r.Context())
	raw := r.URL.Query().Get("chatId")
	if raw == "" {
		web.Error(w, h.log, apperr.Invalid("Chat ID is required"), "")
		return
	}
	chatID, err := parseID(raw, gateMessage)
	if err != nil {
		web.Error(w, h.log, err, "")
		return
	}

	a, err := h.svc.Analysis(r.Context(), t.ID, chatID)
	if err != nil {
		web.Error(w, h.log, err, "Failed to fetch analysis")
		return
	}
	web.JSON(w, http.StatusOK, map[string]any{"analysis": a})
}

func (h *Handler) CorrectAnalysis(w http.ResponseWriter, r *http.Request) {
	t, _ := identity.TherapistFrom(r.Context())
	var req struct {
		AnalysisID  string `json:"analysisId"`
		Corrections string `json:"corrections"`
	}
	if err := web.Decode(r, &req); err != nil {
		web.Error(w, h.log, err, "")
		return
	}
	if req.AnalysisID == "" {
		web.Error(w, h.log, apperr.Invalid("Analysis ID and corrections are required"), "")
		return
	}
	id, err := parseID(req.AnalysisID, "Analysis not found or access denied")
	if err != nil {
		web.Error(w, h.log, err, "")
		return
	}

	a, err := h.svc.CorrectAnalysis(r.Context(), t.ID, id, req.Corrections)
	if err != nil {
		web.Error(w, h.log, err, "Failed to save corrections")
		return
	}
	web.JSON(w, http.StatusOK, map[string]any{"analysis": a})
}

func (h *Handler) Guidance(w http.ResponseWriter, r *http.Request) {
	t, _ := identity.TherapistFrom(r.Context())
	chatID, err := parseID(chi.URLParam(r, "chatID"), gateMessage)
	if err != nil {
		web.Error(w, h.log, err, "")
		return
	}
	g, err := h.svc.Guidance(r.Context(), t.ID, chatID)
	if err != nil {
		web.Error(w, h.log, err, "Failed to fetch guidance")
		return
	}
	web.JSON(w, http.StatusOK, map[string]any{"guidance": g})
}

// SetGuidance distinguishes an absent "guidance" key (rejected) from an
// explicit null (clears the guidance).
func (h *Handler) SetGuidance(w http.ResponseWriter, r *http.Request) {
	t, _ := identity.TherapistFrom(r.Context())
	chatID, err := parseID(chi.URLParam(r, "chatID"), gateMessage)
	if err != nil {
		web.Error(w, h.log, err, "")
		return
	}

	var body map[string]json.RawMessage
	if err := web.Decode(r, &body); err != nil {
		web.Error(w, h.log, err, "")
		return
	}
	raw, ok := body["guidance"]
	if !ok {
		web.Error(w, h.log, apperr.Invalid("Guidance is required"), "")
		return
	}
	var text *string
	if err := json.Unmarshal(raw, &text); err != nil {
		web.Error(w, h.log, apperr.Invalid("Guidance must be a string"), "")
		return
	}

	c, err := h.svc.SetGuidance(r.Context(), t.ID, chatID, text)
	if err != nil {
		web.Error(w, h.log, err, "Failed to update guidance")
		return
	}
	web.JSON(w, http.StatusOK, map[string]any{"chat": c})
}

// RegisterRoutes adds the therapist API. Paths are registered on a group so
// other packages can share the /therapist prefix.
func RegisterRoutes(r chi.Router, h *Handler) {
	r.Group(func(r chi.Router) {
		r.Use(identity.RequireTherapist)
		r.Get("/therapist/patients", h.Patients)
		r.Get("/therapist/patient/{patientID}/chats", h.PatientChats)
		r.Post("/therapist/analysis", h.GenerateAnalysis)
		r.Get("/therapist/analysis", h.Analysis)
		r.Post("/therapist/analysis/correct", h.CorrectAnalysis)
		r.Get("/therapist/chat/{chatID}/guidance", h.Guidance)
		r.Put("/therapist/chat/{chatID}/guidance", h.SetGuidance)
	})
}
