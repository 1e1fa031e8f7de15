package consent

import (
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

type requestBody struct {
	ChatID string `json:"chatId"`
	Status string `json:"status"`
}

func parseChatID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		// Malformed ids cannot name an existing chat.
		return uuid.Nil, apperr.NotFound("Chat not found")
	}
	return id, nil
}

func (h *Handler) Request(w http.ResponseWriter, r *http.Request) {
	patient, _ := identity.PatientFrom(r.Context())

	var req requestBody
	if err := web.Decode(r, &req); err != nil {
		web.Error(w, h.log, err, "Failed to create consent request")
		return
	}
	if req.ChatID == "" {
		web.Error(w, h.log, apperr.Invalid("Chat ID is required"), "")
		return
	}
	chatID, err := parseChatID(req.ChatID)
	if err != nil {
		web.Error(w, h.log, err, "")
		return
	}

	c, err := h.svc.Request(r.Context(), patient.ID, chatID)
	if err != nil {
		web.Error(w, h.log, err, "Failed to create consent request")
		return
	}
	web.JSON(w, http.StatusOK, map[string]any{"consent": c})
}

func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	patient, _ := identity.PatientFrom(r.Context())

	var req requestBody
	if err := web.Decode(r, &req); err != nil {
		web.Error(w, h.log, err, "Failed to update consent")
		return
	}
	if req.ChatID == "" || req.Status == "" {
		web.Error(w, h.log, apperr.Invalid("Chat ID and status are required"), "")
		return
	}
	chatID, err := parseChatID(req.ChatID)
	if err != nil {
		web.Error(w, h.log, err, "")
		return
	}

	c, err := h.svc.SetStatus(r.Context(), patient.ID, chatID, req.Status)
	if err != nil {
		web.Error(w, h.log, err, "Failed to update consent")
		return
	}
	web.JSON(w, http.StatusOK, map[string]any{"consent": c})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	patient, _ := identity.PatientFrom(r.Context())

	list, err := h.svc.List(r.Context(), patient.ID)
	if err != nil {
		web.Error(w, h.log, err, "Failed to fetch consents")
		return
	}
	web.JSON(w, http.StatusOK, map[string]any{"consents": list})
}

func RegisterRoutes(r chi.Router, h *Handler) {
	r.Route("/consent", func(r chi.Router) {
		r.Use(identity.RequirePatient)
		r.Get("/", h.List)
		r.Post("/", h.SetStatus)
		r.Post("/request", h.Request)
	})
}
