package chat

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

type postMessageRequest struct {
	Message string `json:"message"`
	ChatID  string `json:"chatId"`
}

func chatIDParam(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "chatID"))
	if err != nil {
		return uuid.Nil, apperr.NotFound("Chat not found")
	}
	return id, nil
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	patient, _ := identity.PatientFrom(r.Context())
	chats, err := h.svc.List(r.Context(), patient.ID)
	if err != nil {
		web.Error(w, h.log, err, "Failed to fetch chats")
		return
	}
	web.JSON(w, http.StatusOK, map[string]any{"chats": chats})
}

func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	patient, _ := identity.PatientFrom(r.Context())

	var req postMessageRequest
	if err := web.Decode(r, &req); err != nil {
		web.Error(w, h.log, err, "Failed to send message")
		return
	}

	var chatID *uuid.UUID
	if req.ChatID != "" {
		id, err := uuid.Parse(req.ChatID)
		if err != nil {
			web.Error(w, h.log, apperr.NotFound("Chat not found"), "")
			return
		}
		chatID = &id
	}

	res, err := h.svc.PostMessage(r.Context(), patient.ID, chatID, req.Message)
	if err != nil {
		web.Error(w, h.log, err, "Failed to send message")
		return
	}
	web.JSON(w, http.StatusOK, res)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	patient, _ := identity.PatientFrom(r.Context())
	chatID, err := chatIDParam(r)
	if err != nil {
		web.Error(w, h.log, err, "")
		return
	}

	detail, err := h.svc.Get(r.Context(), patient.ID, chatID)
	if err != nil {
		web.Error(w, h.log, err, "Failed to fetch chat")
		return
	}
	web.JSON(w, http.StatusOK, map[string]any{"chat": detail})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	patient, _ := identity.PatientFrom(r.Context())
	chatID, err := chatIDParam(r)
	if err != nil {
		web.Error(w, h.log, err, "")
		return
	}

	if err := h.svc.Delete(r.Context(), patient.ID, chatID); err != nil {
		web.Error(w, h.log, err, "Failed to delete chat")
		return
	}
	web.JSON(w, http.StatusOK, map[string]bool{"success": true})
}

// RegisterRoutes mounts the patient chat API. idem wraps the message post so
// retried submissions with the same Idempotency-Key are replayed.
func RegisterRoutes(r chi.Router, h *Handler, idem func(http.Handler) http.Handler) {
	r.Route("/chat", func(r chi.Router) {
		r.Use(identity.RequirePatient)
		r.Get("/", h.List)
		r.With(idem).Post("/", h.PostMessage)
		r.Get("/{chatID}", h.Get)
		r.Delete("/{chatID}", h.Delete)
	})
}
