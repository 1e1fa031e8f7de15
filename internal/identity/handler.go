package identity

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"cbt-companion/internal/apperr"
	"cbt-companion/internal/platform/web"
)

type Handler struct {
	svc          *Service
	log          *zap.Logger
	cookieSecure bool
}

func NewHandler(svc *Service, log *zap.Logger, cookieSecure bool) *Handler {
	return &Handler{svc: svc, log: log, cookieSecure: cookieSecure}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type userView struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := web.Decode(r, &req); err != nil {
		web.Error(w, h.log, err, "Login failed")
		return
	}

	sess, err := h.svc.Login(r.Context(), req.Username, req.Password, req.Role)
	if err != nil {
		web.Error(w, h.log, err, "Login failed")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    sess.Token,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
		Expires:  sess.ExpiresAt,
		MaxAge:   int(h.svc.tokens.TTL().Seconds()),
	})
	web.JSON(w, http.StatusOK, map[string]any{
		"user": userView{ID: sess.User.ID.String(), Name: sess.User.Name, Role: sess.User.Role},
	})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
	web.JSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := PrincipalFrom(r.Context())
	if !ok {
		web.Error(w, h.log, apperr.Unauthorized(), "Unauthorized")
		return
	}
	u, err := h.svc.Me(r.Context(), p.UserID())
	if err != nil {
		web.Error(w, h.log, err, "Failed to fetch user")
		return
	}
	web.JSON(w, http.StatusOK, map[string]any{"user": u})
}

func RegisterRoutes(r chi.Router, h *Handler) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", h.Login)
		r.Post("/logout", h.Logout)
		r.With(RequireAuth).Get("/me", h.Me)
	})
}
