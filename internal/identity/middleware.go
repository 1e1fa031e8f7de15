package identity

import (
	"context"
	"net/http"
	"strings"

	"cbt-companion/internal/apperr"
	"cbt-companion/internal/platform/web"
)

const CookieName = "auth-token"

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok && p != nil
}

func PatientFrom(ctx context.Context) (Patient, bool) {
	p, _ := PrincipalFrom(ctx)
	pt, ok := p.(Patient)
	return pt, ok
}

func TherapistFrom(ctx context.Context) (Therapist, bool) {
	p, _ := PrincipalFrom(ctx)
	th, ok := p.(Therapist)
	return th, ok
}

// Authenticate attaches the caller to the request context when a valid
// token is presented. It never rejects; the Require* guards do.
func Authenticate(tokens *TokenIssuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if raw := tokenFromRequest(r); raw != "" {
				if p, err := tokens.Parse(raw); err == nil {
					r = r.WithContext(WithPrincipal(r.Context(), p))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func tokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}

func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := PrincipalFrom(r.Context()); !ok {
			web.Error(w, nil, apperr.Unauthorized(), "Unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequirePatient rejects anyone who is not a patient. Wrong-role callers get
// the same 401 as anonymous ones.
func RequirePatient(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := PatientFrom(r.Context()); !ok {
			web.Error(w, nil, apperr.Unauthorized(), "Unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func RequireTherapist(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := TherapistFrom(r.Context()); !ok {
			web.Error(w, nil, apperr.Unauthorized(), "Unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}
