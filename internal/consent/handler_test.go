package consent

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cbt-companion/internal/identity"
)

func asPrincipal(p identity.Principal) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(identity.WithPrincipal(r.Context(), p)))
		})
	}
}

func newRouter(svc *Service, p identity.Principal) http.Handler {
	r := chi.NewRouter()
	r.Use(asPrincipal(p))
	r.Route("/api", func(r chi.Router) {
		RegisterRoutes(r, NewHandler(svc, zap.NewNop()))
	})
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandler_RequestThenApproveThenRequest(t *testing.T) {
	svc, _, _, patientID, chatID := setup(t)
	router := newRouter(svc, identity.Patient{ID: patientID, Name: "alex"})
	body := `{"chatId":"` + chatID.String() + `"}`

	rec := do(t, router, http.MethodPost, "/api/consent/request", body)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/consent", `{"chatId":"`+chatID.String()+`","status":"APPROVED"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/consent/request", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp struct {
		Error   string  `json:"error"`
		Consent Consent `json:"consent"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Consent already approved for this chat", resp.Error)
	assert.Equal(t, StatusApproved, resp.Consent.Status)

	rec = do(t, router, http.MethodGet, "/api/consent", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), chatID.String())
}

func TestHandler_Validation(t *testing.T) {
	svc, _, _, patientID, _ := setup(t)
	router := newRouter(svc, identity.Patient{ID: patientID})

	rec := do(t, router, http.MethodPost, "/api/consent/request", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Chat ID is required"}`, rec.Body.String())

	rec = do(t, router, http.MethodPost, "/api/consent", `{"chatId":"`+uuid.NewString()+`"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/consent", `{"chatId":"`+uuid.NewString()+`","status":"APPROVED"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"Chat not found"}`, rec.Body.String())
}

func TestHandler_TherapistIsRejected(t *testing.T) {
	svc, _, _, _, _ := setup(t)
	router := newRouter(svc, identity.Therapist{ID: uuid.New()})

	rec := do(t, router, http.MethodGet, "/api/consent", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
