package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"cbt-companion/internal/apperr"
)

const maxBodyBytes = 1 << 20

func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Error writes {"error": msg} with the status derived from err. Server-side
// failures are logged; fallback replaces messages of unclassified errors.
func Error(w http.ResponseWriter, log *zap.Logger, err error, fallback string) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError && log != nil {
		log.Error(fallback, zap.Error(err))
	}
	body := map[string]any{"error": apperr.PublicMessage(err, fallback)}
	if apperr.Is(err, apperr.KindAlreadyApproved) {
		if d := apperr.DetailOf(err); d != nil {
			body["consent"] = d
		}
	}
	JSON(w, status, body)
}

// Decode reads a JSON body into out. An empty body leaves out untouched.
func Decode(r *http.Request, out any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return apperr.Invalid("Invalid request")
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return apperr.Invalid("Invalid JSON")
		}
		return apperr.Invalid("Invalid request")
	}
	return nil
}
