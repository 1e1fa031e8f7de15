package idempotency

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"cbt-companion/internal/apperr"
	"cbt-companion/internal/identity"
	"cbt-companion/internal/platform/web"
)

const (
	Header         = "Idempotency-Key"
	ReplayedHeader = "Idempotent-Replayed"
	maxBodyBytes   = 1 << 20
)

// Middleware replays completed responses for repeated Idempotency-Key
// requests. Requests without the header pass straight through, as does every
// request when store is nil. Redis failures fall back to running the handler.
func Middleware(store *Store, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientKey := r.Header.Get(Header)
			p, ok := identity.PrincipalFrom(r.Context())
			if clientKey == "" || !ok {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
			if err != nil {
				web.Error(w, log, apperr.Invalid("Invalid request"), "")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			key := Key(p.UserID().String(), r.Method+" "+r.URL.Path, clientKey)
			hash := RequestHash(body)

			existing, claimed, err := store.Begin(r.Context(), key, hash)
			if err != nil {
				log.Warn("idempotency store unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			if !claimed {
				replay(w, log, existing, hash)
				return
			}

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			var buf bytes.Buffer
			ww.Tee(&buf)

			// A panicking handler must not leave the key pending until the TTL.
			returned := false
			defer func() {
				if returned {
					return
				}
				if err := store.Release(context.WithoutCancel(r.Context()), key); err != nil {
					log.Warn("failed to release idempotency key", zap.Error(err))
				}
			}()
			next.ServeHTTP(ww, r)
			returned = true

			// The request context may already be cancelled by now.
			ctx := context.WithoutCancel(r.Context())
			code := ww.Status()
			if code == 0 {
				code = http.StatusOK
			}
			if code >= http.StatusInternalServerError {
				if err := store.Release(ctx, key); err != nil {
					log.Warn("failed to release idempotency key", zap.Error(err))
				}
				return
			}
			rec := Record{
				RequestHash: hash,
				Code:        code,
				ContentType: ww.Header().Get("Content-Type"),
				Body:        buf.Bytes(),
			}
			if err := store.Complete(ctx, key, rec); err != nil {
				log.Warn("failed to store idempotent response", zap.Error(err))
			}
		})
	}
}

func replay(w http.ResponseWriter, log *zap.Logger, rec *Record, hash string) {
	switch {
	case rec.RequestHash != hash:
		web.Error(w, log, apperr.Conflict("Idempotency key was already used for a different request"), "")
	case rec.Status != statusCompleted:
		web.Error(w, log, apperr.Conflict("A request with this idempotency key is already in progress"), "")
	default:
		if rec.ContentType != "" {
			w.Header().Set("Content-Type", rec.ContentType)
		}
		w.Header().Set(ReplayedHeader, "true")
		w.WriteHeader(rec.Code)
		_, _ = w.Write(rec.Body)
	}
}
