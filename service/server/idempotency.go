package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/brojonat/ripple/service/cache"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"
	maxIdempotencyKey = 255
)

// recorder tees a response so it can be stored for replay.
type recorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *recorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *recorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

// idempotent replays the stored answer of a request that carries an
// Idempotency-Key already seen in scope. Final answers are stored; server
// errors and concurrency conflicts release the key so the client may retry.
// Requests without the header pass through.
func idempotent(store *cache.Idempotency, scope string, logger *slog.Logger, next http.Handler) http.Handler {
	if store == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(idempotencyHeader)
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}
		if len(key) > maxIdempotencyKey {
			writeValidationError(w, idempotencyHeader, "idempotency key too long: maximum length is 255 characters")
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
		if err != nil {
			writeError(w, "request body too large: maximum size is 1MB", http.StatusBadRequest)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		fp := cache.Fingerprint(body)

		stored, err := store.Begin(r.Context(), scope, key, fp)
		switch {
		case errors.Is(err, cache.ErrInProgress):
			writeError(w, err.Error(), http.StatusConflict)
			return
		case errors.Is(err, cache.ErrKeyReused):
			writeError(w, err.Error(), http.StatusUnprocessableEntity)
			return
		case err != nil:
			logger.Error("idempotency store unavailable", "scope", scope, "error", err)
			writeError(w, "idempotency store unavailable", http.StatusServiceUnavailable)
			return
		case stored != nil:
			logger.Info("replaying idempotent response", "scope", scope, "status", stored.StatusCode)
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set(replayedHeader, "true")
			w.WriteHeader(stored.StatusCode)
			w.Write(stored.Body)
			return
		}

		rec := &recorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		// The request's own context may already be gone.
		ctx := context.WithoutCancel(r.Context())
		if rec.status == 0 || rec.status == http.StatusConflict || rec.status >= http.StatusInternalServerError {
			if err := store.Release(ctx, scope, key); err != nil {
				logger.Warn("failed to release idempotency key", "scope", scope, "error", err)
			}
			return
		}
		if err := store.Complete(ctx, scope, key, fp, cache.Response{StatusCode: rec.status, Body: rec.body.Bytes()}); err != nil {
			logger.Warn("failed to store idempotent response", "scope", scope, "error", err)
		}
	})
}
