package middleware

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// HeaderIdempotencyKey names the client-chosen retry key.
const HeaderIdempotencyKey = "X-Idempotency-Key"

const (
	maxKeyLen    = 200
	maxBodyBytes = 1 << 20
)

// Idempotency replays the stored response for a repeated POST from the same
// caller carrying the same X-Idempotency-Key, path and body. Responses below
// 500 are stored for ttl; server errors are not, so the client may retry
// them. When locks is set, a second request arriving while the first is
// still running gets 409.
func Idempotency(store domain.IdempotencyStore, locks domain.LockManager, ttl time.Duration, logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With(slog.String("component", "idempotency"))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
			if r.Method != http.MethodPost || key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxKeyLen {
				writeError(w, http.StatusBadRequest, "bad_request", "idempotency key too long")
				return
			}
			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
			if err != nil {
				writeError(w, http.StatusRequestEntityTooLarge, "bad_request", "request body too large")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			scoped := "idem:" + Caller(r) + ":" + r.URL.Path + ":" + fingerprint(body) + ":" + key

			ctx := r.Context()
			if locks != nil {
				unlock, err := locks.Acquire(ctx, scoped, lockTTL(ttl))
				if errors.Is(err, domain.ErrLockHeld) {
					writeError(w, http.StatusConflict, "idempotency_in_flight", "a request with this idempotency key is in progress")
					return
				}
				if err != nil {
					logger.WarnContext(ctx, "idempotency lock failed", slog.String("error", err.Error()))
				} else {
					defer unlock()
				}
			}

			if rec, err := store.Get(ctx, scoped); err != nil {
				logger.WarnContext(ctx, "idempotency lookup failed", slog.String("error", err.Error()))
			} else if rec != nil {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.Header().Set("Idempotent-Replayed", "true")
				w.WriteHeader(rec.StatusCode)
				w.Write(rec.Body)
				return
			}

			rw := &recordingWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)

			if rw.status >= http.StatusInternalServerError {
				return
			}
			now := time.Now().UTC()
			if err := store.Save(ctx, scoped, domain.IdempotencyRecord{
				StatusCode: rw.status,
				Body:       rw.body.Bytes(),
				CreatedAt:  now,
				ExpiresAt:  now.Add(ttl),
			}); err != nil {
				logger.WarnContext(ctx, "idempotency save failed", slog.String("error", err.Error()))
			}
		})
	}
}

// lockTTL bounds how long a crashed request can block its key.
func lockTTL(ttl time.Duration) time.Duration {
	return min(ttl, time.Minute)
}

type recordingWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (rw *recordingWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *recordingWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	rw.body.Write(b)
	return rw.ResponseWriter.Write(b)
}
