package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	headerRequestID       = "X-Request-Id"
	headerClientRequestID = "X-Client-Request-Id"

	maxClientRequestIDLen = 128
)

type clientRequestIDKey struct{}

// clientRequestID returns the id the caller sent in X-Request-Id, if any.
func clientRequestID(ctx context.Context) string {
	id, _ := ctx.Value(clientRequestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// requestContext assigns a server request id, echoes it back and attaches a
// request-scoped logger to the context for everything downstream. The id also
// keys the journal, so it is never taken from the caller; an id the caller sent
// is kept alongside as the client request id.
func requestContext(base zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		clientID := strings.TrimSpace(r.Header.Get(headerRequestID))
		if len(clientID) > maxClientRequestIDLen {
			clientID = clientID[:maxClientRequestIDLen]
		}
		r.Header.Set(headerRequestID, id)
		w.Header().Set(headerRequestID, id)

		logCtx := base.With().Str("request_id", id)
		ctx := r.Context()
		if clientID != "" {
			w.Header().Set(headerClientRequestID, clientID)
			logCtx = logCtx.Str("client_request_id", clientID)
			ctx = context.WithValue(ctx, clientRequestIDKey{}, clientID)
		}
		logger := logCtx.Logger()
		r = r.WithContext(logger.WithContext(ctx))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("elapsed", time.Since(start)).
			Msg("Request handled")
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.allow(clientKey(r), time.Now()) {
			s.metrics.incRateLimited()
			writeJSON(w, http.StatusTooManyRequests, handlerFailure("rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
