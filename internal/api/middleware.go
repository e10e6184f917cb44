package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/depthslice/server/internal/logging"
)

var logger = logging.NewLogger()

// requestContext attaches a request id and a request-scoped logger.
func requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)

		ctx := context.WithValue(r.Context(), logging.ReqIDKey, reqID)
		l := logger.With().Str("reqID", reqID).Logger()
		ctx = l.WithContext(ctx)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestLogger logs one line per request at debug level.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		cl := r.Header.Get("Content-Length")
		if cl == "" {
			cl = "0"
		}
		logging.FromContext(r.Context()).Debug().
			Str("method", r.Method).
			Str("remote_ip", r.RemoteAddr).
			Str("path", r.URL.Path).
			Int("status", status).
			Int64("latency_ns", int64(time.Since(start))).
			Str("protocol", r.Proto).
			Str("bytes_in", cl).
			Int("bytes_out", ww.BytesWritten()).
			Msg("req received")
	})
}

// rateLimit rejects requests beyond rps with 429. A non-positive rps
// disables limiting.
func rateLimit(rps float64, burst int) func(http.Handler) http.Handler {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				writeJSON(w, http.StatusTooManyRequests, map[string]string{"Error": "rate limit exceeded"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
