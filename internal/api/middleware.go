package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/stephenadei/tutorbot/internal/metrics"
	"github.com/stephenadei/tutorbot/internal/models"
)

// CorrelationIDHeader carries the id that ties a webhook to its log lines.
const CorrelationIDHeader = "X-Correlation-ID"

type correlationIDKey struct{}

// CorrelationID returns the id attached by the correlation middleware.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey{}).(string)
	return id
}

// correlationID reuses the caller's X-Correlation-ID or generates one.
func correlationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(CorrelationIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(CorrelationIDHeader, id)
		ctx := context.WithValue(r.Context(), correlationIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestMetrics logs each request and records its duration by route pattern.
func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		duration := time.Since(start)
		metrics.RecordRequest(r.Method, path, strconv.Itoa(status), duration.Seconds())
		slog.Debug("HTTP request completed", "method", r.Method, "path", path, "status", status,
			"duration", duration, "correlationID", CorrelationID(r.Context()))
	})
}

// rateLimit limits webhook requests per client IP. A non-positive limit disables it.
func rateLimit(perMinute int) func(http.Handler) http.Handler {
	if perMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		perMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			slog.Warn("Webhook rate limit exceeded", "remoteAddr", r.RemoteAddr, "path", r.URL.Path)
			w.Header().Set("Retry-After", "60")
			writeJSONResponse(w, http.StatusTooManyRequests, models.Error("rate limit exceeded"))
		}),
	)
}
