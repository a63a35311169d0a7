package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/yourorg/doccontrol/internal/lifecycle"
)

type correlationKey struct{}

type actorKey struct{}

// UserResolver maps the actor header onto a directory entry.
type UserResolver interface {
	User(id string) (lifecycle.User, bool)
}

func ContextWithActor(ctx context.Context, u lifecycle.User) context.Context {
	return context.WithValue(ctx, actorKey{}, u)
}

func ActorFromContext(ctx context.Context) (lifecycle.User, bool) {
	u, ok := ctx.Value(actorKey{}).(lifecycle.User)
	return u, ok
}

func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

func CorrelationLogger(logger *slog.Logger, corrID, actorID string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("corrId", corrID, "actorId", actorID)
}

// Correlation propagates X-Correlation-Id, generating one when absent, and
// echoes it on every response.
func Correlation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corrID := r.Header.Get("X-Correlation-Id")
		if corrID == "" {
			corrID = uuid.NewString()
		}
		w.Header().Set("X-Correlation-Id", corrID)
		ctx := context.WithValue(r.Context(), correlationKey{}, corrID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireActor resolves the acting user from header and rejects requests
// that name nobody or an unknown user.
func RequireActor(users UserResolver, header string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			corrID := CorrelationID(r.Context())
			id := r.Header.Get(header)
			if id == "" {
				writeJSON(w, http.StatusUnauthorized, corrID, ErrorResponse{
					Code: "AUTH_REQUIRED", Message: header + " header required", CorrID: corrID,
				}, nil)
				return
			}
			user, ok := users.User(id)
			if !ok {
				writeJSON(w, http.StatusUnauthorized, corrID, ErrorResponse{
					Code: "UNKNOWN_ACTOR", Message: "actor is not in the user directory", CorrID: corrID,
				}, nil)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithActor(r.Context(), user)))
		})
	}
}

// RateLimit throttles per resolved actor. It must run after RequireActor.
func RateLimit(limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, _ := ActorFromContext(r.Context())
			if ok, retryAfter := limiter.Allow(actor.ID); !ok {
				corrID := CorrelationID(r.Context())
				writeJSON(w, http.StatusTooManyRequests, corrID, ErrorResponse{
					Code:              "RATE_LIMITED",
					Message:           "too many requests",
					CorrID:            corrID,
					Retryable:         true,
					RetryAfterSeconds: toRetrySeconds(retryAfter),
				}, map[string]string{"Retry-After": formatRetryAfter(retryAfter)})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// HTTPMetrics counts requests by route pattern and status code.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	m := &HTTPMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "doccontrol",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "doccontrol",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.latency)
	}
	return m
}

// AccessLog logs and counts each request once it has been served.
func AccessLog(logger *slog.Logger, m *HTTPMetrics) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)
			if m != nil {
				m.requests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
				m.latency.WithLabelValues(route).Observe(elapsed.Seconds())
			}
			logger.Debug("request served",
				"corrId", CorrelationID(r.Context()),
				"method", r.Method,
				"route", route,
				"status", status,
				"duration", elapsed,
			)
		})
	}
}
