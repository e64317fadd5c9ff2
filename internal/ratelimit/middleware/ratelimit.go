package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"ballotbox/internal/platform/metrics"
	"ballotbox/internal/ratelimit/models"
	"ballotbox/internal/ratelimit/store/bucket"
	"ballotbox/pkg/platform/audit"
	"ballotbox/pkg/platform/circuit"
	"ballotbox/pkg/platform/httputil"
	"ballotbox/pkg/platform/middleware/metadata"
	"ballotbox/pkg/requestcontext"
)

// BucketStore counts requests in a sliding window.
type BucketStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Middleware enforces per-IP limits. The primary store is always consulted;
// once its breaker opens, decisions come from a per-process fallback until
// the primary has recovered.
type Middleware struct {
	primary  BucketStore
	fallback BucketStore
	breaker  *circuit.Breaker
	metrics  *metrics.Metrics
	audit    AuditPublisher
	resolver *metadata.Resolver
	logger   *slog.Logger
	disabled bool
}

type Option func(*Middleware)

// WithDisabled disables rate limiting entirely (for local demos).
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) {
		m.disabled = disabled
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Middleware) {
		m.metrics = mt
	}
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(m *Middleware) {
		m.audit = p
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(m *Middleware) {
		m.breaker = b
	}
}

// WithResolver sets how the client address is found when no earlier
// middleware stored it in the context.
func WithResolver(res *metadata.Resolver) Option {
	return func(m *Middleware) {
		m.resolver = res
	}
}

func WithFallback(store BucketStore) Option {
	return func(m *Middleware) {
		m.fallback = store
	}
}

// New builds the middleware. A nil primary keeps counters in memory.
func New(primary BucketStore, logger *slog.Logger, opts ...Option) *Middleware {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	m := &Middleware{
		primary: primary,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.primary == nil {
		m.primary = bucket.NewInMemoryBucketStore()
	}
	if m.fallback == nil {
		m.fallback = bucket.NewInMemoryBucketStore()
	}
	if m.breaker == nil {
		m.breaker = circuit.New("ratelimit")
	}
	if m.disabled {
		logger.Info("rate limiting disabled")
	}
	return m
}

// RateLimitIP limits requests per client IP on route. A zero limit lets
// everything through.
func (m *Middleware) RateLimitIP(route string, limit models.Limit) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m.disabled || limit.Disabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ip := requestcontext.ClientIP(ctx)
			if ip == "" {
				ip = m.clientIP(r)
			}

			result, degraded, err := m.check(ctx, models.NewIPRateLimitKey(route, ip), limit)
			if err != nil {
				m.logger.ErrorContext(ctx, "failed to check IP rate limit",
					"error", err,
					"route", route,
					"request_id", requestcontext.RequestID(ctx),
				)
				next.ServeHTTP(w, r)
				return
			}

			addRateLimitHeaders(w, result)
			if degraded {
				w.Header().Set("X-RateLimit-Status", "degraded")
			}

			if !result.Allowed {
				m.metrics.IncrementRateLimited(route)
				m.emitExceeded(ctx, r, route)
				writeRateLimitExceeded(w, result)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// check returns the decision and whether it came from the fallback store.
// Primary errors before the breaker opens fail open.
func (m *Middleware) clientIP(r *http.Request) string {
	if m.resolver != nil {
		return m.resolver.ClientIP(r)
	}
	return metadata.ClientIPFromRequest(r)
}

func (m *Middleware) check(ctx context.Context, key string, limit models.Limit) (*models.RateLimitResult, bool, error) {
	result, err := m.primary.Allow(ctx, key, limit.Requests, limit.Window)
	if err != nil {
		useFallback, change := m.breaker.RecordFailure()
		if change.Opened {
			m.logger.WarnContext(ctx, "rate limit store failing, using in-memory fallback", "error", err)
		}
		if !useFallback {
			return nil, false, err
		}
		fb, fbErr := m.fallback.Allow(ctx, key, limit.Requests, limit.Window)
		return fb, true, fbErr
	}

	usePrimary, change := m.breaker.RecordSuccess()
	if change.Closed {
		m.logger.InfoContext(ctx, "rate limit store recovered")
	}
	if !usePrimary {
		fb, fbErr := m.fallback.Allow(ctx, key, limit.Requests, limit.Window)
		return fb, true, fbErr
	}
	return result, false, nil
}

func (m *Middleware) emitExceeded(ctx context.Context, r *http.Request, route string) {
	if m.audit == nil {
		return
	}
	err := m.audit.Emit(ctx, audit.Event{
		Action:     string(audit.EventRateLimitExceeded),
		ElectionID: chi.URLParam(r, "id"),
		ActorID:    requestcontext.MemberID(ctx),
		RequestID:  requestcontext.RequestID(ctx),
		Reason:     route,
	})
	if err != nil {
		m.logger.WarnContext(ctx, "failed to emit rate limit audit event", "error", err)
	}
}

func addRateLimitHeaders(w http.ResponseWriter, result *models.RateLimitResult) {
	if result == nil {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

func writeRateLimitExceeded(w http.ResponseWriter, result *models.RateLimitResult) {
	w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
	httputil.WriteJSON(w, http.StatusTooManyRequests, &models.RateLimitExceededResponse{
		Error:            "rate_limit_exceeded",
		Reason:           "too_many_requests",
		ErrorDescription: "Too many requests from this IP address. Please try again later.",
		RetryAfter:       result.RetryAfter,
	})
}
