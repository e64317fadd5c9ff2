package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"ballotbox/internal/platform/metrics"
	"ballotbox/internal/platform/middleware"
	"ballotbox/pkg/platform/httputil"
	"ballotbox/pkg/platform/middleware/metadata"
	"ballotbox/pkg/platform/middleware/requesttime"
)

const healthTimeout = 2 * time.Second

// Registrar is a feature handler that mounts its own routes.
type Registrar interface {
	Register(r chi.Router)
}

// HealthCheck reports whether one backing dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Deps are the collaborators the router needs. Nil metrics or registry
// leave /metrics unmounted. A nil ClientIP trusts forwarding headers only
// from loopback peers.
type Deps struct {
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
	Registry       *prometheus.Registry
	ClientIP       *metadata.Resolver
	RequestTimeout time.Duration
	HealthChecks   map[string]HealthCheck
	Handlers       []Registrar
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// NewRouter builds the chi router with the shared middleware chain, the
// health and metrics endpoints and every feature handler.
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(requesttime.Middleware)
	if deps.ClientIP != nil {
		r.Use(deps.ClientIP.Middleware)
	} else {
		r.Use(metadata.ClientMetadata)
	}
	r.Use(middleware.Logger(logger))
	r.Use(middleware.LatencyMiddleware(deps.Metrics))
	if deps.RequestTimeout > 0 {
		r.Use(middleware.Timeout(deps.RequestTimeout))
	}
	r.Use(middleware.ContentTypeJSON)

	r.Get("/health", healthHandler(deps.HealthChecks))
	if deps.Registry != nil {
		r.Handle("/metrics", metrics.Handler(deps.Registry))
	}
	for _, h := range deps.Handlers {
		h.Register(r)
	}
	return r
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		resp := healthResponse{Status: "ok"}
		status := http.StatusOK
		if len(names) > 0 {
			resp.Checks = make(map[string]string, len(names))
		}
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		httputil.WriteJSON(w, status, resp)
	}
}
