package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ballotbox/internal/platform/metrics"
	"ballotbox/internal/platform/middleware"
	"ballotbox/pkg/platform/middleware/metadata"
	"ballotbox/pkg/requestcontext"
	"ballotbox/pkg/testutil"
)

type echoHandler struct{}

func (echoHandler) Register(r chi.Router) {
	r.Get("/echo", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		_ = json.NewEncoder(w).Encode(map[string]string{
			"request_id": requestcontext.RequestID(ctx),
			"client_ip":  requestcontext.ClientIP(ctx),
		})
	})
	r.Post("/echo", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	r.Get("/panic", func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})
}

func TestNewRouter(t *testing.T) {
	reg := metrics.NewRegistry()
	router := NewRouter(Deps{
		Metrics:  metrics.New(reg),
		Registry: reg,
		Handlers: []Registrar{echoHandler{}},
	})

	echo := func(t *testing.T, h http.Handler, peer, forwarded string) (*httptest.ResponseRecorder, map[string]string) {
		t.Helper()
		req := httptest.NewRequest(http.MethodGet, "/echo", nil)
		req.Header.Set(middleware.RequestIDHeader, "req-1")
		req.Header.Set("X-Forwarded-For", forwarded)
		rec := testutil.DoRequest(h, testutil.FromIP(req, peer))
		require.Equal(t, http.StatusOK, rec.Code)
		var body map[string]string
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		return rec, body
	}

	t.Run("request metadata reaches handlers", func(t *testing.T) {
		rec, body := echo(t, router, "127.0.0.1", "198.51.100.4")
		assert.Equal(t, "req-1", body["request_id"])
		assert.Equal(t, "198.51.100.4", body["client_ip"])
		assert.Equal(t, "req-1", rec.Header().Get(middleware.RequestIDHeader))
	})

	t.Run("forwarding from an untrusted peer is ignored", func(t *testing.T) {
		_, body := echo(t, router, "203.0.113.50", "198.51.100.4")
		assert.Equal(t, "203.0.113.50", body["client_ip"])
	})

	t.Run("configured proxies are trusted", func(t *testing.T) {
		res, err := metadata.NewResolver([]string{"10.0.0.0/8"})
		require.NoError(t, err)
		behindProxy := NewRouter(Deps{ClientIP: res, Handlers: []Registrar{echoHandler{}}})

		_, body := echo(t, behindProxy, "10.0.0.2", "9.9.9.9, 198.51.100.4, 10.0.0.1")
		assert.Equal(t, "198.51.100.4", body["client_ip"])
	})

	t.Run("non-JSON bodies are rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader("a=b"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	})

	t.Run("panics become 500", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("metrics endpoint", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "ballotbox_http_request_duration_seconds")
	})
}

func TestHealth(t *testing.T) {
	t.Run("ok without checks", func(t *testing.T) {
		rec := httptest.NewRecorder()
		NewRouter(Deps{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	})

	t.Run("failing dependency degrades", func(t *testing.T) {
		router := NewRouter(Deps{HealthChecks: map[string]HealthCheck{
			"database": func(context.Context) error { return nil },
			"redis":    func(context.Context) error { return errors.New("connection refused") },
		}})
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		var body healthResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "degraded", body.Status)
		assert.Equal(t, "ok", body.Checks["database"])
		assert.Equal(t, "connection refused", body.Checks["redis"])
	})
}
