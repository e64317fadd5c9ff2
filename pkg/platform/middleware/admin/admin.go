package admin

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"ballotbox/pkg/platform/middleware/auth"
	"ballotbox/pkg/requestcontext"
)

// RequireAdminToken lets operator scripts authenticate with a static
// X-Admin-Token header. Requests without the header are handed to fallback
// (normally auth.RequireRole). An empty expectedToken disables the header.
func RequireAdminToken(expectedToken string, fallback func(http.Handler) http.Handler, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		guarded := fallback(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get("X-Admin-Token")
			if token == "" || expectedToken == "" {
				guarded.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			// Use constant-time comparison to prevent timing attacks
			if subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
				logger.WarnContext(ctx, "admin token mismatch",
					"request_id", requestcontext.RequestID(ctx),
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"admin token required"}`))
				return
			}

			ctx = requestcontext.WithMemberID(ctx, "operator")
			ctx = requestcontext.WithRole(ctx, auth.RoleAdmin)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
