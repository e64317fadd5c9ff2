package auth

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"ballotbox/pkg/requestcontext"
)

// SessionCookie is the portal cookie that may carry the access token when no
// Authorization header is sent.
const SessionCookie = "session"

// Portal roles, lowest privilege first.
const (
	RoleMember = "member"
	RoleEditor = "editor"
	RoleAdmin  = "admin"
)

var roleRank = map[string]int{
	RoleMember: 1,
	RoleEditor: 2,
	RoleAdmin:  3,
}

// RoleAtLeast reports whether role grants at least the privileges of min.
func RoleAtLeast(role, min string) bool {
	have, ok := roleRank[strings.ToLower(role)]
	if !ok {
		return false
	}
	return have >= roleRank[strings.ToLower(min)]
}

// ValidRole reports whether role is one of the portal roles.
func ValidRole(role string) bool {
	_, ok := roleRank[strings.ToLower(role)]
	return ok
}

// TokenValidator validates a portal access token.
type TokenValidator interface {
	ValidateToken(tokenString string) (*Claims, error)
}

// Claims are the token facts the service relies on.
type Claims struct {
	Subject string
	Role    string
}

// TokenFromRequest returns the bearer token or the session cookie value.
func TokenFromRequest(r *http.Request) string {
	if after, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}

func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(fmt.Appendf(nil, `{"error":"%s","error_description":"%s"}`, errCode, errDesc))
}

// RequireRole rejects requests without a valid token whose role is at least
// minRole.
func RequireRole(validator TokenValidator, minRole string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := requestcontext.RequestID(ctx)

			token := TokenFromRequest(r)
			if token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestID,
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Missing or invalid Authorization header")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestID,
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}

			if !RoleAtLeast(claims.Role, minRole) {
				logger.WarnContext(ctx, "forbidden - insufficient role",
					"role", claims.Role,
					"required_role", minRole,
					"request_id", requestID,
				)
				writeJSONError(w, http.StatusForbidden, "forbidden", "Insufficient role")
				return
			}

			ctx = requestcontext.WithMemberID(ctx, claims.Subject)
			ctx = requestcontext.WithRole(ctx, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAuth attaches the caller identity when a token is present. Requests
// without a token pass through anonymously; a present but invalid token is
// rejected so callers never silently fall back to anonymous voting.
func OptionalAuth(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r)
			if token == "" || validator == nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid optional token",
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}

			ctx = requestcontext.WithMemberID(ctx, claims.Subject)
			ctx = requestcontext.WithRole(ctx, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
