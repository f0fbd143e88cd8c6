package handlers

import (
	"net/http"
	"strings"

	"github.com/choocapi/ecommerce-backend/internal/platform/httpx"
	"github.com/choocapi/ecommerce-backend/internal/platform/requestctx"
)

const (
	userIDHeader   = "X-User-Id"
	userRoleHeader = "X-User-Role"
	adminRole      = "admin"
)

// IdentityMiddleware copies the authenticated user id forwarded by the edge
// proxy onto the request context. Requests without the header pass through
// anonymously; individual handlers decide whether identity is required.
func IdentityMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if userID := strings.TrimSpace(r.Header.Get(userIDHeader)); userID != "" {
				r = r.WithContext(requestctx.WithUserID(r.Context(), userID))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin gates a route group on the role header forwarded by the edge
// proxy. The proxy is trusted to have verified the caller's credentials.
func RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := strings.ToLower(strings.TrimSpace(r.Header.Get(userRoleHeader)))
			if role != adminRole {
				httpx.WriteError(r.Context(), w, httpx.NewError("forbidden", "admin role required", http.StatusForbidden))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func currentUserID(r *http.Request) string {
	return strings.TrimSpace(requestctx.UserID(r.Context()))
}

func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := currentUserID(r)
	if userID == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return "", false
	}
	return userID, true
}
