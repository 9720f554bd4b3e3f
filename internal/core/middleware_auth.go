package core

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"billingsync/internal/types"
)

// AdminAuth guards the operator endpoints with the static ADMIN_API_TOKEN.
// With no token configured the admin surface does not exist and every
// request gets 404.
func (s *Server) AdminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		expected := ""
		if s.Config != nil {
			expected = s.Config.Security.AdminAPIToken.Unmask()
		}
		if expected == "" {
			Error(w, r, types.NewAppError(types.ErrCodeNotFoundRoute, "route not found", nil))
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "Authorization header is required", nil))
			return
		}
		token := extractBearerToken(authHeader)
		if token == "" {
			Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "Bearer token is required", nil))
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
			s.Logger.WarnContext(r.Context(), "admin token rejected",
				"remote_addr", r.RemoteAddr,
				"path", r.URL.Path,
			)
			Error(w, r, types.NewAppError(types.ErrCodeAuthTokenInvalid, "Invalid authentication token", nil))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// extractBearerToken returns the token from "Bearer <token>". The scheme is
// matched case-insensitively per RFC 7235.
func extractBearerToken(authHeader string) string {
	const prefix = "Bearer "
	if len(authHeader) < len(prefix) || !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(prefix):])
}
