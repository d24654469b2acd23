package core

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"pushengine/internal/types"
)

// apiKeyHeader carries the admin API key.
const apiKeyHeader = "X-API-Key"

// authPublicPaths bypass authentication.
var authPublicPaths = map[string]bool{
	"/health": true,
}

// APIKeyMiddleware admits requests carrying the configured admin key in
// X-API-Key or as an Authorization Bearer token. Keys are compared in
// constant time.
func (s *Server) APIKeyMiddleware(next http.Handler) http.Handler {
	expected := []byte(s.Config.Security.AdminAPIKey.Unmask())

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if authPublicPaths[r.URL.Path] || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get(apiKeyHeader)
		if key == "" {
			key = extractBearerToken(r.Header.Get("Authorization"))
		}
		if key == "" {
			Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "API key is required", nil))
			return
		}

		if subtle.ConstantTimeCompare([]byte(key), expected) != 1 {
			s.Logger.Warn("invalid admin API key",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr),
			)
			Error(w, r, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid API key", nil))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// extractBearerToken returns the token of a "Bearer <token>" header value.
func extractBearerToken(header string) string {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
