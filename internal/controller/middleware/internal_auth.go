package middleware

import (
	"net/http"
	"strings"

	"gatewayplane/internal/auth"
)

// RequireInternalAuth rejects requests that do not carry the internal
// secret as a bearer token.
func RequireInternalAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, "Missing authorization header", http.StatusUnauthorized)
				return
			}

			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || token == "" || strings.Contains(token, " ") {
				writeError(w, "Invalid authorization header", http.StatusUnauthorized)
				return
			}

			if !auth.TokenMatches(token, secret) {
				writeError(w, "Invalid authorization token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
