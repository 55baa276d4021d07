/**
 * @description
 * This file contains custom middleware for the HTTP router. The sweep-service
 * exposes an internal operations API consumed by the admin backend and the
 * cron runner, so requests authenticate with a shared internal API key rather
 * than end-user tokens.
 *
 * @dependencies
 * - crypto/subtle, net/http: Standard Go libraries.
 */

package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

const internalAPIKeyHeader = "X-Internal-Api-Key"

// InternalAPIKeyMiddleware rejects requests that do not carry the configured
// internal API key. An empty configured key disables the check, which is only
// acceptable for local development.
func InternalAPIKeyMiddleware(apiKey string) func(http.Handler) http.Handler {
	expected := []byte(strings.TrimSpace(apiKey))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(expected) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			provided := strings.TrimSpace(r.Header.Get(internalAPIKeyHeader))
			if provided == "" {
				// Accept "Authorization: Bearer <key>" as an alias.
				auth := r.Header.Get("Authorization")
				provided = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
			}

			if subtle.ConstantTimeCompare([]byte(provided), expected) != 1 {
				http.Error(w, "invalid or missing internal API key", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
