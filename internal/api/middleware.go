/**
 * @description
 * This file contains custom middleware for the HTTP router. The purchase API
 * is a service-to-service surface: callers authenticate with a shared
 * internal API key rather than end-user credentials. Biller callback
 * endpoints are excluded from this middleware because they authenticate
 * through biller-specific signatures inside the adapters.
 *
 * @dependencies
 * - crypto/subtle, net/http, strings: Standard Go libraries.
 */

package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// InternalAuthMiddleware creates a middleware that validates the shared
// internal API key. Requests may present the key either in the
// x-internal-api-key header or as a bearer token.
func InternalAuthMiddleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				http.Error(w, "Internal API key is not configured", http.StatusServiceUnavailable)
				return
			}

			presented := strings.TrimSpace(r.Header.Get("x-internal-api-key"))
			if presented == "" {
				authHeader := r.Header.Get("Authorization")
				if token := strings.TrimPrefix(authHeader, "Bearer "); token != authHeader {
					presented = strings.TrimSpace(token)
				}
			}
			if presented == "" {
				http.Error(w, "Internal API key required", http.StatusUnauthorized)
				return
			}

			if subtle.ConstantTimeCompare([]byte(presented), []byte(apiKey)) != 1 {
				http.Error(w, "Invalid internal API key", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
