package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Auth returns middleware that validates API requests using either a Bearer
// token in the Authorization header or a static key in the X-API-Key header.
// If apiKey is empty, the middleware passes all requests through (disabled).
// extraKeys are also accepted, so requests carrying the resolver key clear
// the general gate and are then checked by RequireKey on their route.
func Auth(apiKey string, extraKeys ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			if tokenMatches(r, apiKey) {
				next.ServeHTTP(w, r)
				return
			}
			for _, k := range extraKeys {
				if k != "" && tokenMatches(r, k) {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeUnauthorized(w, "invalid authentication token")
		})
	}
}

// RequireKey wraps a single handler with a mandatory key check. Unlike Auth,
// an empty key does not disable the check; it disables the route. Used for
// the resolver endpoint, which must never be open.
func RequireKey(key string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if key == "" {
			writeForbidden(w, "route disabled: no resolver key configured")
			return
		}
		if !tokenMatches(r, key) {
			writeUnauthorized(w, "invalid resolver token")
			return
		}
		next(w, r)
	}
}

// tokenMatches extracts the request token and compares it to want in
// constant time.
func tokenMatches(r *http.Request, want string) bool {
	token := extractToken(r)
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(want)) == 1
}

// extractToken looks for a token in the Authorization header (Bearer scheme)
// or in the X-API-Key header.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return strings.TrimSpace(key)
	}
	return ""
}

// writeUnauthorized sends a 401 response with a JSON error body.
func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}

// writeForbidden sends a 403 response with a JSON error body.
func writeForbidden(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusForbidden)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
