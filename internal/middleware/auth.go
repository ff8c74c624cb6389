package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

type apiKeyKey struct{}

// APIKey rejects requests without one of keys, read from X-API-Key or an
// Authorization bearer token. No keys means open access.
func APIKey(keys []string) func(http.Handler) http.Handler {
	var allowed [][]byte
	for _, k := range keys {
		if k != "" {
			allowed = append(allowed, []byte(k))
		}
	}
	return func(next http.Handler) http.Handler {
		if len(allowed) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := extractAPIKey(r)
			if key == "" {
				writeError(w, http.StatusUnauthorized, "missing API key")
				return
			}
			for _, k := range allowed {
				if subtle.ConstantTimeCompare(k, []byte(key)) == 1 {
					next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), apiKeyKey{}, key)))
					return
				}
			}
			writeError(w, http.StatusUnauthorized, "invalid API key")
		})
	}
}

func extractAPIKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}
