package interceptors

import (
	"encoding/json"
	"net/http"
	"strings"

	"collab-sync/backend/internal/platform/apperr"
	"collab-sync/backend/internal/security"
)

const bearerPrefix = "bearer "

// Verifier verifies an access token and returns the caller it names.
type Verifier interface {
	Verify(token string) (security.Identity, error)
}

// Auth returns HTTP middleware that validates the Bearer (access) token from the Authorization header
// and stores the caller in the request context. publicPaths (exact URL paths) skip the check.
func Auth(v Verifier, publicPaths map[string]bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			token := ExtractBearer(r)
			if token == "" {
				writeUnauthorized(w)
				return
			}
			id, err := v.Verify(token)
			if err != nil {
				writeUnauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// ExtractBearer returns the Bearer token from the Authorization header, or "" if missing or malformed.
func ExtractBearer(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"code":    string(apperr.KindAuthenticationRequired),
			"message": "missing or invalid authorization",
		},
	})
}
