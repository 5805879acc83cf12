// Package middleware holds HTTP middleware for the stats server.
package middleware

import (
	"net/http"
	"os"
	"strings"
)

// OriginsEnv lists the origins allowed to call the stats API from a browser,
// comma separated. "*" allows any origin.
const OriginsEnv = "MODEL_MEM_ORIGINS"

// CorsMiddleware sets CORS headers for allowed origins and answers their
// OPTIONS preflight requests. With no allowed origins it returns next
// unchanged. Preflights from other origins reach next, which will usually
// answer 405 or 404.
func CorsMiddleware(allowedOrigins []string, next http.Handler) http.Handler {
	if len(allowedOrigins) == 0 {
		return next
	}

	allowAll := false
	allowedSet := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowedSet[o] = struct{}{}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowed := origin != "" && (allowAll || originAllowed(origin, allowedSet))
		if allowed {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions && allowed {
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			w.Header().Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func originAllowed(origin string, allowedSet map[string]struct{}) bool {
	_, ok := allowedSet[origin]
	return ok
}

// OriginsFromEnv reads the allowed origins from MODEL_MEM_ORIGINS. It returns
// nil when the variable is unset or empty, which disables CORS.
func OriginsFromEnv() []string {
	return ParseOrigins(os.Getenv(OriginsEnv))
}

// ParseOrigins splits a comma-separated origin list, dropping empty entries.
func ParseOrigins(s string) (origins []string) {
	for _, o := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(o); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
