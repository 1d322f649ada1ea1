// Package middleware provides HTTP middleware for the chat API.
package middleware

import "net/http"

const (
	allowedMethods = "GET, POST, PUT, DELETE, OPTIONS"
	// allowedHeaders includes the per-tab session header sent by the frontend.
	allowedHeaders = "Content-Type, X-Twinning-Session-ID, X-Request-Id"
)

// CORS returns middleware that handles CORS headers for allowedOrigins.
// "*" matches any origin but never grants credentials.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	explicit := make(map[string]bool, len(allowedOrigins))
	wildcard := false
	for _, o := range allowedOrigins {
		if o == "*" {
			wildcard = true
			continue
		}
		explicit[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin != "" && (explicit[origin] || wildcard) {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", allowedMethods)
				h.Set("Access-Control-Allow-Headers", allowedHeaders)
				h.Add("Vary", "Origin")
				// Echoing an arbitrary origin with credentials would enable CSRF.
				if explicit[origin] {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
