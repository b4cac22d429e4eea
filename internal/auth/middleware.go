package auth

import (
	"net/http"
)

// RequireRole returns a middleware that ensures the request's token has the
// given role. A nil manager lets every request through.
func RequireRole(role string, mgr *Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if mgr != nil && mgr.Role(Token(r)) != role {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
