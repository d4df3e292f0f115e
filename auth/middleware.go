package auth

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Middleware authenticates each request with authn and stores the
// resulting identity in the request context.
//
// Requests without credentials continue as Anonymous when allowAnonymous
// is set and get 401 otherwise. Rejected credentials always get 401; they
// never fall back to anonymous. Internal failures get 500.
func Middleware(authn Authenticator, allowAnonymous bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := authn.Authenticate(r.Context(), r.Header)
			switch {
			case errors.Is(err, ErrNoCredentials):
				if !allowAnonymous {
					writeError(w, http.StatusUnauthorized, err)
					return
				}
				id = Anonymous()
			case rejected(err):
				writeError(w, http.StatusUnauthorized, err)
				return
			case err != nil:
				writeError(w, http.StatusInternalServerError, errors.New("auth: authentication unavailable"))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// RequireRole answers 403 unless the identity in the request context
// carries role.
func RequireRole(role string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !IdentityFromContext(r.Context()).HasRole(role) {
			writeError(w, http.StatusForbidden, ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, err error) {
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="readcache"`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
