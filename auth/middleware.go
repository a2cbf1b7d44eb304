package auth

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Middleware authenticates each request with a and attaches the Identity to
// its context. It answers 401 when credentials are missing or invalid. A nil
// a attaches AnonymousIdentity.
func Middleware(a Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if a == nil {
				next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), AnonymousIdentity())))
				return
			}

			req := &AuthRequest{Headers: r.Header}
			if !a.Supports(r.Context(), req) {
				unauthorized(w, ErrMissingCredentials)
				return
			}
			result, err := a.Authenticate(r.Context(), req)
			if err != nil {
				writeError(w, http.StatusInternalServerError, errors.New("auth: authentication unavailable"))
				return
			}
			if !result.Authenticated {
				unauthorized(w, result.Error)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), result.Identity)))
		})
	}
}

// RequireRole answers 403 unless the request identity holds role.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !IdentityFromContext(r.Context()).HasRole(role) {
				writeError(w, http.StatusForbidden, ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Authorize answers 403 unless authz grants permission to the request
// identity.
func Authorize(authz Authorizer, permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := authz.Authorize(r.Context(), IdentityFromContext(r.Context()), permission); err != nil {
				writeError(w, http.StatusForbidden, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, err error) {
	if err == nil {
		err = ErrInvalidCredentials
	}
	w.Header().Set("WWW-Authenticate", `Bearer realm="callgate"`)
	writeError(w, http.StatusUnauthorized, err)
}

func writeError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
