package auth

import (
	"context"
	"net/http"
)

// Authenticator validates the credentials of a request.
//
// Authenticate returns a failed AuthResult for bad credentials and a non-nil
// error only when validation itself could not run.
type Authenticator interface {
	Name() string
	Supports(ctx context.Context, req *AuthRequest) bool
	Authenticate(ctx context.Context, req *AuthRequest) (*AuthResult, error)
}

// AuthRequest carries the parts of a request authenticators inspect.
type AuthRequest struct {
	Headers http.Header
}

// GetHeader returns the first value of the canonicalized header key.
func (r *AuthRequest) GetHeader(key string) string {
	return r.Headers.Get(key)
}

// AuthResult is the outcome of Authenticate.
type AuthResult struct {
	Authenticated bool
	Identity      *Identity
	Error         error
	Method        string
}

// AuthSuccess returns a successful result for identity.
func AuthSuccess(identity *Identity) *AuthResult {
	return &AuthResult{Authenticated: true, Identity: identity, Method: string(identity.Method)}
}

// AuthFailure returns a failed result carrying err.
func AuthFailure(err error, method string) *AuthResult {
	return &AuthResult{Error: err, Method: method}
}

// AuthenticatorFunc adapts functions to an Authenticator.
type AuthenticatorFunc struct {
	name     string
	supports func(context.Context, *AuthRequest) bool
	auth     func(context.Context, *AuthRequest) (*AuthResult, error)
}

// NewAuthenticatorFunc creates an AuthenticatorFunc.
func NewAuthenticatorFunc(
	name string,
	supports func(context.Context, *AuthRequest) bool,
	auth func(context.Context, *AuthRequest) (*AuthResult, error),
) *AuthenticatorFunc {
	return &AuthenticatorFunc{name: name, supports: supports, auth: auth}
}

func (f *AuthenticatorFunc) Name() string { return f.name }

func (f *AuthenticatorFunc) Supports(ctx context.Context, req *AuthRequest) bool {
	return f.supports(ctx, req)
}

func (f *AuthenticatorFunc) Authenticate(ctx context.Context, req *AuthRequest) (*AuthResult, error) {
	return f.auth(ctx, req)
}
