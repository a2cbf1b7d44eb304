package auth

import (
	"slices"
	"time"
)

// AuthMethod records how an identity was established.
type AuthMethod string

const (
	AuthMethodAPIKey    AuthMethod = "api_key"
	AuthMethodJWT       AuthMethod = "jwt"
	AuthMethodAnonymous AuthMethod = "anonymous"
)

// Identity is an authenticated caller.
type Identity struct {
	Principal string
	TenantID  string
	Roles     []string
	Method    AuthMethod
	Claims    map[string]any
	ExpiresAt time.Time
	IssuedAt  time.Time
}

// HasRole reports whether the identity holds role.
func (id *Identity) HasRole(role string) bool {
	return id != nil && slices.Contains(id.Roles, role)
}

// IsExpired reports whether ExpiresAt has passed. A zero ExpiresAt never
// expires.
func (id *Identity) IsExpired() bool {
	return !id.ExpiresAt.IsZero() && time.Now().After(id.ExpiresAt)
}

// IsAnonymous reports whether the identity carries no principal.
func (id *Identity) IsAnonymous() bool {
	return id == nil || id.Method == AuthMethodAnonymous || id.Principal == ""
}

// AnonymousIdentity returns the identity used when auth is disabled.
func AnonymousIdentity() *Identity {
	return &Identity{Principal: "anonymous", Method: AuthMethodAnonymous}
}
