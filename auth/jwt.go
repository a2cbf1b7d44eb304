package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTConfig configures a JWTAuthenticator.
type JWTConfig struct {
	// Issuer, when set, must match the iss claim.
	Issuer string

	// Audience, when set, must appear in the aud claim.
	Audience string

	// PrincipalClaim names the principal claim.
	// Default: "sub"
	PrincipalClaim string

	// TenantClaim names the tenant claim.
	// Default: ""
	TenantClaim string

	// RolesClaim names the roles claim, a string array.
	// Default: "roles"
	RolesClaim string

	// Leeway tolerates clock skew on exp and nbf.
	// Default: 0
	Leeway time.Duration
}

// KeyProvider returns the verification key for a key ID.
type KeyProvider interface {
	GetKey(ctx context.Context, keyID string) (any, error)
}

// StaticKeyProvider returns one shared HMAC secret for every key ID.
type StaticKeyProvider struct {
	key []byte
}

// NewStaticKeyProvider creates a StaticKeyProvider.
func NewStaticKeyProvider(key []byte) *StaticKeyProvider {
	return &StaticKeyProvider{key: key}
}

func (p *StaticKeyProvider) GetKey(context.Context, string) (any, error) {
	return p.key, nil
}

// JWTAuthenticator validates HS256 bearer tokens.
type JWTAuthenticator struct {
	config JWTConfig
	keys   KeyProvider
	parser *jwt.Parser
}

// NewJWTAuthenticator creates a JWTAuthenticator.
func NewJWTAuthenticator(config JWTConfig, keys KeyProvider) *JWTAuthenticator {
	if config.PrincipalClaim == "" {
		config.PrincipalClaim = "sub"
	}
	if config.RolesClaim == "" {
		config.RolesClaim = "roles"
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(config.Leeway),
	}
	if config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(config.Issuer))
	}
	if config.Audience != "" {
		opts = append(opts, jwt.WithAudience(config.Audience))
	}

	return &JWTAuthenticator{config: config, keys: keys, parser: jwt.NewParser(opts...)}
}

func (a *JWTAuthenticator) Name() string { return "jwt" }

func (a *JWTAuthenticator) Supports(_ context.Context, req *AuthRequest) bool {
	_, ok := bearer(req)
	return ok
}

func (a *JWTAuthenticator) Authenticate(ctx context.Context, req *AuthRequest) (*AuthResult, error) {
	raw, ok := bearer(req)
	if !ok {
		return AuthFailure(ErrMissingCredentials, a.Name()), nil
	}

	claims := jwt.MapClaims{}
	_, err := a.parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		return a.keys.GetKey(ctx, kid)
	})
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return AuthFailure(ErrTokenExpired, a.Name()), nil
	case errors.Is(err, jwt.ErrTokenMalformed):
		return AuthFailure(ErrTokenMalformed, a.Name()), nil
	default:
		return AuthFailure(ErrInvalidCredentials, a.Name()), nil
	}

	return AuthSuccess(a.identity(claims)), nil
}

func (a *JWTAuthenticator) identity(claims jwt.MapClaims) *Identity {
	id := &Identity{Method: AuthMethodJWT, Claims: map[string]any(claims)}

	id.Principal, _ = claims[a.config.PrincipalClaim].(string)
	if a.config.TenantClaim != "" {
		id.TenantID, _ = claims[a.config.TenantClaim].(string)
	}
	if roles, ok := claims[a.config.RolesClaim].([]any); ok {
		for _, r := range roles {
			if s, ok := r.(string); ok {
				id.Roles = append(id.Roles, s)
			}
		}
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		id.ExpiresAt = exp.Time
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		id.IssuedAt = iat.Time
	}
	return id
}

func bearer(req *AuthRequest) (string, bool) {
	token, ok := strings.CutPrefix(req.GetHeader("Authorization"), "Bearer ")
	token = strings.TrimSpace(token)
	return token, ok && token != ""
}

var (
	_ Authenticator = (*JWTAuthenticator)(nil)
	_ KeyProvider   = (*StaticKeyProvider)(nil)
)
