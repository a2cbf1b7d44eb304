package auth

import (
	"errors"
	"fmt"
)

// Config is the auth section of callgate's configuration. Secret values are
// resolved before Build is called.
type Config struct {
	// Enabled turns authentication on for the /v1 API.
	// Default: false
	Enabled bool `mapstructure:"enabled" json:"enabled"`

	// APIKeys are accepted X-API-Key credentials.
	APIKeys []APIKeyEntry `mapstructure:"api_keys" json:"api_keys,omitempty"`

	// JWT enables HS256 bearer tokens when Secret is set.
	JWT JWTSettings `mapstructure:"jwt" json:"jwt"`

	// Roles maps role names to permissions.
	// Default: DefaultRoles()
	Roles map[string]RoleConfig `mapstructure:"roles" json:"roles,omitempty"`
}

// APIKeyEntry is one configured API key. Either Key or KeyHash is set.
type APIKeyEntry struct {
	ID        string   `mapstructure:"id" json:"id"`
	Key       string   `mapstructure:"key" json:"-"`
	KeyHash   string   `mapstructure:"key_hash" json:"-"`
	Principal string   `mapstructure:"principal" json:"principal"`
	Tenant    string   `mapstructure:"tenant" json:"tenant,omitempty"`
	Roles     []string `mapstructure:"roles" json:"roles"`
}

// JWTSettings configures bearer token validation.
type JWTSettings struct {
	Secret   string `mapstructure:"secret" json:"-"`
	Issuer   string `mapstructure:"issuer" json:"issuer,omitempty"`
	Audience string `mapstructure:"audience" json:"audience,omitempty"`
}

// Validate checks that an enabled config can authenticate someone.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	var errs []error
	if len(c.APIKeys) == 0 && c.JWT.Secret == "" {
		errs = append(errs, fmt.Errorf("%w: enabled without api_keys or jwt.secret", ErrInvalidConfig))
	}
	for i, k := range c.APIKeys {
		if k.Key == "" && k.KeyHash == "" {
			errs = append(errs, fmt.Errorf("%w: api_keys[%d] needs key or key_hash", ErrInvalidConfig, i))
		}
		if k.Principal == "" {
			errs = append(errs, fmt.Errorf("%w: api_keys[%d] needs a principal", ErrInvalidConfig, i))
		}
	}
	return errors.Join(errs...)
}

// Build returns the authenticator described by c, or nil when
// authentication is disabled.
func Build(c Config) (Authenticator, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if !c.Enabled {
		return nil, nil
	}

	var auths []Authenticator
	if len(c.APIKeys) > 0 {
		store := NewMemoryAPIKeyStore()
		for _, k := range c.APIKeys {
			hash := k.KeyHash
			if hash == "" {
				hash = HashAPIKey(k.Key)
			}
			store.Add(&APIKeyInfo{
				ID:        k.ID,
				KeyHash:   hash,
				Principal: k.Principal,
				TenantID:  k.Tenant,
				Roles:     k.Roles,
			})
		}
		auths = append(auths, NewAPIKeyAuthenticator(APIKeyConfig{}, store))
	}
	if c.JWT.Secret != "" {
		auths = append(auths, NewJWTAuthenticator(JWTConfig{
			Issuer:   c.JWT.Issuer,
			Audience: c.JWT.Audience,
		}, NewStaticKeyProvider([]byte(c.JWT.Secret))))
	}
	return NewCompositeAuthenticator(auths...), nil
}
