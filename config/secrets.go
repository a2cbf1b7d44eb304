package config

import (
	"context"
	"fmt"

	"github.com/jonwraymond/callgate/secret"
)

// SecretsConfig configures the resolution of ${VAR} and
// secretref:<provider>:<ref> values.
type SecretsConfig struct {
	// Strict fails on references that resolve to empty values.
	// Default: true
	Strict bool `mapstructure:"strict"`

	// EnvPrefix is prepended to secretref:env references.
	EnvPrefix string `mapstructure:"env_prefix"`

	// Dir roots secretref:file references.
	// Default: "."
	Dir string `mapstructure:"dir"`
}

// NewSecretResolver builds a resolver with the env and file providers.
func NewSecretResolver(c SecretsConfig) (*secret.Resolver, error) {
	reg := secret.NewDefaultRegistry()
	env, err := reg.Create("env", map[string]any{"prefix": c.EnvPrefix})
	if err != nil {
		return nil, fmt.Errorf("config: secrets: %w", err)
	}
	file, err := reg.Create("file", map[string]any{"dir": c.Dir})
	if err != nil {
		return nil, fmt.Errorf("config: secrets: %w", err)
	}
	return secret.NewResolver(c.Strict, env, file), nil
}

// ResolveSecrets replaces secret references in the fields that may carry
// credentials.
func (c *Config) ResolveSecrets(ctx context.Context, r *secret.Resolver) error {
	type field struct {
		key string
		val *string
	}
	fields := []field{
		{"llm.api_key", &c.LLM.APIKey},
		{"llm.base_url", &c.LLM.BaseURL},
		{"cache.redis.addr", &c.Cache.Redis.Addr},
		{"cache.redis.password", &c.Cache.Redis.Password},
		{"auth.jwt.secret", &c.Auth.JWT.Secret},
	}
	for i := range c.Auth.APIKeys {
		fields = append(fields,
			field{fmt.Sprintf("auth.api_keys[%d].key", i), &c.Auth.APIKeys[i].Key},
			field{fmt.Sprintf("auth.api_keys[%d].key_hash", i), &c.Auth.APIKeys[i].KeyHash},
		)
	}

	for _, f := range fields {
		if *f.val == "" {
			continue
		}
		resolved, err := r.ResolveValue(ctx, *f.val)
		if err != nil {
			return fmt.Errorf("config: resolve %s: %w", f.key, err)
		}
		*f.val = resolved
	}
	return nil
}
