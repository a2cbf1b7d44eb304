// Package config loads callgate's configuration in layers: built-in
// defaults, then a YAML file, then CALLGATE_* environment variables, then
// command-line flags.
package config

import (
	"errors"
	"fmt"
	"maps"
	"net"
	"slices"
	"strconv"
	"time"

	"github.com/jonwraymond/callgate/auth"
	"github.com/jonwraymond/callgate/gateway"
	"github.com/jonwraymond/callgate/llm"
	"github.com/jonwraymond/callgate/observe"
)

// ErrInvalidConfig is wrapped by every validation error.
var ErrInvalidConfig = errors.New("config: invalid")

// Cache backends.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
	CacheNone   = "none"
)

// Config is the complete callgate configuration.
type Config struct {
	Server   ServerConfig              `mapstructure:"server"`
	Observe  observe.Config            `mapstructure:"observe"`
	Gateways map[string]gateway.Config `mapstructure:"gateways"`
	LLM      llm.Config                `mapstructure:"llm"`
	Cache    CacheConfig               `mapstructure:"cache"`
	Auth     auth.Config               `mapstructure:"auth"`
	Secrets  SecretsConfig             `mapstructure:"secrets"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// CacheConfig selects and tunes the response cache.
type CacheConfig struct {
	// Backend is memory, redis or none.
	Backend string        `mapstructure:"backend"`
	TTL     time.Duration `mapstructure:"ttl"`
	MaxTTL  time.Duration `mapstructure:"max_ttl"`
	Redis   RedisConfig   `mapstructure:"redis"`
}

// RedisConfig locates the Redis server of the redis backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LLMEnabled reports whether the chat completions proxy is configured.
func (c *Config) LLMEnabled() bool {
	return c.LLM.APIKey != ""
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...)))
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		bad("server.port out of range: %d", c.Server.Port)
	}
	if c.Server.ShutdownTimeout < 0 {
		bad("server.shutdown_timeout must not be negative")
	}

	if err := c.Observe.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("%w: observe: %w", ErrInvalidConfig, err))
	}

	if len(c.Gateways) == 0 {
		bad("at least one gateway is required")
	}
	for _, name := range slices.Sorted(maps.Keys(c.Gateways)) {
		if err := c.Gateways[name].Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%w: gateways.%s: %w", ErrInvalidConfig, name, err))
		}
	}
	if c.LLMEnabled() {
		if _, ok := c.Gateways[c.LLM.Gateway]; !ok {
			bad("llm.gateway %q is not a configured gateway", c.LLM.Gateway)
		}
	}

	switch c.Cache.Backend {
	case CacheMemory, CacheNone:
	case CacheRedis:
		if c.Cache.Redis.Addr == "" {
			bad("cache.redis.addr is required for the redis backend")
		}
	default:
		bad("unknown cache.backend %q", c.Cache.Backend)
	}
	if c.Cache.TTL < 0 || c.Cache.MaxTTL < 0 {
		bad("cache ttl values must not be negative")
	}

	if err := c.Auth.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("%w: auth: %w", ErrInvalidConfig, err))
	}
	return errors.Join(errs...)
}
