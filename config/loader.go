package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jonwraymond/callgate/gateway"
)

// EnvPrefix prefixes environment overrides: CALLGATE_SERVER_PORT sets
// server.port and CALLGATE_GATEWAYS_LLM_MAX_RETRIES sets
// gateways.llm.max_retries.
const EnvPrefix = "CALLGATE"

// DefaultFileName is searched for in ./config and the working directory
// when no file is given.
const DefaultFileName = "callgate"

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"host":       "server.host",
	"port":       "server.port",
	"log-level":  "observe.logging.level",
	"log-format": "observe.logging.format",
	"cache":      "cache.backend",
}

// Options controls Load.
type Options struct {
	// File is an explicit config file. It must exist.
	File string

	// Flags override file and environment values for the flags the user
	// set. Recognized names: host, port, log-level, log-format, cache.
	Flags *pflag.FlagSet

	// Overrides are dotted keys applied over every other layer.
	Overrides map[string]any
}

// Load builds the configuration from defaults, the config file, the
// environment and flags, resolves secret references and validates the
// result.
//
// Gateway and role names are case-insensitive and returned lowercased.
func Load(ctx context.Context, opts Options) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if opts.File != "" {
		v.SetConfigFile(opts.File)
	} else {
		v.SetConfigName(DefaultFileName)
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.File != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read %s: %w", opts.File, err)
		}
	}

	if opts.Flags != nil {
		for name, key := range flagKeys {
			if f := opts.Flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("config: bind flag %s: %w", name, err)
				}
			}
		}
	}
	for key, value := range opts.Overrides {
		v.Set(key, value)
	}

	applyGatewayDefaults(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	resolver, err := NewSecretResolver(cfg.Secrets)
	if err != nil {
		return nil, err
	}
	defer resolver.Close() // nolint:errcheck // built-in providers hold nothing

	if err := cfg.ResolveSecrets(ctx, resolver); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 120*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("observe.service_name", "callgate")
	v.SetDefault("observe.tracing.enabled", false)
	v.SetDefault("observe.tracing.exporter", "none")
	v.SetDefault("observe.tracing.sample_pct", 0.1)
	v.SetDefault("observe.metrics.enabled", true)
	v.SetDefault("observe.metrics.exporter", "prometheus")
	v.SetDefault("observe.logging.enabled", true)
	v.SetDefault("observe.logging.level", "info")
	v.SetDefault("observe.logging.format", "json")

	for key, value := range gatewayDefaults() {
		v.SetDefault("gateways.llm."+key, value)
	}

	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.gateway", "llm")
	v.SetDefault("llm.timeout", time.Duration(0))

	v.SetDefault("cache.backend", CacheMemory)
	v.SetDefault("cache.ttl", 5*time.Minute)
	v.SetDefault("cache.max_ttl", time.Hour)
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt.secret", "")
	v.SetDefault("auth.jwt.issuer", "")
	v.SetDefault("auth.jwt.audience", "")

	v.SetDefault("secrets.strict", true)
	v.SetDefault("secrets.env_prefix", "")
	v.SetDefault("secrets.dir", ".")
}

// gatewayDefaults flattens gateway.DefaultConfig into config keys.
func gatewayDefaults() map[string]any {
	d := gateway.DefaultConfig()
	return map[string]any{
		"requests_per_interval": d.RequestsPerInterval,
		"interval":              d.Interval,
		"burst":                 d.Burst,
		"max_concurrent":        d.MaxConcurrent,
		"acquire_timeout":       d.AcquireTimeout,
		"failure_threshold":     d.FailureThreshold,
		"recovery_timeout":      d.RecoveryTimeout,
		"max_retries":           d.MaxRetries,
		"base_backoff":          d.BaseBackoff,
		"max_backoff":           d.MaxBackoff,
		"jitter":                d.Jitter,
		"attempt_timeout":       d.AttemptTimeout,
	}
}

// applyGatewayDefaults fills the fields a configured gateway leaves out, so
// a file may set only what differs from the defaults. It also makes each
// field reachable from the environment.
func applyGatewayDefaults(v *viper.Viper) {
	gateways, _ := v.AllSettings()["gateways"].(map[string]any)
	for name := range gateways {
		for key, value := range gatewayDefaults() {
			v.SetDefault("gateways."+name+"."+key, value)
		}
	}
}
