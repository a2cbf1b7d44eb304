package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonwraymond/callgate/auth"
	"github.com/jonwraymond/callgate/gateway"
	"github.com/jonwraymond/callgate/llm"
	"github.com/jonwraymond/callgate/observe"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Host: "localhost", Port: 8080},
		Observe: observe.Config{
			ServiceName: "callgate",
			Logging:     observe.LoggingConfig{Enabled: true, Level: "info", Format: "json"},
		},
		Gateways: map[string]gateway.Config{"llm": gateway.DefaultConfig()},
		LLM:      llm.Config{APIKey: "sk-test", Gateway: "llm"},
		Cache:    CacheConfig{Backend: CacheMemory},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"no gateways", func(c *Config) { c.Gateways = nil }, "at least one gateway"},
		{"bad gateway", func(c *Config) {
			c.Gateways["llm"] = gateway.Config{RequestsPerInterval: -1}
		}, "gateways.llm"},
		{"llm gateway missing", func(c *Config) { c.LLM.Gateway = "nope" }, `llm.gateway "nope"`},
		{"llm disabled skips gateway check", func(c *Config) {
			c.LLM = llm.Config{Gateway: "nope"}
		}, ""},
		{"unknown backend", func(c *Config) { c.Cache.Backend = "memcached" }, "cache.backend"},
		{"redis without addr", func(c *Config) { c.Cache.Backend = CacheRedis }, "cache.redis.addr"},
		{"observe", func(c *Config) { c.Observe.ServiceName = "" }, "observe"},
		{"auth", func(c *Config) { c.Auth = auth.Config{Enabled: true} }, "auth"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestServerConfig_Addr(t *testing.T) {
	assert.Equal(t, "[::1]:443", ServerConfig{Host: "::1", Port: 443}.Addr())
	assert.Equal(t, ":8080", ServerConfig{Port: 8080}.Addr())
}
