package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/jonwraymond/callgate/auth"
	"github.com/jonwraymond/callgate/cache"
	"github.com/jonwraymond/callgate/config"
	"github.com/jonwraymond/callgate/gateway"
	"github.com/jonwraymond/callgate/health"
	"github.com/jonwraymond/callgate/llm"
	"github.com/jonwraymond/callgate/observe"
	"github.com/jonwraymond/callgate/server"
)

// prunePeriod is how often the memory cache drops expired entries.
const prunePeriod = time.Minute

func newServeCommand(cfgFile *string, info BuildInfo) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway HTTP server",
		Long: `Start the gateway HTTP server.

SIGINT or SIGTERM stops accepting connections and waits up to
server.shutdown_timeout for in-flight calls.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Context(), config.Options{File: *cfgFile, Flags: cmd.Flags()})
			if err != nil {
				return err
			}
			cfg.Observe.Version = info.Version

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}

	f := cmd.Flags()
	f.String("host", "localhost", "listen host")
	f.Int("port", 8080, "listen port")
	f.String("log-level", "info", "log level: debug, info, warn, error")
	f.String("log-format", "json", "log format: json, zap")
	f.String("cache", config.CacheMemory, "response cache backend: memory, redis, none")
	return cmd
}

// runServe wires every component from cfg and serves until ctx ends.
func runServe(ctx context.Context, cfg *config.Config) error {
	obs, err := observe.NewObserver(ctx, cfg.Observe)
	if err != nil {
		return fmt.Errorf("observe: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()
	logger := obs.Logger()

	reg, err := gateway.NewRegistryFromConfig(cfg.Gateways, gateway.WithObserver(obs))
	if err != nil {
		return err
	}

	agg := health.NewAggregator(health.AggregatorConfig{Timeout: 5 * time.Second})
	agg.Register("runtime", health.NewRuntimeChecker(health.RuntimeCheckerConfig{}))
	reg.RegisterHealth(agg)

	respCache, closeCache, err := buildCache(ctx, cfg.Cache, agg, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	var client *llm.Client
	if cfg.LLMEnabled() {
		gw, err := reg.Get(cfg.LLM.Gateway)
		if err != nil {
			return err
		}
		var opts []llm.Option
		if respCache != nil {
			opts = append(opts, llm.WithCache(respCache))
		}
		if client, err = llm.NewClient(cfg.LLM, gw, opts...); err != nil {
			return err
		}
	} else {
		logger.Warn(ctx, "llm.api_key not set, chat completions disabled")
	}

	authn, err := auth.Build(cfg.Auth)
	if err != nil {
		return err
	}

	var metrics http.Handler
	if cfg.Observe.Metrics.Enabled && cfg.Observe.Metrics.Exporter == "prometheus" {
		metrics = promhttp.Handler()
	}

	srv := server.New(server.Deps{
		Config:        cfg.Server,
		Gateways:      reg,
		Health:        agg,
		LLM:           client,
		Authenticator: authn,
		Authorizer:    auth.NewRoleAuthorizer(cfg.Auth.Roles),
		Metrics:       metrics,
		Logger:        logger,
	})

	logger.Info(ctx, "callgate starting",
		observe.F("addr", cfg.Server.Addr()),
		observe.F("gateways", reg.Names()),
		observe.F("cache", cfg.Cache.Backend),
		observe.F("auth", cfg.Auth.Enabled),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil {
		return err
	}
	logger.Info(shutdownCtx, "callgate stopped")
	return nil
}

// buildCache returns the response cache selected by cfg, or nil for the
// none backend, and a function releasing it.
func buildCache(ctx context.Context, cfg config.CacheConfig, agg *health.Aggregator, logger observe.Logger) (*cache.Middleware, func(), error) {
	var backend cache.Cache
	closeFn := func() {}

	switch cfg.Backend {
	case config.CacheNone:
		return nil, closeFn, nil
	case config.CacheRedis:
		rc, err := cache.DialRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, nil, err
		}
		agg.Register("cache.redis", rc.Checker())
		backend = rc
		closeFn = func() { _ = rc.Close() }
	default:
		mc := cache.NewMemoryCache()
		go pruneLoop(ctx, mc, logger)
		backend = mc
	}

	mw, err := cache.NewMiddleware(backend, cache.NewDefaultKeyer(), cache.Policy{
		DefaultTTL: cfg.TTL,
		MaxTTL:     cfg.MaxTTL,
	})
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return mw, closeFn, nil
}

func pruneLoop(ctx context.Context, mc *cache.MemoryCache, logger observe.Logger) {
	ticker := time.NewTicker(prunePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := mc.Prune(); n > 0 {
				logger.Debug(ctx, "pruned expired cache entries", observe.F("count", n))
			}
		}
	}
}
