package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/run"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/pixstory/internal/config"
	"github.com/Sternrassler/pixstory/internal/server"
	"github.com/Sternrassler/pixstory/pkg/cache"
	"github.com/Sternrassler/pixstory/pkg/logging"
	"github.com/Sternrassler/pixstory/pkg/orchestrator"
	"github.com/Sternrassler/pixstory/pkg/provider"
	"github.com/Sternrassler/pixstory/pkg/provider/ark"
	"github.com/Sternrassler/pixstory/pkg/provider/openai"
	"github.com/Sternrassler/pixstory/pkg/ratelimit"
	"github.com/Sternrassler/pixstory/pkg/story"
)

const (
	// Version is the application version (set via ldflags).
	Version = "dev"

	shutdownTimeout = 10 * time.Second
)

// parseConfig loads the config file and applies flag overrides.
func parseConfig(args []string) (config.Config, error) {
	app := kingpin.New("pixstory-server", "Staged, rate-limited story generation server.")
	app.Version(Version)

	var (
		configPath  = app.Flag("config", "Path to the YAML configuration file.").Envar("PIXSTORY_CONFIG").String()
		listen      = app.Flag("listen", "HTTP listen address.").Envar("PIXSTORY_LISTEN").String()
		logLevel    = app.Flag("log-level", "Log level (debug, info, warn, error).").Envar("PIXSTORY_LOG_LEVEL").String()
		logPretty   = app.Flag("log-pretty", "Human-readable console logs.").Envar("PIXSTORY_LOG_PRETTY").Bool()
		providerArg = app.Flag("provider", "Generation backend (openai, ark).").Envar("PIXSTORY_PROVIDER").String()
		redisAddr   = app.Flag("redis-addr", "Redis address; enables readiness checks, shared limiter and cache.").Envar("PIXSTORY_REDIS_ADDR").String()

		minIntervalSet bool
		minInterval    = app.Flag("min-interval", "Minimum interval between item dispatches.").Envar("PIXSTORY_MIN_INTERVAL").IsSetByUser(&minIntervalSet).Duration()
	)

	if _, err := app.Parse(args); err != nil {
		return config.Config{}, fmt.Errorf("invalid command line: %w", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return config.Config{}, err
	}

	if *listen != "" {
		cfg.Listen = *listen
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logPretty {
		cfg.Log.Pretty = true
	}
	if *providerArg != "" {
		cfg.Provider = *providerArg
	}
	if *redisAddr != "" {
		cfg.Redis.Addr = *redisAddr
	}
	if minIntervalSet {
		cfg.Dispatch.MinInterval = *minInterval
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// components are the wired application parts.
type components struct {
	server *server.Server
	redis  *redis.Client
}

func (c *components) Close() {
	c.server.Shutdown()
	if c.redis != nil {
		_ = c.redis.Close()
	}
}

// build wires the provider, limiter, controller and HTTP server.
func build(cfg config.Config, logger zerolog.Logger) (*components, error) {
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	backend, model, err := newProvider(cfg, rdb, logger)
	if err != nil {
		return nil, err
	}
	if rdb != nil && cfg.Redis.CacheTTL > 0 {
		backend = cache.WrapProvider(backend, cache.NewManager(rdb), cache.ProviderOptions{
			Model: model,
			TTL:   cfg.Redis.CacheTTL,
		})
		logger.Info().Dur("ttl", cfg.Redis.CacheTTL).Msg("Result cache enabled")
	}

	limiter, err := newLimiter(cfg, rdb, logger)
	if err != nil {
		return nil, err
	}

	creds := orchestrator.StaticCredentials{ID: cfg.Identity, Key: os.Getenv(cfg.ProviderKeyEnv)}
	ctrl, err := orchestrator.New(limiter, creds, orchestrator.Config{
		ItemTimeout:      cfg.Dispatch.ItemTimeout,
		SynthesisTimeout: cfg.Dispatch.SynthesisTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create controller: %w", err)
	}

	srv := server.New(story.NewService(backend, ctrl), server.Config{
		Retention:   cfg.Runs.Retention,
		Credentials: creds,
		Redis:       rdb,
	})
	return &components{server: srv, redis: rdb}, nil
}

// newProvider returns the backend and the model name used in cache keys.
func newProvider(cfg config.Config, rdb *redis.Client, logger zerolog.Logger) (provider.Provider, string, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		oc := openai.DefaultConfig()
		oc.BaseURL = cfg.OpenAI.BaseURL
		oc.ChatModel = cfg.OpenAI.ChatModel
		oc.ImageModel = cfg.OpenAI.ImageModel
		oc.ImageSize = cfg.OpenAI.ImageSize
		if cfg.OpenAI.Timeout > 0 {
			oc.Timeout = cfg.OpenAI.Timeout
		}
		oc.Quota = ratelimit.NewQuotaTracker(rdb, logger)

		c, err := openai.New(oc)
		if err != nil {
			return nil, "", fmt.Errorf("could not create openai provider: %w", err)
		}
		return c, oc.ChatModel + "+" + oc.ImageModel, nil

	case config.ProviderArk:
		ac := ark.DefaultConfig()
		ac.BaseURL = cfg.Ark.BaseURL
		ac.ChatModel = cfg.Ark.ChatModel
		ac.ImageModel = cfg.Ark.ImageModel
		if cfg.Ark.ImageSize != "" {
			ac.ImageSize = cfg.Ark.ImageSize
		}

		c, err := ark.New(ac)
		if err != nil {
			return nil, "", fmt.Errorf("could not create ark provider: %w", err)
		}
		return c, ac.ChatModel + "+" + ac.ImageModel, nil

	default:
		return nil, "", fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

func newLimiter(cfg config.Config, rdb *redis.Client, logger zerolog.Logger) (ratelimit.Limiter, error) {
	if rdb != nil && cfg.Redis.SharedLimiter {
		l, err := ratelimit.NewRedisSpacer(rdb, ratelimit.DefaultRedisKey, cfg.Dispatch.MinInterval, logger)
		if err != nil {
			return nil, fmt.Errorf("could not create shared limiter: %w", err)
		}
		logger.Info().Dur("interval", cfg.Dispatch.MinInterval).Msg("Shared dispatch limiter enabled")
		return l, nil
	}
	return ratelimit.NewSpacer(cfg.Dispatch.MinInterval, ratelimit.WithLogger(logger)), nil
}

// Run runs the server until a termination signal arrives or ctx ends.
func Run(ctx context.Context, args []string, stderr io.Writer) error {
	cfg, err := parseConfig(args)
	if err != nil {
		return err
	}

	logger := logging.Setup(logging.Config{
		Level:   logging.LogLevel(cfg.Log.Level),
		Pretty:  cfg.Log.Pretty,
		Output:  stderr,
		Service: "pixstory",
	})

	app, err := build(cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	if app.redis != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := app.redis.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("could not connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")
	}

	var g run.Group

	// OS signals.
	{
		signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
		defer signalCancel()

		g.Add(
			func() error {
				<-signalCtx.Done()
				logger.Info().Msg("Termination signal received")
				return nil
			},
			func(_ error) {
				signalCancel()
			},
		)
	}

	// HTTP server.
	{
		httpServer := &http.Server{
			Addr:              cfg.Listen,
			Handler:           app.server.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g.Add(
			func() error {
				logger.Info().
					Str("listen", cfg.Listen).
					Str("provider", cfg.Provider).
					Dur("min_interval", cfg.Dispatch.MinInterval).
					Msg("Starting PixStory server")
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http server: %w", err)
				}
				return nil
			},
			func(_ error) {
				app.server.Shutdown()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := httpServer.Shutdown(shutdownCtx); err != nil {
					logger.Error().Err(err).Msg("HTTP server shutdown failed")
				}
			},
		)
	}

	return g.Run()
}

func main() {
	if err := Run(context.Background(), os.Args[1:], os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
