package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jonathan/resume-builder/internal/config"
	"github.com/jonathan/resume-builder/internal/db"
	"github.com/jonathan/resume-builder/internal/fetch"
	"github.com/jonathan/resume-builder/internal/llm"
	"github.com/jonathan/resume-builder/internal/lock"
	"github.com/jonathan/resume-builder/internal/logging"
	"github.com/jonathan/resume-builder/internal/server"
	"github.com/jonathan/resume-builder/internal/workflow"
)

// redisLockTTL is how long a lock survives a holder that stopped renewing it
const redisLockTTL = 30 * time.Second

// documentStore is satisfied by both the Postgres and the in-memory store
type documentStore interface {
	workflow.Store
	server.UserStore
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close()
}

// loadConfig reads configuration and installs the global logger
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	return cfg, nil
}

// openStore connects to Postgres and applies the schema, or returns an in-memory store
func openStore(ctx context.Context, cfg *config.Config) (documentStore, error) {
	if cfg.MemoryStore {
		log.Warn().Msg("using in-memory document store; data is lost on exit")
		return db.NewMemory(), nil
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required (or set MEMORY_STORE=true)")
	}

	database, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}

// llmConfig builds the gateway configuration from cfg
func llmConfig(cfg *config.Config) *llm.Config {
	out := llm.DefaultConfig()
	if cfg.LLMModel != "" && cfg.LLMModel != config.DefaultLLMModel {
		out = out.WithAllTiers(cfg.LLMModel)
	}
	out.Temperature = cfg.LLMTemperature
	out.Timeout = cfg.Timeout()
	return out
}

// openGateway creates the model client with metrics and, when enabled, a circuit breaker
func openGateway(ctx context.Context, cfg *config.Config) (llm.Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}
	client, err := llm.NewClient(ctx, llmConfig(cfg), cfg.APIKey)
	if err != nil {
		return nil, err
	}
	return wrapGateway(client, cfg.BreakerEnabled), nil
}

// wrapGateway layers instrumentation over the breaker so rejected calls are counted too
func wrapGateway(client llm.Client, breaker bool) llm.Client {
	if breaker {
		client = llm.NewBreakerClient(client, llm.DefaultBreakerConfig())
	}
	return llm.WithInstrumentation(client)
}

// gatewayHealth exposes the gateway's breaker to the health check, or nil when the breaker is disabled
func gatewayHealth(client llm.Client) server.GatewayHealth {
	if b := llm.FindBreaker(client); b != nil {
		return b
	}
	return nil
}

// openLocker returns a Redis locker when REDIS_URL is set, otherwise an in-process one.
// The returned close function is never nil.
func openLocker(ctx context.Context, cfg *config.Config) (lock.Locker, func(), error) {
	if cfg.RedisURL == "" {
		return lock.NewLocal(), func() {}, nil
	}
	client, err := lock.ParseRedisURL(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	// held locks are renewed, so the TTL only bounds how long a crashed replica blocks others
	locker := lock.NewRedis(client, lock.RedisConfig{TTL: redisLockTTL})
	log.Info().Msg("using redis document locks")
	return locker, func() {
		if err := locker.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close redis client")
		}
	}, nil
}

// companyFetcher scrapes company pages, retrying thin ones in a browser when enabled
func companyFetcher(cfg *config.Config) workflow.Fetcher {
	opts := fetch.DefaultOptions()
	if cfg.BrowserFallback {
		opts.Renderer = fetch.BrowserRenderer(fetch.DefaultBrowserTimeout)
	}
	return workflow.FetcherFunc(func(ctx context.Context, url string) (*fetch.Page, error) {
		return fetch.Scrape(ctx, url, opts)
	})
}
