package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/agusgarcia3007/LLM-moonitor/config"
	"github.com/agusgarcia3007/LLM-moonitor/internal/llm"
	"github.com/agusgarcia3007/LLM-moonitor/internal/llm/claude"
	"github.com/agusgarcia3007/LLM-moonitor/internal/llm/gemini"
	"github.com/agusgarcia3007/LLM-moonitor/internal/llm/openai"
	"github.com/agusgarcia3007/LLM-moonitor/internal/pricecache"
	"github.com/agusgarcia3007/LLM-moonitor/internal/pricing"
	"github.com/agusgarcia3007/LLM-moonitor/internal/scheduler"
	"github.com/agusgarcia3007/LLM-moonitor/internal/scrape"
	"github.com/agusgarcia3007/LLM-moonitor/internal/storage"
	"github.com/agusgarcia3007/LLM-moonitor/internal/telemetry"
)

// app holds the connections and pricing components shared by every command.
type app struct {
	cfg       *config.Config
	pool      *pgxpool.Pool
	rdb       *redis.Client
	prices    pricing.Store
	cache     *pricecache.Cache
	job       *pricing.Job
	scheduler *scheduler.Scheduler
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	pool, err := storage.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	log.Info().Msg("Redis connected")

	a := &app{cfg: cfg, pool: pool, rdb: rdb}
	a.prices = pricing.NewPostgresStore(pool)
	a.cache = pricecache.New(a.prices)

	orchestrator, err := newOrchestrator(cfg, a.prices)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.job = pricing.NewJob(orchestrator, a.cache)

	a.scheduler, err = scheduler.New(a.job, rdb, cfg.PricingCron, cfg.PricingTimezone)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) Close() {
	_ = a.rdb.Close()
	a.pool.Close()
}

func newOrchestrator(cfg *config.Config, store pricing.Store) (*pricing.Orchestrator, error) {
	completer, err := newCompleter(cfg)
	if err != nil {
		return nil, err
	}

	registry, err := config.LoadProviders(cfg.ProvidersFile)
	if err != nil {
		return nil, err
	}
	providers := make([]pricing.Provider, len(registry))
	for i, p := range registry {
		providers[i] = pricing.Provider{Name: p.Name, DisplayName: p.DisplayName, PricingURL: p.PricingURL}
	}

	scraper := scrape.NewFirecrawl(cfg.ScraperBaseURL, cfg.ScraperAPIKey)
	extractor := pricing.NewExtractor(scraper, completer, cfg.ExtractionModel)

	return pricing.NewOrchestrator(providers, extractor, store,
		pricing.WithWorkers(cfg.PricingWorkers),
		pricing.WithProviderTimeout(cfg.PricingProviderTimeout),
		pricing.WithTracer(telemetry.Tracer("pricing")),
	), nil
}

func newCompleter(cfg *config.Config) (llm.Completer, error) {
	var key string
	var build func(string) llm.Completer
	switch cfg.ExtractionBackend {
	case "openai":
		key, build = cfg.OpenAIAPIKey, openai.New
	case "claude":
		key, build = cfg.AnthropicAPIKey, claude.New
	case "gemini":
		key, build = cfg.GeminiAPIKey, gemini.New
	default:
		return nil, fmt.Errorf("unsupported extraction backend %q", cfg.ExtractionBackend)
	}

	if key == "" {
		log.Warn().Str("backend", cfg.ExtractionBackend).Msg("extraction backend has no API key, price updates will fail")
	}
	return build(key), nil
}
