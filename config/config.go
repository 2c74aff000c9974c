package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port               string // default: 8080
	CORSAllowedOrigins []string
	AdminToken         string

	// Database
	PostgresDSN string

	// Cache
	RedisAddr string

	// Sessions
	SessionJWTSecret string

	// Extraction backends
	OpenAIAPIKey      string
	GeminiAPIKey      string
	AnthropicAPIKey   string
	ExtractionBackend string // "openai", "claude" or "gemini"
	ExtractionModel   string

	// Scraper
	ScraperBaseURL string
	ScraperAPIKey  string

	// Pricing job
	ProvidersFile          string
	PricingCron            string        // default: "0 0 * * *"
	PricingTimezone        string        // default: "UTC"
	PricingProviderTimeout time.Duration // default: 2m
	PricingWorkers         int           // 0 means one worker per provider

	// Observability
	OTELExporterType     string // "stdout" or "otlp"
	OTELExporterEndpoint string // default: "localhost:4317"
	LogLevel             string
	LogFormat            string // "json" or "console"

	// Rate Limiting
	EventsRateLimit int64 // events per minute per caller, default: 6000
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		AdminToken:           os.Getenv("ADMIN_TOKEN"),
		PostgresDSN:          os.Getenv("POSTGRES_DSN"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		SessionJWTSecret:     os.Getenv("SESSION_JWT_SECRET"),
		OpenAIAPIKey:         os.Getenv("OPENAI_API_KEY"),
		GeminiAPIKey:         os.Getenv("GEMINI_API_KEY"),
		AnthropicAPIKey:      os.Getenv("ANTHROPIC_API_KEY"),
		ExtractionBackend:    getEnv("EXTRACTION_BACKEND", "openai"),
		ExtractionModel:      os.Getenv("EXTRACTION_MODEL"),
		ScraperBaseURL:       getEnv("SCRAPER_BASE_URL", "https://api.firecrawl.dev"),
		ScraperAPIKey:        os.Getenv("SCRAPER_API_KEY"),
		ProvidersFile:        os.Getenv("PROVIDERS_FILE"),
		PricingCron:          getEnv("PRICING_CRON", "0 0 * * *"),
		PricingTimezone:      getEnv("PRICING_TIMEZONE", "UTC"),
		OTELExporterType:     getEnv("OTEL_EXPORTER_TYPE", "stdout"),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		LogFormat:            getEnv("LOG_FORMAT", "json"),
	}

	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, o)
			}
		}
	}

	timeout, err := time.ParseDuration(getEnv("PRICING_PROVIDER_TIMEOUT", "2m"))
	if err != nil {
		return nil, fmt.Errorf("invalid PRICING_PROVIDER_TIMEOUT: %w", err)
	}
	cfg.PricingProviderTimeout = timeout

	workers, err := strconv.Atoi(getEnv("PRICING_WORKERS", "0"))
	if err != nil || workers < 0 {
		return nil, fmt.Errorf("invalid PRICING_WORKERS: %q", os.Getenv("PRICING_WORKERS"))
	}
	cfg.PricingWorkers = workers

	rateStr := getEnv("EVENTS_RATE_LIMIT", "6000")
	rate, err := strconv.ParseInt(rateStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid EVENTS_RATE_LIMIT: %w", err)
	}
	cfg.EventsRateLimit = rate

	if _, err := time.LoadLocation(cfg.PricingTimezone); err != nil {
		return nil, fmt.Errorf("invalid PRICING_TIMEZONE: %w", err)
	}

	// Validation
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN is required")
	}
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("REDIS_ADDR is required")
	}
	switch cfg.ExtractionBackend {
	case "openai", "claude", "gemini":
	default:
		return nil, fmt.Errorf("unsupported EXTRACTION_BACKEND: %q", cfg.ExtractionBackend)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
