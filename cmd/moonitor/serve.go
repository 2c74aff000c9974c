package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/agusgarcia3007/LLM-moonitor/config"
	"github.com/agusgarcia3007/LLM-moonitor/internal/api"
	"github.com/agusgarcia3007/LLM-moonitor/internal/billing"
	"github.com/agusgarcia3007/LLM-moonitor/internal/events"
	"github.com/agusgarcia3007/LLM-moonitor/internal/storage"
	"github.com/agusgarcia3007/LLM-moonitor/internal/telemetry"
	"github.com/agusgarcia3007/LLM-moonitor/internal/tenant"
	"github.com/agusgarcia3007/LLM-moonitor/pkg/ratelimit"
)

func newServeCmd(getConfig func() *config.Config) *cobra.Command {
	var (
		migrate      bool
		withSchedule bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the daily pricing schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(getConfig(), migrate, withSchedule)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "apply the database schema before starting")
	cmd.Flags().BoolVar(&withSchedule, "schedule", true, "run the daily pricing update in this process")
	return cmd
}

func serve(cfg *config.Config, migrate, withSchedule bool) error {
	ctx := context.Background()

	// 1. Init telemetry
	shutdownTracer, err := telemetry.InitTracer(ctx, cfg, os.Stdout)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		shutdownTracer(ctx)
	}()

	// 2. Connect PostgreSQL and Redis
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if migrate {
		if err := storage.Migrate(ctx, a.pool); err != nil {
			return err
		}
	}

	// 3. Load prices; a cold cache only means zero-cost events until the next refresh
	if _, err := a.cache.Refresh(ctx); err != nil {
		log.Error().Err(err).Msg("initial price cache load failed")
	}

	// 4. Init tenant resolution, cost attribution and event storage
	directory := tenant.NewCachedDirectory(tenant.NewPostgresDirectory(a.pool), a.rdb)
	resolver := tenant.NewResolver(directory)
	calculator := billing.NewCalculator(a.cache)
	eventStore := events.NewPostgresStore(a.pool)
	limiter := ratelimit.NewLimiter(a.rdb, cfg.EventsRateLimit)

	handler := api.NewHandler(resolver, calculator, eventStore, limiter, a.job, a.cache, telemetry.Tracer("api"))
	router := api.NewRouter(handler, api.RouterConfig{
		SessionSecret:  cfg.SessionJWTSecret,
		AdminToken:     cfg.AdminToken,
		AllowedOrigins: cfg.CORSAllowedOrigins,
	})

	// 5. Start the daily schedule
	if withSchedule {
		a.scheduler.Start()
	}

	// 6. Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 15 * time.Minute, // admin price updates run synchronously
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Port).Msg("LLM-moonitor starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-quit:
	case err := <-errCh:
		return err
	}
	log.Info().Msg("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if withSchedule {
		a.scheduler.Stop(shutdownCtx)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info().Msg("Server stopped")
	return nil
}
