package pricing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/agusgarcia3007/LLM-moonitor/internal/metrics"
	"github.com/agusgarcia3007/LLM-moonitor/internal/worker"
)

// Fetcher extracts the current prices of one provider.
type Fetcher interface {
	Extract(ctx context.Context, p Provider) ([]PriceRecord, error)
}

type Store interface {
	// UpsertPrices writes all records in one transaction, keyed by ModelID.
	UpsertPrices(ctx context.Context, records []PriceRecord) error
	ListPrices(ctx context.Context) ([]PriceRecord, error)
}

type ProviderResult struct {
	Provider string
	Models   int
	Err      error
	Duration time.Duration
}

type RunReport struct {
	StartedAt  time.Time
	Duration   time.Duration
	Providers  []ProviderResult
	Fetched    int
	Collisions []Collision
	Persisted  int
	// Skipped is set when no provider produced records and storage was left alone.
	Skipped bool
}

// Succeeded counts providers that returned without error.
func (r *RunReport) Succeeded() int {
	n := 0
	for _, p := range r.Providers {
		if p.Err == nil {
			n++
		}
	}
	return n
}

type Orchestrator struct {
	providers []Provider
	fetcher   Fetcher
	store     Store
	workers   int
	timeout   time.Duration
	tracer    trace.Tracer
	now       func() time.Time
}

type Option func(*Orchestrator)

// WithWorkers bounds how many providers are fetched at once. Zero means one
// worker per provider.
func WithWorkers(n int) Option { return func(o *Orchestrator) { o.workers = n } }

// WithProviderTimeout sets the deadline of each provider's fetch and extract.
func WithProviderTimeout(d time.Duration) Option { return func(o *Orchestrator) { o.timeout = d } }

func WithTracer(t trace.Tracer) Option { return func(o *Orchestrator) { o.tracer = t } }

func NewOrchestrator(providers []Provider, fetcher Fetcher, store Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		providers: providers,
		fetcher:   fetcher,
		store:     store,
		timeout:   2 * time.Minute,
		tracer:    noop.NewTracerProvider().Tracer("pricing"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// UpdateAllPrices fetches every provider concurrently, deduplicates the
// results and upserts them. Provider failures are logged and skipped; only a
// storage failure is returned. The price cache is not touched.
func (o *Orchestrator) UpdateAllPrices(ctx context.Context) (*RunReport, error) {
	ctx, span := o.tracer.Start(ctx, "pricing.update_all")
	defer span.End()

	report := &RunReport{StartedAt: o.now()}
	defer func() {
		report.Duration = time.Since(report.StartedAt)
		metrics.PricingRunDuration.Observe(report.Duration.Seconds())
	}()

	logger := log.With().Str("component", "orchestrator").Logger()
	logger.Info().Int("providers", len(o.providers)).Msg("starting concurrent price fetch")

	tasks := make([]worker.Task[[]PriceRecord], len(o.providers))
	for i, p := range o.providers {
		tasks[i] = worker.Task[[]PriceRecord]{
			Name: p.Name,
			Run: func(ctx context.Context) ([]PriceRecord, error) {
				return o.fetcher.Extract(ctx, p)
			},
		}
	}

	var all []PriceRecord
	for _, out := range worker.Run(ctx, o.workers, o.timeout, tasks) {
		result := ProviderResult{Provider: out.Name, Err: out.Err, Duration: out.Duration}
		if out.Err != nil {
			logger.Error().Err(out.Err).Str("provider", out.Name).Dur("took", out.Duration).Msg("provider price fetch failed")
			metrics.PricingProviderRuns.WithLabelValues(out.Name, "error").Inc()
		} else {
			result.Models = len(out.Value)
			all = append(all, out.Value...)
			logger.Info().Str("provider", out.Name).Int("models", result.Models).Dur("took", out.Duration).Msg("provider prices fetched")
			metrics.PricingProviderRuns.WithLabelValues(out.Name, "success").Inc()
		}
		report.Providers = append(report.Providers, result)
	}
	report.Fetched = len(all)

	span.SetAttributes(
		attribute.Int("providers.succeeded", report.Succeeded()),
		attribute.Int("prices.fetched", report.Fetched),
	)

	if len(all) == 0 {
		report.Skipped = true
		logger.Warn().Msg("no prices were fetched successfully, skipping database update")
		return report, nil
	}

	unique, collisions := Dedupe(all)
	report.Collisions = collisions
	if len(collisions) > 0 {
		ids := make([]string, len(collisions))
		for i, c := range collisions {
			ids[i] = fmt.Sprintf("%s (%dx)", c.ModelID, c.Count)
		}
		logger.Warn().Str("ids", strings.Join(ids, ", ")).Msg("found duplicate model ids, keeping the last of each")
		metrics.PricingDuplicateIDs.Add(float64(len(collisions)))
	}

	updatedAt := o.now().UTC()
	for i := range unique {
		unique[i].UpdatedAt = updatedAt
		unique[i].Unit = UnitPerToken
	}

	logger.Info().Int("unique", len(unique)).Int("fetched", len(all)).Msg("saving model prices")
	if err := o.store.UpsertPrices(ctx, unique); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upsert failed")
		return report, &StorageError{Op: "upsert prices", Err: err}
	}
	report.Persisted = len(unique)

	logger.Info().Int("persisted", report.Persisted).Msg("price update completed")
	return report, nil
}
