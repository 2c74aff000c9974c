package pricing

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

type Updater interface {
	UpdateAllPrices(ctx context.Context) (*RunReport, error)
}

type Refresher interface {
	Refresh(ctx context.Context) (int, error)
}

// Job is the scheduled unit of work: update the price table, then rebuild
// the cache from it.
type Job struct {
	updater Updater
	cache   Refresher
}

func NewJob(updater Updater, cache Refresher) *Job {
	return &Job{updater: updater, cache: cache}
}

func (j *Job) Run(ctx context.Context) (*RunReport, error) {
	report, err := j.updater.UpdateAllPrices(ctx)
	if err != nil {
		return report, err
	}

	n, err := j.cache.Refresh(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to refresh price cache: %w", err)
	}
	log.Info().Str("component", "pricing-job").Int("cache_entries", n).Bool("skipped", report.Skipped).Msg("pricing job finished")
	return report, nil
}
