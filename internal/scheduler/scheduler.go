// Package scheduler runs the daily price update on a cron schedule. A Redis
// lock keeps replicas from running the same tick twice.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/agusgarcia3007/LLM-moonitor/internal/pricing"
)

const (
	LockKey = "lock:pricing-update"
	LockTTL = 30 * time.Minute
)

type Job interface {
	Run(ctx context.Context) (*pricing.RunReport, error)
}

// releaseScript deletes the lock only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Scheduler struct {
	cron *cron.Cron
	job  Job
	rdb  *redis.Client
}

func New(job Job, rdb *redis.Client, spec, timezone string) (*Scheduler, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", timezone, err)
	}

	s := &Scheduler{
		cron: cron.New(cron.WithLocation(loc)),
		job:  job,
		rdb:  rdb,
	}
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	for _, e := range s.cron.Entries() {
		log.Info().Str("component", "scheduler").Time("next", e.Next).Msg("pricing update scheduled")
	}
}

// Stop prevents new ticks and waits for a running one to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), LockTTL)
	defer cancel()

	if _, _, err := s.RunOnce(ctx); err != nil {
		log.Error().Err(err).Str("component", "scheduler").Msg("daily pricing update failed")
	}
}

// RunOnce runs the job if no other holder has the lock. ran is false when the
// lock was taken.
func (s *Scheduler) RunOnce(ctx context.Context) (report *pricing.RunReport, ran bool, err error) {
	logger := log.With().Str("component", "scheduler").Logger()

	token := uuid.New().String()
	ok, err := s.rdb.SetNX(ctx, LockKey, token, LockTTL).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire pricing lock: %w", err)
	}
	if !ok {
		logger.Info().Msg("pricing update already running elsewhere, skipping")
		return nil, false, nil
	}
	defer func() {
		if err := releaseScript.Run(context.Background(), s.rdb, []string{LockKey}, token).Err(); err != nil {
			logger.Warn().Err(err).Msg("failed to release pricing lock")
		}
	}()

	start := time.Now()
	logger.Info().Msg("starting daily pricing update")
	report, err = s.job.Run(ctx)
	if err != nil {
		return report, true, err
	}
	logger.Info().Dur("took", time.Since(start)).Int("persisted", report.Persisted).Msg("daily pricing update completed")
	return report, true, nil
}
