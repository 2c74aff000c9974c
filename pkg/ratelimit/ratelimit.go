package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	extratelimit "github.com/vnmchuo/ratelimiter"
)

// Window is the period each caller's event budget applies to.
const Window = time.Minute

// Limiter is a thin wrapper around github.com/vnmchuo/ratelimiter that counts
// ingested events per caller.
type Limiter struct {
	store extratelimit.Limiter
}

func NewLimiter(rdb *redis.Client, eventsPerMinute int64) *Limiter {
	store := extratelimit.NewRedisStore(rdb,
		extratelimit.WithLimit(int(eventsPerMinute)),
		extratelimit.WithWindow(Window),
	)
	return &Limiter{store: store}
}

func NewTestLimiter(store extratelimit.Limiter) *Limiter {
	return &Limiter{store: store}
}

func key(caller string) string {
	return fmt.Sprintf("ratelimit:events:%s", caller)
}

// Allow consumes one event from caller's budget.
func (l *Limiter) Allow(ctx context.Context, caller string) (bool, error) {
	res, err := l.store.Allow(ctx, key(caller))
	if err != nil {
		return false, err
	}
	return res.Allowed, nil
}

// AllowN consumes n events at once, for batched ingestion.
func (l *Limiter) AllowN(ctx context.Context, caller string, n int) (bool, error) {
	res, err := l.store.AllowN(ctx, key(caller), n)
	if err != nil {
		return false, err
	}
	return res.Allowed, nil
}

func (l *Limiter) Status(ctx context.Context, caller string) (*extratelimit.Result, error) {
	return l.store.Status(ctx, key(caller))
}
