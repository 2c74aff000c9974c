package tenant

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const membershipTTL = 5 * time.Minute

// CachedDirectory remembers positive membership checks in Redis. A removed
// membership is honoured at most membershipTTL late.
type CachedDirectory struct {
	Directory
	cache *redis.Client
}

func NewCachedDirectory(dir Directory, cache *redis.Client) *CachedDirectory {
	return &CachedDirectory{Directory: dir, cache: cache}
}

func membershipKey(userID, organizationID string) string {
	return fmt.Sprintf("member:%s:%s", userID, organizationID)
}

func (d *CachedDirectory) IsMember(ctx context.Context, userID, organizationID string) (bool, error) {
	key := membershipKey(userID, organizationID)

	err := d.cache.Get(ctx, key).Err()
	if err == nil {
		return true, nil
	} else if err != redis.Nil {
		log.Warn().Err(err).Str("component", "tenant").Msg("membership cache read failed")
	}

	ok, err := d.Directory.IsMember(ctx, userID, organizationID)
	if err != nil {
		return false, err
	}
	if ok {
		_ = d.cache.Set(ctx, key, "1", membershipTTL).Err()
	}
	return ok, nil
}
