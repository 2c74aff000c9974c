// Package pricecache holds an in-memory snapshot of model prices keyed by
// provider and model id.
package pricecache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agusgarcia3007/LLM-moonitor/internal/metrics"
	"github.com/agusgarcia3007/LLM-moonitor/internal/pricing"
)

// Price is the per-token input and output price of one model.
type Price struct {
	Input  float64
	Output float64
}

type Source interface {
	ListPrices(ctx context.Context) ([]pricing.PriceRecord, error)
}

type snapshot struct {
	entries     map[string]Price
	refreshedAt time.Time
}

// Cache is safe for concurrent use. Readers always see one complete snapshot.
type Cache struct {
	source  Source
	current atomic.Pointer[snapshot]
}

func New(source Source) *Cache {
	c := &Cache{source: source}
	c.current.Store(&snapshot{entries: map[string]Price{}})
	return c
}

func Key(provider, modelID string) string {
	return provider + "::" + modelID
}

// Refresh replaces the snapshot with the current contents of the source.
// On error the previous snapshot stays active.
func (c *Cache) Refresh(ctx context.Context) (int, error) {
	records, err := c.source.ListPrices(ctx)
	if err != nil {
		log.Error().Err(err).Str("component", "pricecache").Msg("price cache refresh failed, keeping previous snapshot")
		return 0, fmt.Errorf("failed to load prices: %w", err)
	}

	entries := make(map[string]Price, len(records))
	for _, r := range records {
		entries[Key(r.Provider, r.ModelID)] = Price{Input: r.InputPrice, Output: r.OutputPrice}
	}

	c.current.Store(&snapshot{entries: entries, refreshedAt: time.Now().UTC()})
	metrics.PriceCacheEntries.Set(float64(len(entries)))

	log.Info().Str("component", "pricecache").Int("entries", len(entries)).Msg("price cache refreshed")
	return len(entries), nil
}

func (c *Cache) Lookup(provider, modelID string) (Price, bool) {
	p, ok := c.current.Load().entries[Key(provider, modelID)]
	return p, ok
}

func (c *Cache) Len() int {
	return len(c.current.Load().entries)
}

// RefreshedAt is zero until the first successful refresh.
func (c *Cache) RefreshedAt() time.Time {
	return c.current.Load().refreshedAt
}
