package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/taper/internal/domain"
)

// CatalogCache implements domain.CatalogCache as a single Redis hash of
// JSON-serialised markets.
//
// Key schema:
//
//	{prefix}catalog:markets - hash, field = market id, value = JSON
type CatalogCache struct {
	c   *Client
	ttl time.Duration
}

// NewCatalogCache creates a CatalogCache whose hash expires after ttl.
func NewCatalogCache(c *Client, ttl time.Duration) *CatalogCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CatalogCache{c: c, ttl: ttl}
}

func (cc *CatalogCache) key() string { return cc.c.Key("catalog", "markets") }

// SetMarkets replaces the cached market set atomically.
func (cc *CatalogCache) SetMarkets(ctx context.Context, markets []domain.Market) error {
	fields := make(map[string]any, len(markets))
	for _, m := range markets {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("redis: marshal market %s: %w", m.ID, err)
		}
		fields[m.ID] = data
	}

	key := cc.key()
	pipe := cc.c.Underlying().TxPipeline()
	pipe.Del(ctx, key)
	if len(fields) > 0 {
		pipe.HSet(ctx, key, fields)
		pipe.Expire(ctx, key, cc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set markets: %w", err)
	}
	return nil
}

// GetMarket returns domain.ErrNotFound when the market is not cached.
func (cc *CatalogCache) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	data, err := cc.c.Underlying().HGet(ctx, cc.key(), id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("redis: get market %s: %w", id, err)
	}

	var market domain.Market
	if err := json.Unmarshal(data, &market); err != nil {
		return domain.Market{}, fmt.Errorf("redis: unmarshal market %s: %w", id, err)
	}
	return market, nil
}

// Invalidate drops a single market from the cache.
func (cc *CatalogCache) Invalidate(ctx context.Context, id string) error {
	if err := cc.c.Underlying().HDel(ctx, cc.key(), id).Err(); err != nil {
		return fmt.Errorf("redis: invalidate market %s: %w", id, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.CatalogCache = (*CatalogCache)(nil)
