package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/annabazaar/pricingengine/internal/domain"
)

// MandiCache implements domain.MandiCache with one JSON value per commodity
// and location at "mandi:{commodity}:{state}:{district}". An empty result is
// cached too, so repeated misses do not hit Postgres until the next ingest
// invalidates the commodity.
type MandiCache struct {
	c   *Client
	ttl time.Duration
}

// NewMandiCache creates a MandiCache whose entries expire after ttl.
func NewMandiCache(c *Client, ttl time.Duration) *MandiCache {
	return &MandiCache{c: c, ttl: ttl}
}

// mandiKeyParts normalises the cache key components. Missing location parts
// become "_".
func mandiKeyParts(commodity string, loc *domain.Location) []string {
	state, district := "_", "_"
	if loc != nil {
		if s := norm(loc.State); s != "" {
			state = s
		}
		if d := norm(loc.District); d != "" {
			district = d
		}
	}
	return []string{"mandi", norm(commodity), state, district}
}

func norm(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), ":", "_")
}

// Get returns the cached records, or domain.ErrNotFound on a miss.
func (mc *MandiCache) Get(ctx context.Context, commodity string, loc *domain.Location) ([]domain.MandiPrice, error) {
	raw, err := mc.c.rdb.Get(ctx, mc.c.key(mandiKeyParts(commodity, loc)...)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get mandi %s: %w", commodity, err)
	}

	prices := []domain.MandiPrice{}
	if err := json.Unmarshal(raw, &prices); err != nil {
		return nil, fmt.Errorf("redis: decode mandi %s: %w", commodity, err)
	}
	return prices, nil
}

// Set stores prices for commodity and loc.
func (mc *MandiCache) Set(ctx context.Context, commodity string, loc *domain.Location, prices []domain.MandiPrice) error {
	if prices == nil {
		prices = []domain.MandiPrice{}
	}
	raw, err := json.Marshal(prices)
	if err != nil {
		return fmt.Errorf("redis: encode mandi %s: %w", commodity, err)
	}
	if err := mc.c.rdb.Set(ctx, mc.c.key(mandiKeyParts(commodity, loc)...), raw, mc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set mandi %s: %w", commodity, err)
	}
	return nil
}

// InvalidateCommodity drops every cached location for commodity.
func (mc *MandiCache) InvalidateCommodity(ctx context.Context, commodity string) error {
	pattern := mc.invalidatePattern(commodity)

	var cursor uint64
	for {
		keys, next, err := mc.c.rdb.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return fmt.Errorf("redis: scan mandi %s: %w", commodity, err)
		}
		if len(keys) > 0 {
			if err := mc.c.rdb.Unlink(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis: invalidate mandi %s: %w", commodity, err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// invalidatePattern is the SCAN MATCH pattern for every location of
// commodity. Glob metacharacters in the key prefix are escaped so a name like
// "Chilli*" only matches its own keys.
func (mc *MandiCache) invalidatePattern(commodity string) string {
	return escapeGlob(mc.c.key("mandi", norm(commodity))) + ":*"
}

var globEscaper = strings.NewReplacer(`\`, `\\`, "*", `\*`, "?", `\?`, "[", `\[`, "]", `\]`)

func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}

var _ domain.MandiCache = (*MandiCache)(nil)
