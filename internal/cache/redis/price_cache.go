package redis

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/outcomelab/ammd/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes.
// Each market's price partition is stored as a hash at key
// "prices:{marketID}" with fields "prices" (comma-joined decimal strings,
// one per outcome) and "ts" (Unix nanosecond timestamp).
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func pricesKey(marketID string) string {
	return "prices:" + marketID
}

// SetPrices stores the latest price partition and timestamp for a market.
func (pc *PriceCache) SetPrices(ctx context.Context, marketID string, prices []*big.Int, ts time.Time) error {
	parts := make([]string, len(prices))
	for i, p := range prices {
		if p == nil {
			parts[i] = "0"
			continue
		}
		parts[i] = p.String()
	}

	fields := map[string]interface{}{
		"prices": strings.Join(parts, ","),
		"ts":     strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := pc.rdb.HSet(ctx, pricesKey(marketID), fields).Err(); err != nil {
		return fmt.Errorf("redis: set prices %s: %w", marketID, err)
	}
	return nil
}

// GetPrices retrieves the latest price partition and timestamp for a market.
// It returns domain.ErrNotFound when the key does not exist.
func (pc *PriceCache) GetPrices(ctx context.Context, marketID string) ([]*big.Int, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, pricesKey(marketID)).Result()
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("redis: get prices %s: %w", marketID, err)
	}
	if len(vals) == 0 {
		return nil, time.Time{}, domain.ErrNotFound
	}

	joined, ok := vals["prices"]
	if !ok {
		return nil, time.Time{}, domain.ErrNotFound
	}
	parts := strings.Split(joined, ",")
	prices := make([]*big.Int, len(parts))
	for i, s := range parts {
		p, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, time.Time{}, fmt.Errorf("redis: parse price %q for %s", s, marketID)
		}
		prices[i] = p
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return nil, time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", marketID, err)
	}

	return prices, time.Unix(0, tsNano), nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
