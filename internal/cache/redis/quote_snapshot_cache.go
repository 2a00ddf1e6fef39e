package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// QuoteSnapshotCache implements domain.QuoteSnapshotCache. Each pair's latest
// quote set is stored as JSON at key "quotes:{chain}:{base}/{quote}".
type QuoteSnapshotCache struct {
	c *Client
}

// NewQuoteSnapshotCache creates a QuoteSnapshotCache backed by the given Client.
func NewQuoteSnapshotCache(c *Client) *QuoteSnapshotCache {
	return &QuoteSnapshotCache{c: c}
}

func (qc *QuoteSnapshotCache) snapshotKey(pair domain.PairKey) string {
	return qc.c.key("quotes", pair.String())
}

// SetSnapshot replaces the stored set for the pair. A zero ttl keeps the key
// until it is overwritten.
func (qc *QuoteSnapshotCache) SetSnapshot(ctx context.Context, set domain.QuoteSet, ttl time.Duration) error {
	data, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("redis: marshal snapshot %s: %w", set.Pair, err)
	}
	if err := qc.c.rdb.Set(ctx, qc.snapshotKey(set.Pair), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set snapshot %s: %w", set.Pair, err)
	}
	return nil
}

// GetSnapshot returns the stored set, or domain.ErrNotFound.
func (qc *QuoteSnapshotCache) GetSnapshot(ctx context.Context, pair domain.PairKey) (domain.QuoteSet, error) {
	data, err := qc.c.rdb.Get(ctx, qc.snapshotKey(pair)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.QuoteSet{}, domain.ErrNotFound
		}
		return domain.QuoteSet{}, fmt.Errorf("redis: get snapshot %s: %w", pair, err)
	}
	var set domain.QuoteSet
	if err := json.Unmarshal(data, &set); err != nil {
		return domain.QuoteSet{}, fmt.Errorf("redis: decode snapshot %s: %w", pair, err)
	}
	return set, nil
}

// Delete removes the pair's snapshot. Deleting a missing key is not an error.
func (qc *QuoteSnapshotCache) Delete(ctx context.Context, pair domain.PairKey) error {
	if err := qc.c.rdb.Del(ctx, qc.snapshotKey(pair)).Err(); err != nil {
		return fmt.Errorf("redis: delete snapshot %s: %w", pair, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.QuoteSnapshotCache = (*QuoteSnapshotCache)(nil)
