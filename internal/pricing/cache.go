package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/dexarb/internal/clock"
	"github.com/alanyoungcy/dexarb/internal/domain"
	"github.com/alanyoungcy/dexarb/internal/metrics"
)

// Resolver produces a fresh quote set for a pair. FallbackChain is the
// production implementation.
type Resolver interface {
	Resolve(ctx context.Context, req QuoteRequest) (domain.QuoteSet, error)
}

// CacheConfig tunes freshness and fetch behaviour.
type CacheConfig struct {
	// Duration is how long a live quote set stays fresh.
	Duration time.Duration
	// FetchTimeout bounds one shared fetch. Zero means no bound.
	FetchTimeout time.Duration
	// ServeStale returns an expired entry at once and refreshes it in the
	// background instead of blocking the caller.
	ServeStale bool
}

type cacheEntry struct {
	set       domain.QuoteSet
	fetchedAt time.Time
}

// QuoteCache is a per-pair, time-boxed cache of quote sets. Concurrent
// misses for one pair share a single upstream resolution.
type QuoteCache struct {
	resolver Resolver
	cfg      CacheConfig
	clock    clock.Clock
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu      sync.RWMutex
	entries map[string]cacheEntry
	group   singleflight.Group

	bg sync.WaitGroup
}

// NewQuoteCache creates an empty cache in front of resolver.
func NewQuoteCache(resolver Resolver, cfg CacheConfig, clk clock.Clock, logger *slog.Logger, m *metrics.Metrics) *QuoteCache {
	if cfg.Duration <= 0 {
		cfg.Duration = 20 * time.Second
	}
	return &QuoteCache{
		resolver: resolver,
		cfg:      cfg,
		clock:    clk,
		logger:   logger.With(slog.String("component", "quote_cache")),
		metrics:  m,
		entries:  make(map[string]cacheEntry),
	}
}

// Get returns quotes for the pair. A fresh entry is served unless force is
// set; otherwise the fallback chain is consulted. Degraded results are
// returned but never cached. A forced Get drops the entry first, so a
// refresh that ends in degraded data leaves nothing behind to serve.
func (c *QuoteCache) Get(ctx context.Context, req QuoteRequest, force bool) (domain.QuoteSet, error) {
	if err := req.Validate(); err != nil {
		return domain.QuoteSet{}, err
	}
	pair := req.Pair()

	if force {
		c.Invalidate(pair)
		return c.fetch(ctx, req)
	}

	e, ok := c.lookup(pair)
	if !ok {
		c.metrics.CacheLookup("miss")
		return c.fetch(ctx, req)
	}
	if c.fresh(e) {
		c.metrics.CacheLookup("hit")
		return e.set.Clone(), nil
	}
	c.metrics.CacheLookup("stale")
	if c.cfg.ServeStale {
		c.refreshAsync(req)
		return e.set.Clone(), nil
	}
	return c.fetch(ctx, req)
}

// Peek returns the cached entry and when it was fetched, without fetching.
func (c *QuoteCache) Peek(pair domain.PairKey) (domain.QuoteSet, time.Time, bool) {
	e, ok := c.lookup(pair)
	if !ok {
		return domain.QuoteSet{}, time.Time{}, false
	}
	return e.set.Clone(), e.fetchedAt, true
}

// Invalidate drops the entry so the next Get fetches.
func (c *QuoteCache) Invalidate(pair domain.PairKey) {
	c.mu.Lock()
	delete(c.entries, pair.String())
	c.mu.Unlock()
}

// Wait blocks until background refreshes started by Get have finished.
func (c *QuoteCache) Wait() { c.bg.Wait() }

func (c *QuoteCache) lookup(pair domain.PairKey) (cacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[pair.String()]
	return e, ok
}

func (c *QuoteCache) fresh(e cacheEntry) bool {
	return c.clock.Now().Sub(e.fetchedAt) < c.cfg.Duration
}

func (c *QuoteCache) store(set domain.QuoteSet) {
	c.mu.Lock()
	c.entries[set.Pair.String()] = cacheEntry{set: set.Clone(), fetchedAt: set.FetchedAt}
	c.mu.Unlock()
}

// fetch joins or starts the shared resolution for the pair. The shared work
// runs detached from ctx so one caller giving up does not fail the others.
func (c *QuoteCache) fetch(ctx context.Context, req QuoteRequest) (domain.QuoteSet, error) {
	key := req.Pair().String()
	ch := c.group.DoChan(key, func() (any, error) {
		fctx := context.WithoutCancel(ctx)
		if c.cfg.FetchTimeout > 0 {
			var cancel context.CancelFunc
			fctx, cancel = context.WithTimeout(fctx, c.cfg.FetchTimeout)
			defer cancel()
		}
		set, err := c.resolver.Resolve(fctx, req)
		if err != nil {
			return nil, err
		}
		if set.Provenance == domain.ProvenanceLive {
			c.store(set)
		}
		return set, nil
	})

	select {
	case <-ctx.Done():
		return domain.QuoteSet{}, fmt.Errorf("quote cache: %s: %w", req.Pair().Label(), ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return domain.QuoteSet{}, fmt.Errorf("quote cache: %w", res.Err)
		}
		return res.Val.(domain.QuoteSet).Clone(), nil
	}
}

func (c *QuoteCache) refreshAsync(req QuoteRequest) {
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		ctx := context.Background()
		if _, err := c.fetch(ctx, req); err != nil {
			c.logger.WarnContext(ctx, "quote cache: background refresh failed",
				slog.String("pair", req.Pair().Label()),
				slog.String("error", err.Error()),
			)
		}
	}()
}
