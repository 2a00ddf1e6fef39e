package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/dexarb/internal/clock"
	"github.com/alanyoungcy/dexarb/internal/domain"
	"github.com/alanyoungcy/dexarb/internal/metrics"
)

// Tier is one source in the fallback chain. Quotes returned by a tier are
// tagged with its provenance.
type Tier interface {
	Provenance() domain.Provenance
	Quotes(ctx context.Context, req QuoteRequest) (map[string]domain.PriceQuote, error)
}

// FallbackChain tries each tier in order and returns the first usable
// quote set.
type FallbackChain struct {
	tiers   []Tier
	clock   clock.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewFallbackChain builds a chain over tiers, tried in the given order.
func NewFallbackChain(clk clock.Clock, logger *slog.Logger, m *metrics.Metrics, tiers ...Tier) *FallbackChain {
	return &FallbackChain{
		tiers:   tiers,
		clock:   clk,
		logger:  logger.With(slog.String("component", "fallback_chain")),
		metrics: m,
	}
}

// Resolve returns quotes from the strongest tier that can serve the pair.
// It fails with ErrQuoteSourceUnavailable only when every tier fails.
func (c *FallbackChain) Resolve(ctx context.Context, req QuoteRequest) (domain.QuoteSet, error) {
	pair := req.Pair()
	var errs []error
	for _, tier := range c.tiers {
		prov := tier.Provenance()
		quotes, err := tier.Quotes(ctx, req)
		if err == nil && len(quotes) == 0 {
			err = fmt.Errorf("%s tier returned no quotes", prov)
		}
		if err != nil {
			if errors.Is(err, domain.ErrInvalidInput) {
				return domain.QuoteSet{}, err
			}
			c.logger.WarnContext(ctx, "fallback chain: tier failed",
				slog.String("pair", pair.Label()),
				slog.String("tier", string(prov)),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", prov, err))
			continue
		}

		tagged := make(map[string]domain.PriceQuote, len(quotes))
		for venue, q := range quotes {
			if q.Venue == "" {
				q.Venue = venue
			}
			q.Provenance = prov
			tagged[venue] = q
		}
		c.metrics.QuoteResolved(string(prov))
		if prov != domain.ProvenanceLive {
			c.logger.WarnContext(ctx, "fallback chain: serving degraded quotes",
				slog.String("pair", pair.Label()),
				slog.String("provenance", string(prov)),
				slog.Int("venues", len(tagged)),
			)
		}
		return domain.QuoteSet{
			Pair:       pair,
			Quotes:     tagged,
			Provenance: prov,
			FetchedAt:  c.clock.Now(),
		}, nil
	}
	return domain.QuoteSet{}, fmt.Errorf("%w: %s: %w",
		domain.ErrQuoteSourceUnavailable, pair.Label(), errors.Join(errs...))
}

// LiveTier calls the quote source, retrying with exponential backoff.
type LiveTier struct {
	source     domain.QuoteSource
	maxRetries int
	retryDelay time.Duration
	clock      clock.Clock
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewLiveTier wraps source. It makes one attempt plus up to maxRetries
// retries, waiting retryDelay*2^n before retry n.
func NewLiveTier(source domain.QuoteSource, maxRetries int, retryDelay time.Duration, clk clock.Clock, logger *slog.Logger, m *metrics.Metrics) *LiveTier {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &LiveTier{
		source:     source,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		clock:      clk,
		logger:     logger.With(slog.String("component", "live_tier")),
		metrics:    m,
	}
}

func (t *LiveTier) Provenance() domain.Provenance { return domain.ProvenanceLive }

func (t *LiveTier) Quotes(ctx context.Context, req QuoteRequest) (map[string]domain.PriceQuote, error) {
	var lastErr error
	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		if attempt > 0 {
			delay := t.retryDelay * time.Duration(1<<(attempt-1))
			t.logger.DebugContext(ctx, "live tier: retrying",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
			)
			select {
			case <-ctx.Done():
				return nil, errors.Join(lastErr, ctx.Err())
			case <-t.clock.After(delay):
			}
		}

		quotes, err := t.source.FetchQuotes(ctx, req.Base, req.Quote)
		switch {
		case err != nil:
			t.metrics.UpstreamFetch("error")
		case len(quotes) == 0:
			t.metrics.UpstreamFetch("empty")
			err = fmt.Errorf("%w: no venue quoted %s", domain.ErrQuoteSourceUnavailable, req.Pair().Label())
		default:
			t.metrics.UpstreamFetch("ok")
			return quotes, nil
		}
		if errors.Is(err, domain.ErrInvalidInput) {
			return nil, err
		}
		if errors.Is(err, domain.ErrUnsupportedPair) {
			return nil, fmt.Errorf("live quotes: %w", err)
		}
		lastErr = err
		t.logger.WarnContext(ctx, "live tier: fetch failed",
			slog.String("pair", req.Pair().Label()),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
	}
	return nil, fmt.Errorf("live quotes after %d attempts: %w", t.maxRetries+1, lastErr)
}

// HistoricalTier serves the latest persisted quote per venue.
type HistoricalTier struct {
	store domain.HistoricalQuoteStore
	limit int
}

// NewHistoricalTier reads up to limit recent rows per lookup.
func NewHistoricalTier(store domain.HistoricalQuoteStore, limit int) *HistoricalTier {
	if limit <= 0 {
		limit = 50
	}
	return &HistoricalTier{store: store, limit: limit}
}

func (t *HistoricalTier) Provenance() domain.Provenance { return domain.ProvenanceFallback }

func (t *HistoricalTier) Quotes(ctx context.Context, req QuoteRequest) (map[string]domain.PriceQuote, error) {
	pair := req.Pair()
	recent, err := t.store.GetRecentQuotes(ctx, pair.Label(), pair.ChainID, t.limit)
	if err != nil {
		return nil, fmt.Errorf("historical quotes: %w", err)
	}
	out := make(map[string]domain.PriceQuote)
	for _, q := range recent {
		if q.Venue == "" {
			continue
		}
		// Rows arrive newest first; keep the first seen per venue.
		if _, ok := out[q.Venue]; ok {
			continue
		}
		out[q.Venue] = q
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("historical quotes: %w: none stored for %s", domain.ErrNotFound, pair.Label())
	}
	return out, nil
}
