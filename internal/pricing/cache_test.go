package pricing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dexarb/internal/clock"
	"github.com/alanyoungcy/dexarb/internal/domain"
)

var (
	weth = domain.TokenIdentity{Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Symbol: "WETH", Decimals: 18, ChainID: 1}
	usdc = domain.TokenIdentity{Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Symbol: "USDC", Decimals: 6, ChainID: 1}
	req  = QuoteRequest{Base: weth, Quote: usdc}
	t0   = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeSource struct {
	calls atomic.Int32
	fn    func(call int) (map[string]domain.PriceQuote, error)
}

func (s *fakeSource) FetchQuotes(_ context.Context, _, _ domain.TokenIdentity) (map[string]domain.PriceQuote, error) {
	n := int(s.calls.Add(1))
	return s.fn(n)
}

func liveQuotes(price float64) map[string]domain.PriceQuote {
	return map[string]domain.PriceQuote{
		"uniswap_v3": {Venue: "uniswap_v3", Price: price, FeeRate: 0.003, LiquidityUSD: 1_000_000},
		"sushiswap":  {Venue: "sushiswap", Price: price * 1.01, FeeRate: 0.003, LiquidityUSD: 800_000},
	}
}

type fakeHistory struct {
	quotes []domain.PriceQuote
	err    error
	saved  []domain.QuoteSet
}

func (h *fakeHistory) GetRecentQuotes(_ context.Context, _ string, _ int64, limit int) ([]domain.PriceQuote, error) {
	if h.err != nil {
		return nil, h.err
	}
	if len(h.quotes) > limit {
		return h.quotes[:limit], nil
	}
	return h.quotes, nil
}

func (h *fakeHistory) SaveQuotes(_ context.Context, set domain.QuoteSet) error {
	h.saved = append(h.saved, set)
	return nil
}

type harness struct {
	clk     *clock.Fake
	source  *fakeSource
	history *fakeHistory
	cache   *QuoteCache
}

func newHarness(t *testing.T, cfg CacheConfig, maxRetries int, fn func(int) (map[string]domain.PriceQuote, error)) *harness {
	t.Helper()
	clk := clock.NewFake(t0)
	src := &fakeSource{fn: fn}
	hist := &fakeHistory{}
	logger := discardLogger()
	chain := NewFallbackChain(clk, logger, nil,
		NewLiveTier(src, maxRetries, time.Second, clk, logger, nil),
		NewHistoricalTier(hist, 20),
		NewSyntheticTier(nil, nil, 0.003, clk),
	)
	return &harness{
		clk:     clk,
		source:  src,
		history: hist,
		cache:   NewQuoteCache(chain, cfg, clk, logger, nil),
	}
}

func alwaysLive(int) (map[string]domain.PriceQuote, error) { return liveQuotes(3000), nil }

func TestGetServesFreshEntryFromCache(t *testing.T) {
	h := newHarness(t, CacheConfig{Duration: 20 * time.Second}, 2, alwaysLive)
	ctx := context.Background()

	first, err := h.cache.Get(ctx, req, false)
	require.NoError(t, err)
	assert.Equal(t, domain.ProvenanceLive, first.Provenance)
	assert.Len(t, first.Quotes, 2)
	for _, q := range first.Quotes {
		assert.Equal(t, domain.ProvenanceLive, q.Provenance)
	}

	h.clk.Advance(19 * time.Second)
	_, err = h.cache.Get(ctx, req, false)
	require.NoError(t, err)
	assert.Equal(t, int32(1), h.source.calls.Load())

	h.clk.Advance(time.Second)
	_, err = h.cache.Get(ctx, req, false)
	require.NoError(t, err)
	assert.Equal(t, int32(2), h.source.calls.Load(), "expired entry must refetch")
}

func TestGetReturnsIndependentCopies(t *testing.T) {
	h := newHarness(t, CacheConfig{}, 0, alwaysLive)
	ctx := context.Background()

	a, err := h.cache.Get(ctx, req, false)
	require.NoError(t, err)
	delete(a.Quotes, "uniswap_v3")

	b, err := h.cache.Get(ctx, req, false)
	require.NoError(t, err)
	assert.Len(t, b.Quotes, 2)
}

func TestForceAndInvalidateRefetch(t *testing.T) {
	h := newHarness(t, CacheConfig{}, 0, alwaysLive)
	ctx := context.Background()

	_, err := h.cache.Get(ctx, req, false)
	require.NoError(t, err)
	_, err = h.cache.Get(ctx, req, true)
	require.NoError(t, err)
	assert.Equal(t, int32(2), h.source.calls.Load())

	h.cache.Invalidate(req.Pair())
	_, _, ok := h.cache.Peek(req.Pair())
	assert.False(t, ok)

	_, err = h.cache.Get(ctx, req, false)
	require.NoError(t, err)
	assert.Equal(t, int32(3), h.source.calls.Load())
}

func TestForcedDegradedRefreshDropsLiveEntry(t *testing.T) {
	h := newHarness(t, CacheConfig{Duration: 20 * time.Second}, 0, func(call int) (map[string]domain.PriceQuote, error) {
		if call == 1 {
			return liveQuotes(3000), nil
		}
		return nil, errors.New("upstream 503")
	})
	h.history.err = errors.New("database offline")
	ctx := context.Background()

	_, err := h.cache.Get(ctx, req, false)
	require.NoError(t, err)

	h.clk.Advance(5 * time.Second)
	forced, err := h.cache.Get(ctx, req, true)
	require.NoError(t, err)
	assert.Equal(t, domain.ProvenanceSynthetic, forced.Provenance)
	_, _, cached := h.cache.Peek(req.Pair())
	assert.False(t, cached, "manual refresh must drop the old live entry")

	h.clk.Advance(time.Second)
	next, err := h.cache.Get(ctx, req, false)
	require.NoError(t, err)
	assert.Equal(t, domain.ProvenanceSynthetic, next.Provenance)
	assert.Equal(t, int32(3), h.source.calls.Load())
}

func TestConcurrentGetsShareOneFetch(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	h := newHarness(t, CacheConfig{}, 0, func(int) (map[string]domain.PriceQuote, error) {
		started <- struct{}{}
		<-release
		return liveQuotes(3000), nil
	})

	const n = 16
	var wg sync.WaitGroup
	results := make([]domain.QuoteSet, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.cache.Get(context.Background(), req, false)
		}(i)
	}

	<-started
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), h.source.calls.Load())
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Len(t, results[i].Quotes, 2)
	}
}

func TestCancelledCallerDoesNotFailOthers(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	h := newHarness(t, CacheConfig{}, 0, func(int) (map[string]domain.PriceQuote, error) {
		started <- struct{}{}
		<-release
		return liveQuotes(3000), nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := h.cache.Get(ctx, req, false)
		firstErr <- err
	}()
	<-started

	secondDone := make(chan error, 1)
	go func() {
		_, err := h.cache.Get(context.Background(), req, false)
		secondDone <- err
	}()

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	assert.NoError(t, <-secondDone)
	assert.Equal(t, int32(1), h.source.calls.Load())
}

func TestServeStaleRefreshesInBackground(t *testing.T) {
	h := newHarness(t, CacheConfig{Duration: 10 * time.Second, ServeStale: true}, 0, func(call int) (map[string]domain.PriceQuote, error) {
		return liveQuotes(3000 + float64(call)), nil
	})
	ctx := context.Background()

	_, err := h.cache.Get(ctx, req, false)
	require.NoError(t, err)

	h.clk.Advance(11 * time.Second)
	stale, err := h.cache.Get(ctx, req, false)
	require.NoError(t, err)
	assert.Equal(t, 3001.0, stale.Quotes["uniswap_v3"].Price)

	h.cache.Wait()
	fresh, fetchedAt, ok := h.cache.Peek(req.Pair())
	require.True(t, ok)
	assert.Equal(t, 3002.0, fresh.Quotes["uniswap_v3"].Price)
	assert.Equal(t, t0.Add(11*time.Second), fetchedAt)
}

func TestLiveTierRetriesWithBackoff(t *testing.T) {
	h := newHarness(t, CacheConfig{}, 2, func(call int) (map[string]domain.PriceQuote, error) {
		if call < 3 {
			return nil, errors.New("upstream 502")
		}
		return liveQuotes(3000), nil
	})

	done := make(chan domain.QuoteSet, 1)
	go func() {
		set, err := h.cache.Get(context.Background(), req, false)
		assert.NoError(t, err)
		done <- set
	}()

	require.True(t, h.clk.BlockUntil(1, time.Second))
	h.clk.Advance(time.Second)
	require.True(t, h.clk.BlockUntil(1, time.Second))
	// The second retry waits twice as long.
	h.clk.Advance(time.Second)
	assert.Equal(t, 1, h.clk.Waiters())
	h.clk.Advance(time.Second)

	set := <-done
	assert.Equal(t, domain.ProvenanceLive, set.Provenance)
	assert.Equal(t, int32(3), h.source.calls.Load())
}

func TestUnsupportedPairSkipsRetries(t *testing.T) {
	h := newHarness(t, CacheConfig{}, 2, func(int) (map[string]domain.PriceQuote, error) {
		return nil, domain.ErrUnsupportedPair
	})

	done := make(chan domain.QuoteSet, 1)
	go func() {
		set, err := h.cache.Get(context.Background(), req, false)
		assert.NoError(t, err)
		done <- set
	}()

	select {
	case set := <-done:
		assert.Equal(t, domain.ProvenanceSynthetic, set.Provenance)
	case <-time.After(2 * time.Second):
		t.Fatal("live tier waited to retry an unsupported pair")
	}
	assert.Equal(t, int32(1), h.source.calls.Load())
	assert.Zero(t, h.clk.Waiters())
}

func TestFallsBackToHistorical(t *testing.T) {
	h := newHarness(t, CacheConfig{}, 0, func(int) (map[string]domain.PriceQuote, error) {
		return nil, domain.ErrQuoteSourceUnavailable
	})
	h.history.quotes = []domain.PriceQuote{
		{Venue: "uniswap_v3", Price: 3010, FeeRate: 0.003, LiquidityUSD: 1e6, Timestamp: t0.Add(-time.Minute)},
		{Venue: "curve", Price: 2990, FeeRate: 0.0004, LiquidityUSD: 5e5, Timestamp: t0.Add(-2 * time.Minute)},
		{Venue: "uniswap_v3", Price: 2900, FeeRate: 0.003, LiquidityUSD: 1e6, Timestamp: t0.Add(-time.Hour)},
	}

	set, err := h.cache.Get(context.Background(), req, false)
	require.NoError(t, err)
	assert.Equal(t, domain.ProvenanceFallback, set.Provenance)
	assert.True(t, set.Degraded())
	require.Len(t, set.Quotes, 2)
	assert.Equal(t, 3010.0, set.Quotes["uniswap_v3"].Price)
	assert.Equal(t, domain.ProvenanceFallback, set.Quotes["curve"].Provenance)

	_, _, cached := h.cache.Peek(req.Pair())
	assert.False(t, cached, "degraded results are not cached")
}

func TestEmptyLiveResultFallsThrough(t *testing.T) {
	h := newHarness(t, CacheConfig{}, 1, func(int) (map[string]domain.PriceQuote, error) {
		return map[string]domain.PriceQuote{}, nil
	})

	done := make(chan domain.QuoteSet, 1)
	go func() {
		set, err := h.cache.Get(context.Background(), req, false)
		assert.NoError(t, err)
		done <- set
	}()
	require.True(t, h.clk.BlockUntil(1, time.Second))
	h.clk.Advance(time.Second)

	set := <-done
	assert.Equal(t, domain.ProvenanceSynthetic, set.Provenance)
	assert.Equal(t, int32(2), h.source.calls.Load())
}

func TestFallsBackToSynthetic(t *testing.T) {
	h := newHarness(t, CacheConfig{}, 0, func(int) (map[string]domain.PriceQuote, error) {
		return nil, errors.New("dial tcp: connection refused")
	})
	h.history.err = errors.New("database offline")

	set, err := h.cache.Get(context.Background(), req, false)
	require.NoError(t, err)
	assert.Equal(t, domain.ProvenanceSynthetic, set.Provenance)
	assert.Len(t, set.Quotes, len(DefaultSyntheticVenues))
	for venue, q := range set.Quotes {
		assert.InDelta(t, 3000, q.Price, 3000*0.0031, venue)
		assert.Equal(t, domain.ProvenanceSynthetic, q.Provenance)
		assert.NoError(t, q.Validate())
	}
}

func TestAllTiersFail(t *testing.T) {
	h := newHarness(t, CacheConfig{}, 0, func(int) (map[string]domain.PriceQuote, error) {
		return nil, errors.New("boom")
	})
	unknown := QuoteRequest{
		Base:  domain.TokenIdentity{Symbol: "PEPE2", ChainID: 1},
		Quote: domain.TokenIdentity{Symbol: "USDC", ChainID: 1},
	}

	_, err := h.cache.Get(context.Background(), unknown, false)
	assert.ErrorIs(t, err, domain.ErrQuoteSourceUnavailable)
}

func TestInvalidRequestIsNotFetched(t *testing.T) {
	h := newHarness(t, CacheConfig{}, 0, alwaysLive)

	cases := []QuoteRequest{
		{Base: domain.TokenIdentity{ChainID: 1}, Quote: usdc},
		{Base: weth, Quote: domain.TokenIdentity{Address: "0xnothex", ChainID: 1}},
		{Base: weth, Quote: domain.TokenIdentity{Symbol: "USDC", ChainID: 137}},
		{Base: weth, Quote: weth},
	}
	for _, c := range cases {
		_, err := h.cache.Get(context.Background(), c, false)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	}
	assert.Zero(t, h.source.calls.Load())
}
