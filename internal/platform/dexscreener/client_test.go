package dexscreener

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dexarb/internal/clock"
	"github.com/alanyoungcy/dexarb/internal/domain"
)

const (
	wethAddr = "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
	usdcAddr = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
)

var (
	weth = domain.TokenIdentity{Address: wethAddr, Symbol: "WETH", ChainID: 1}
	usdc = domain.TokenIdentity{Address: usdcAddr, Symbol: "USDC", ChainID: 1}
	now  = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
)

const fixture = `{
  "schemaVersion": "1.0.0",
  "pairs": [
    {"chainId": "ethereum", "dexId": "uniswap", "labels": ["v3"],
     "baseToken": {"address": "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", "symbol": "WETH"},
     "quoteToken": {"address": "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", "symbol": "USDC"},
     "priceNative": "3001.50", "liquidity": {"usd": 25000000}},
    {"chainId": "ethereum", "dexId": "uniswap", "labels": ["v3"],
     "baseToken": {"address": "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", "symbol": "WETH"},
     "quoteToken": {"address": "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", "symbol": "USDC"},
     "priceNative": "2999.00", "liquidity": {"usd": 900000}},
    {"chainId": "ethereum", "dexId": "sushiswap",
     "baseToken": {"address": "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", "symbol": "USDC"},
     "quoteToken": {"address": "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2", "symbol": "WETH"},
     "priceNative": "0.0003125", "liquidity": {"usd": 4000000}},
    {"chainId": "arbitrum", "dexId": "camelot",
     "baseToken": {"address": "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", "symbol": "WETH"},
     "quoteToken": {"address": "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", "symbol": "USDC"},
     "priceNative": "3010", "liquidity": {"usd": 1000000}},
    {"chainId": "ethereum", "dexId": "curve",
     "baseToken": {"address": "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", "symbol": "WETH"},
     "quoteToken": {"address": "0xdAC17F958D2ee523a2206206994597C13D831ec7", "symbol": "USDT"},
     "priceNative": "3000", "liquidity": {"usd": 1000000}},
    {"chainId": "ethereum", "dexId": "pancakeswap",
     "baseToken": {"address": "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", "symbol": "WETH"},
     "quoteToken": {"address": "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", "symbol": "USDC"},
     "priceNative": "3003", "liquidity": {"usd": 500}},
    {"chainId": "ethereum", "dexId": "balancer",
     "baseToken": {"address": "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", "symbol": "WETH"},
     "quoteToken": {"address": "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", "symbol": "USDC"},
     "priceNative": "not-a-number", "liquidity": {"usd": 1000000}}
  ]
}`

func newTestClient(url string) *Client {
	return NewClient(Config{
		BaseURL:         url,
		FeeBps:          map[string]float64{"uniswap_v3": 5, "sushiswap": 30},
		DefaultFeeBps:   25,
		MinLiquidityUSD: 10_000,
	}, nil, clock.NewFake(now), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestFetchQuotes(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, fixture)
	}))
	defer srv.Close()

	quotes, err := newTestClient(srv.URL).FetchQuotes(context.Background(), weth, usdc)
	require.NoError(t, err)
	assert.Equal(t, "/latest/dex/tokens/0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2", gotPath)

	require.Len(t, quotes, 2)
	uni := quotes["uniswap_v3"]
	assert.Equal(t, 3001.5, uni.Price, "deepest pool wins")
	assert.Equal(t, 25_000_000.0, uni.LiquidityUSD)
	assert.InDelta(t, 0.0005, uni.FeeRate, 1e-12)
	assert.Equal(t, domain.ProvenanceLive, uni.Provenance)
	assert.Equal(t, now, uni.Timestamp)

	sushi := quotes["sushiswap"]
	assert.InDelta(t, 3200, sushi.Price, 1e-9, "reversed pool is inverted")
	assert.InDelta(t, 0.003, sushi.FeeRate, 1e-12)
}

func TestFetchQuotesErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		isRL   bool
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, isRL: true},
		{name: "server error", status: http.StatusBadGateway, body: "bad gateway"},
		{name: "garbage body", status: http.StatusOK, body: "<html>"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			}))
			defer srv.Close()

			_, err := newTestClient(srv.URL).FetchQuotes(context.Background(), weth, usdc)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrQuoteSourceUnavailable)
			if tc.isRL {
				assert.ErrorIs(t, err, domain.ErrRateLimited)
			}
		})
	}
}

func TestFetchQuotesNeedsAddress(t *testing.T) {
	c := newTestClient("http://127.0.0.1:1")
	_, err := c.FetchQuotes(context.Background(), domain.TokenIdentity{Symbol: "WETH", ChainID: 1}, usdc)
	assert.ErrorIs(t, err, domain.ErrUnsupportedPair)
}

func TestVenueName(t *testing.T) {
	assert.Equal(t, "uniswap_v2", venueName(pair{DexID: "Uniswap", Labels: []string{"v2"}}))
	assert.Equal(t, "curve", venueName(pair{DexID: "curve", Labels: []string{"stable"}}))
	assert.Equal(t, "balancer", venueName(pair{DexID: "balancer"}))
}
