// Package dexscreener implements the live quote source on top of the
// DexScreener public API.
package dexscreener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/dexarb/internal/clock"
	"github.com/alanyoungcy/dexarb/internal/domain"
)

const defaultBaseURL = "https://api.dexscreener.com"

// Config configures the client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// FeeBps maps a venue (e.g. "uniswap_v3") or a bare dex id to its
	// swap fee in basis points.
	FeeBps        map[string]float64
	DefaultFeeBps float64
	// MinLiquidityUSD drops shallow pools.
	MinLiquidityUSD float64
}

// Client fetches per-venue quotes for a token pair.
type Client struct {
	baseURL    string
	cfg        Config
	httpClient *http.Client
	limiter    domain.RateLimiter
	clock      clock.Clock
	logger     *slog.Logger
}

// NewClient creates a client. limiter may be nil.
func NewClient(cfg Config, limiter domain.RateLimiter, clk clock.Clock, logger *slog.Logger) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if cfg.DefaultFeeBps <= 0 {
		cfg.DefaultFeeBps = 30
	}
	return &Client{
		baseURL:    base,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		clock:      clk,
		logger:     logger.With(slog.String("component", "dexscreener")),
	}
}

var _ domain.QuoteSource = (*Client)(nil)

// FetchQuotes returns the deepest pool per venue that trades base against
// quote on the tokens' chain. Prices are quote tokens per base token.
func (c *Client) FetchQuotes(ctx context.Context, base, quote domain.TokenIdentity) (map[string]domain.PriceQuote, error) {
	if strings.TrimSpace(base.Address) == "" {
		return nil, fmt.Errorf("dexscreener: %w: %s has no contract address", domain.ErrUnsupportedPair, base.DisplaySymbol())
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, "dexscreener"); err != nil {
			return nil, fmt.Errorf("dexscreener: rate limit wait: %w", err)
		}
	}

	body, err := c.getTokens(ctx, base.Key())
	if err != nil {
		return nil, err
	}

	chain := domain.NetworkName(base.ChainID)
	now := c.clock.Now()
	out := make(map[string]domain.PriceQuote)
	for _, p := range body.Pairs {
		if !strings.EqualFold(p.ChainID, chain) || p.Liquidity == nil {
			continue
		}
		if p.Liquidity.USD < c.cfg.MinLiquidityUSD {
			continue
		}
		price, ok := orientedPrice(p, base, quote)
		if !ok {
			continue
		}
		venue := venueName(p)
		if prev, seen := out[venue]; seen && prev.LiquidityUSD >= p.Liquidity.USD {
			continue
		}
		out[venue] = domain.PriceQuote{
			Venue:        venue,
			Price:        price,
			FeeRate:      c.feeRate(venue, p.DexID),
			LiquidityUSD: p.Liquidity.USD,
			Timestamp:    now,
			Provenance:   domain.ProvenanceLive,
		}
	}

	c.logger.DebugContext(ctx, "dexscreener quotes fetched",
		slog.String("pair", base.DisplaySymbol()+"/"+quote.DisplaySymbol()),
		slog.String("chain", chain),
		slog.Int("pairs", len(body.Pairs)),
		slog.Int("venues", len(out)),
	)
	return out, nil
}

func (c *Client) getTokens(ctx context.Context, address string) (*tokensResponse, error) {
	url := fmt.Sprintf("%s/latest/dex/tokens/%s", c.baseURL, address)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dexscreener: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dexscreener: %w: %w", domain.ErrQuoteSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("dexscreener: %w", errors.Join(domain.ErrQuoteSourceUnavailable, domain.ErrRateLimited))
	}
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("dexscreener: %w: status %d: %s", domain.ErrQuoteSourceUnavailable, resp.StatusCode, string(snippet))
	}

	var body tokensResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("dexscreener: %w: decode: %w", domain.ErrQuoteSourceUnavailable, err)
	}
	return &body, nil
}

func (c *Client) feeRate(venue, dexID string) float64 {
	if bps, ok := c.cfg.FeeBps[venue]; ok {
		return bps / 10_000
	}
	if bps, ok := c.cfg.FeeBps[dexID]; ok {
		return bps / 10_000
	}
	return c.cfg.DefaultFeeBps / 10_000
}

// orientedPrice returns quote-per-base for p, inverting pools listed the
// other way round.
func orientedPrice(p pair, base, quote domain.TokenIdentity) (float64, bool) {
	native, err := decimal.NewFromString(strings.TrimSpace(p.PriceNative))
	if err != nil || !native.IsPositive() {
		return 0, false
	}
	switch {
	case matches(p.BaseToken, base) && matches(p.QuoteToken, quote):
		return native.InexactFloat64(), true
	case matches(p.BaseToken, quote) && matches(p.QuoteToken, base):
		return decimal.NewFromInt(1).DivRound(native, 18).InexactFloat64(), true
	}
	return 0, false
}

func matches(t token, id domain.TokenIdentity) bool {
	if addr := strings.TrimSpace(id.Address); addr != "" {
		return strings.EqualFold(t.Address, addr)
	}
	return strings.EqualFold(t.Symbol, strings.TrimSpace(id.Symbol))
}

// venueName joins the dex id with its version label, e.g. "uniswap_v3".
func venueName(p pair) string {
	name := strings.ToLower(p.DexID)
	for _, l := range p.Labels {
		l = strings.ToLower(strings.TrimSpace(l))
		if strings.HasPrefix(l, "v") && len(l) <= 3 {
			return name + "_" + l
		}
	}
	return name
}
