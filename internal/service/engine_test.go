package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dexarb/internal/arbitrage"
	"github.com/alanyoungcy/dexarb/internal/clock"
	"github.com/alanyoungcy/dexarb/internal/domain"
	"github.com/alanyoungcy/dexarb/internal/pricing"
)

var (
	weth = domain.TokenIdentity{Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Symbol: "WETH", Decimals: 18, ChainID: 1}
	usdc = domain.TokenIdentity{Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Symbol: "USDC", Decimals: 6, ChainID: 1}
	t0   = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type stubQuotes struct {
	set    domain.QuoteSet
	err    error
	calls  int
	forced bool
}

func (s *stubQuotes) Get(_ context.Context, req pricing.QuoteRequest, force bool) (domain.QuoteSet, error) {
	s.calls++
	s.forced = force
	if s.err != nil {
		return domain.QuoteSet{}, s.err
	}
	set := s.set.Clone()
	set.Pair = req.Pair()
	return set, nil
}

type stubGas struct {
	swap, approval float64
	err            error
}

func (g stubGas) EstimateGas(_ context.Context, _ string, op domain.GasOperation) (float64, error) {
	if g.err != nil {
		return 0, g.err
	}
	if op == domain.GasApproval {
		return g.approval, nil
	}
	return g.swap, nil
}

func twoVenueSet(prov domain.Provenance) domain.QuoteSet {
	return domain.QuoteSet{
		Provenance: prov,
		FetchedAt:  t0,
		Quotes: map[string]domain.PriceQuote{
			"A": {Venue: "A", Price: 100, FeeRate: 0.003, LiquidityUSD: 1_000_000, GasEstimateUSD: 2, Provenance: prov},
			"B": {Venue: "B", Price: 102, FeeRate: 0.003, LiquidityUSD: 1_000_000, GasEstimateUSD: 3, Provenance: prov},
		},
	}
}

func newEngine(q QuoteProvider, gas domain.GasEstimator, cfg EngineConfig) *Engine {
	finder := arbitrage.NewFinder(arbitrage.NewFeeModel(arbitrage.DefaultPlatformFeeRate), arbitrage.NewLinearImpact(0))
	return NewEngine(q, finder, gas, cfg, clock.NewFake(t0), discardLogger(), nil)
}

func TestScanFindsScenarioOpportunity(t *testing.T) {
	q := &stubQuotes{set: twoVenueSet(domain.ProvenanceLive)}
	e := newEngine(q, stubGas{swap: 5}, EngineConfig{})

	res, err := e.Scan(context.Background(), weth, usdc, 1000, 0)
	require.NoError(t, err)
	require.Len(t, res.Opportunities, 1)
	assert.False(t, res.Degraded)
	assert.Equal(t, domain.ProvenanceLive, res.Provenance)
	assert.Equal(t, t0, res.ScannedAt)

	opp := res.Opportunities[0]
	assert.Equal(t, "WETH/USDC", opp.TokenPair)
	assert.Equal(t, "ethereum", opp.Network)
	assert.Equal(t, int64(1), opp.ChainID)
	assert.Equal(t, 5.0, opp.GasFee)
	assert.InDelta(t, 2.72, opp.NetProfit, 0.01)
	assert.Equal(t, domain.ConfidenceHigh, opp.Confidence)
}

func TestScanRejectsBadInputWithoutFetching(t *testing.T) {
	q := &stubQuotes{set: twoVenueSet(domain.ProvenanceLive)}
	e := newEngine(q, nil, EngineConfig{})

	_, err := e.Scan(context.Background(), weth, usdc, 0, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = e.Scan(context.Background(), domain.TokenIdentity{ChainID: 1}, usdc, 1000, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.True(t, IsClientError(err))
	assert.Zero(t, q.calls)
}

func TestScanInsufficientQuotes(t *testing.T) {
	set := twoVenueSet(domain.ProvenanceLive)
	delete(set.Quotes, "B")
	e := newEngine(&stubQuotes{set: set}, nil, EngineConfig{})

	_, err := e.Scan(context.Background(), weth, usdc, 1000, 0)
	assert.ErrorIs(t, err, domain.ErrInsufficientQuotes)
}

func TestScanPropagatesUnavailable(t *testing.T) {
	e := newEngine(&stubQuotes{err: domain.ErrQuoteSourceUnavailable}, nil, EngineConfig{})

	_, err := e.Scan(context.Background(), weth, usdc, 1000, 0)
	assert.ErrorIs(t, err, domain.ErrQuoteSourceUnavailable)
	assert.False(t, IsClientError(err))
}

func TestScanFlagsDegradedData(t *testing.T) {
	e := newEngine(&stubQuotes{set: twoVenueSet(domain.ProvenanceSynthetic)}, stubGas{swap: 5}, EngineConfig{})

	res, err := e.Scan(context.Background(), weth, usdc, 1000, 0)
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	require.Len(t, res.Opportunities, 1)
	assert.Equal(t, domain.ConfidenceLow, res.Opportunities[0].Confidence)
}

func TestScanGasFallbacks(t *testing.T) {
	t.Run("estimator error uses quote estimates", func(t *testing.T) {
		e := newEngine(&stubQuotes{set: twoVenueSet(domain.ProvenanceLive)}, stubGas{err: errors.New("rpc down")}, EngineConfig{})
		res, err := e.Scan(context.Background(), weth, usdc, 1000, 0)
		require.NoError(t, err)
		require.Len(t, res.Opportunities, 1)
		assert.Equal(t, 3.0, res.Opportunities[0].GasFee)
	})
	t.Run("approval gas included when configured", func(t *testing.T) {
		e := newEngine(&stubQuotes{set: twoVenueSet(domain.ProvenanceLive)}, stubGas{swap: 4, approval: 1}, EngineConfig{IncludeApprovalGas: true})
		res, err := e.Scan(context.Background(), weth, usdc, 1000, 0)
		require.NoError(t, err)
		require.Len(t, res.Opportunities, 1)
		assert.Equal(t, 5.0, res.Opportunities[0].GasFee)
	})
}

func TestScanWithForce(t *testing.T) {
	q := &stubQuotes{set: twoVenueSet(domain.ProvenanceLive)}
	e := newEngine(q, nil, EngineConfig{})

	_, err := e.ScanWith(context.Background(), ScanRequest{Base: weth, Quote: usdc, Amount: 1000, Force: true})
	require.NoError(t, err)
	assert.True(t, q.forced)
}

func TestEngineSimulate(t *testing.T) {
	e := newEngine(&stubQuotes{set: twoVenueSet(domain.ProvenanceLive)}, stubGas{swap: 5}, EngineConfig{})
	res, err := e.Scan(context.Background(), weth, usdc, 1000, 0)
	require.NoError(t, err)
	require.Len(t, res.Opportunities, 1)

	same, err := e.Simulate(res.Opportunities[0], 1000)
	require.NoError(t, err)
	assert.InDelta(t, res.Opportunities[0].NetProfit, same.NetProfit, 1e-9)

	_, err = e.Simulate(res.Opportunities[0], -1)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
