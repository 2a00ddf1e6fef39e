package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/alanyoungcy/dexarb/internal/arbitrage"
	"github.com/alanyoungcy/dexarb/internal/clock"
	"github.com/alanyoungcy/dexarb/internal/domain"
	"github.com/alanyoungcy/dexarb/internal/metrics"
	"github.com/alanyoungcy/dexarb/internal/pricing"
)

// QuoteProvider is the read side of the quote cache.
type QuoteProvider interface {
	Get(ctx context.Context, req pricing.QuoteRequest, force bool) (domain.QuoteSet, error)
}

// EngineConfig holds scan-wide settings.
type EngineConfig struct {
	// IncludeApprovalGas adds a token approval to every route's gas cost.
	IncludeApprovalGas bool
}

// ScanRequest describes one scan.
type ScanRequest struct {
	Base         domain.TokenIdentity
	Quote        domain.TokenIdentity
	Amount       float64
	MinProfitPct float64
	// Force bypasses a fresh cache entry.
	Force bool
}

// Engine is the entry point for scans and what-if simulations.
type Engine struct {
	quotes  QuoteProvider
	finder  *arbitrage.Finder
	gas     domain.GasEstimator
	cfg     EngineConfig
	clock   clock.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewEngine wires an engine. gas may be nil, in which case the quotes' own
// gas estimates are used.
func NewEngine(
	quotes QuoteProvider,
	finder *arbitrage.Finder,
	gas domain.GasEstimator,
	cfg EngineConfig,
	clk clock.Clock,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Engine {
	return &Engine{
		quotes:  quotes,
		finder:  finder,
		gas:     gas,
		cfg:     cfg,
		clock:   clk,
		logger:  logger.With(slog.String("component", "engine")),
		metrics: m,
	}
}

// Scan returns the ranked opportunities for base/quote. Finding nothing is
// an empty result, not an error.
func (e *Engine) Scan(ctx context.Context, base, quote domain.TokenIdentity, amount, minProfitPct float64) (domain.ScanResult, error) {
	return e.ScanWith(ctx, ScanRequest{Base: base, Quote: quote, Amount: amount, MinProfitPct: minProfitPct})
}

// ScanWith is Scan with the full request, including a forced refresh.
func (e *Engine) ScanWith(ctx context.Context, r ScanRequest) (domain.ScanResult, error) {
	start := e.clock.Now()
	req := pricing.QuoteRequest{Base: r.Base, Quote: r.Quote}
	pair := domain.NewPairKey(r.Base, r.Quote)

	res, err := e.scan(ctx, req, r)
	if err != nil {
		e.metrics.ScanFailed(pair.Label())
		return domain.ScanResult{}, err
	}

	best := 0.0
	if len(res.Opportunities) > 0 {
		best = res.Opportunities[0].NetProfitPct
	}
	e.metrics.ScanCompleted(pair.Label(), string(res.Provenance), e.clock.Now().Sub(start), len(res.Opportunities), best)
	e.logger.InfoContext(ctx, "engine: scan complete",
		slog.String("pair", pair.Label()),
		slog.String("provenance", string(res.Provenance)),
		slog.Int("venues", len(res.Quotes.Quotes)),
		slog.Int("opportunities", len(res.Opportunities)),
		slog.Float64("best_net_pct", best),
	)
	return res, nil
}

func (e *Engine) scan(ctx context.Context, req pricing.QuoteRequest, r ScanRequest) (domain.ScanResult, error) {
	if r.Amount <= 0 || math.IsNaN(r.Amount) || math.IsInf(r.Amount, 0) {
		return domain.ScanResult{}, fmt.Errorf("engine: scan: %w: investment amount %v", domain.ErrInvalidInput, r.Amount)
	}
	if err := req.Validate(); err != nil {
		return domain.ScanResult{}, fmt.Errorf("engine: scan: %w", err)
	}
	pair := req.Pair()

	set, err := e.quotes.Get(ctx, req, r.Force)
	if err != nil {
		return domain.ScanResult{}, fmt.Errorf("engine: scan %s: %w", pair.Label(), err)
	}

	valid, rejected := arbitrage.ValidQuotes(set.Quotes)
	for venue, verr := range rejected {
		e.logger.WarnContext(ctx, "engine: skipping invalid quote",
			slog.String("pair", pair.Label()),
			slog.String("venue", venue),
			slog.String("error", verr.Error()),
		)
	}

	network := domain.NetworkName(pair.ChainID)
	swapGas, approvalGas := e.estimateGas(ctx, network, valid)
	scannedAt := e.clock.Now()

	opps, err := e.finder.Find(valid, arbitrage.FindParams{
		TokenPair:              pair.Label(),
		InvestmentAmount:       r.Amount,
		MinProfitPct:           r.MinProfitPct,
		Network:                network,
		ChainID:                pair.ChainID,
		GasEstimateUSD:         swapGas,
		ApprovalGasEstimateUSD: approvalGas,
		ScannedAt:              scannedAt,
	})
	if err != nil {
		return domain.ScanResult{}, fmt.Errorf("engine: scan %s: %w", pair.Label(), err)
	}

	if set.Degraded() && len(opps) > 0 {
		e.logger.WarnContext(ctx, "engine: opportunities computed on degraded quotes",
			slog.String("pair", pair.Label()),
			slog.String("provenance", string(set.Provenance)),
			slog.Int("opportunities", len(opps)),
		)
	}

	return domain.ScanResult{
		Pair:          pair,
		Opportunities: opps,
		Provenance:    set.Provenance,
		Degraded:      set.Degraded(),
		Quotes:        set,
		ScannedAt:     scannedAt,
	}, nil
}

// estimateGas asks the estimator first and falls back to the highest
// per-venue estimate carried by the quotes.
func (e *Engine) estimateGas(ctx context.Context, network string, quotes map[string]domain.PriceQuote) (swap, approval float64) {
	fromQuotes := 0.0
	for _, q := range quotes {
		fromQuotes = math.Max(fromQuotes, q.GasEstimateUSD)
	}
	swap = fromQuotes
	if e.gas == nil {
		return swap, 0
	}

	if v, err := e.gas.EstimateGas(ctx, network, domain.GasSwap); err != nil {
		e.logger.WarnContext(ctx, "engine: swap gas estimate failed",
			slog.String("network", network),
			slog.String("error", err.Error()),
		)
	} else {
		swap = v
		e.metrics.GasEstimated(network, string(domain.GasSwap), v)
	}

	if e.cfg.IncludeApprovalGas {
		v, err := e.gas.EstimateGas(ctx, network, domain.GasApproval)
		if err != nil {
			e.logger.WarnContext(ctx, "engine: approval gas estimate failed",
				slog.String("network", network),
				slog.String("error", err.Error()),
			)
		} else {
			approval = v
			e.metrics.GasEstimated(network, string(domain.GasApproval), v)
		}
	}
	return swap, approval
}

// Simulate recomputes opp at a different investment amount without
// rescanning.
func (e *Engine) Simulate(opp domain.ArbitrageOpportunity, amount float64) (domain.ArbitrageOpportunity, error) {
	out, err := e.finder.Simulate(opp, amount, e.clock.Now())
	if err != nil {
		return domain.ArbitrageOpportunity{}, fmt.Errorf("engine: %w", err)
	}
	return out, nil
}

// IsClientError reports whether err stems from bad caller input rather than
// an upstream or internal failure.
func IsClientError(err error) bool {
	return errors.Is(err, domain.ErrInvalidInput) ||
		errors.Is(err, domain.ErrInvalidAmount) ||
		errors.Is(err, domain.ErrInvalidLiquidity)
}
