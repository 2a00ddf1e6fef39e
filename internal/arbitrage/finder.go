// Package arbitrage turns per-venue price quotes into ranked, fee-adjusted
// cross-venue opportunities.
package arbitrage

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// opportunityNamespace scopes the name-based opportunity IDs.
var opportunityNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("dexarb/opportunity"))

// FindParams carries everything about one scan that is not a quote.
type FindParams struct {
	TokenPair              string
	InvestmentAmount       float64
	MinProfitPct           float64
	Network                string
	ChainID                int64
	GasEstimateUSD         float64
	ApprovalGasEstimateUSD float64
	ScannedAt              time.Time
}

// Finder enumerates every ordered venue pair and keeps the profitable ones.
// It has no side effects.
type Finder struct {
	fees   FeeModel
	impact ImpactModel
}

// NewFinder creates a finder from its two pricing models.
func NewFinder(fees FeeModel, impact ImpactModel) *Finder {
	return &Finder{fees: fees, impact: impact}
}

// Impact returns the configured impact model.
func (f *Finder) Impact() ImpactModel { return f.impact }

// ValidQuotes splits quotes into those that pass PriceQuote.Validate and
// the reasons the rest were rejected.
func ValidQuotes(quotes map[string]domain.PriceQuote) (map[string]domain.PriceQuote, map[string]error) {
	valid := make(map[string]domain.PriceQuote, len(quotes))
	var rejected map[string]error
	for venue, q := range quotes {
		if q.Venue == "" {
			q.Venue = venue
		}
		if err := q.Validate(); err != nil {
			if rejected == nil {
				rejected = make(map[string]error)
			}
			rejected[venue] = err
			continue
		}
		valid[venue] = q
	}
	return valid, rejected
}

// Find returns the opportunities worth at least MinProfitPct, best first.
// Fewer than two usable quotes is ErrInsufficientQuotes; no profitable
// route is an empty slice.
func (f *Finder) Find(quotes map[string]domain.PriceQuote, p FindParams) ([]domain.ArbitrageOpportunity, error) {
	if p.InvestmentAmount <= 0 || math.IsNaN(p.InvestmentAmount) {
		return nil, fmt.Errorf("finder: %w: investment %v", domain.ErrInvalidAmount, p.InvestmentAmount)
	}
	valid, _ := ValidQuotes(quotes)
	if len(valid) < 2 {
		return nil, fmt.Errorf("finder: %w: %d usable venue(s)", domain.ErrInsufficientQuotes, len(valid))
	}

	venues := make([]string, 0, len(valid))
	for v := range valid {
		venues = append(venues, v)
	}
	sort.Strings(venues)

	opps := make([]domain.ArbitrageOpportunity, 0)
	for _, bv := range venues {
		for _, sv := range venues {
			if bv == sv {
				continue
			}
			buy, sell := valid[bv], valid[sv]
			if !(sell.Price > buy.Price) {
				continue
			}
			opp, err := f.evaluate(buy, sell, p.InvestmentAmount, p)
			if err != nil {
				// Zero liquidity makes a route unpriceable, not the scan.
				continue
			}
			if opp.NetProfitPct >= p.MinProfitPct && opp.NetProfit > 0 {
				opps = append(opps, opp)
			}
		}
	}

	SortOpportunities(opps)
	return opps, nil
}

// Simulate recomputes opp for a different trade size using the same models
// and the legs' original prices, fee rates and liquidity. No profit filter
// is applied.
func (f *Finder) Simulate(opp domain.ArbitrageOpportunity, amount float64, at time.Time) (domain.ArbitrageOpportunity, error) {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return domain.ArbitrageOpportunity{}, fmt.Errorf("simulate: %w: amount %v", domain.ErrInvalidInput, amount)
	}
	buy := domain.PriceQuote{
		Venue:        opp.BuyVenue,
		Price:        opp.BuyPrice,
		FeeRate:      opp.BuyFeeRate,
		LiquidityUSD: opp.BuyLiquidityUSD,
		Provenance:   opp.Provenance,
	}
	sell := domain.PriceQuote{
		Venue:        opp.SellVenue,
		Price:        opp.SellPrice,
		FeeRate:      opp.SellFeeRate,
		LiquidityUSD: opp.SellLiquidityUSD,
		Provenance:   opp.Provenance,
	}
	p := FindParams{
		TokenPair:      opp.TokenPair,
		Network:        opp.Network,
		ChainID:        opp.ChainID,
		GasEstimateUSD: opp.GasFee,
		ScannedAt:      at,
	}
	out, err := f.evaluate(buy, sell, amount, p)
	if err != nil {
		return domain.ArbitrageOpportunity{}, fmt.Errorf("simulate: %w", err)
	}
	return out, nil
}

func (f *Finder) evaluate(buy, sell domain.PriceQuote, amount float64, p FindParams) (domain.ArbitrageOpportunity, error) {
	imp, err := f.impact.Adjust(buy.Price, sell.Price, buy.LiquidityUSD, sell.LiquidityUSD, amount)
	if err != nil {
		return domain.ArbitrageOpportunity{}, err
	}

	tokensBought := amount / imp.AdjustedBuyPrice
	grossProceeds := tokensBought * imp.AdjustedSellPrice
	gross := grossProceeds - amount

	trading, err := f.fees.TradingFees(amount, grossProceeds, buy, sell)
	if err != nil {
		return domain.ArbitrageOpportunity{}, err
	}
	platform, err := f.fees.PlatformFee(amount)
	if err != nil {
		return domain.ArbitrageOpportunity{}, err
	}
	gas := f.fees.GasFee(p.GasEstimateUSD, p.ApprovalGasEstimateUSD)

	net := gross - trading - platform - gas
	prov := buy.Provenance.Weaker(sell.Provenance)
	if prov == "" {
		prov = domain.ProvenanceSynthetic
	}

	return domain.ArbitrageOpportunity{
		ID:                 OpportunityID(p.TokenPair, buy.Venue, sell.Venue, p.ScannedAt),
		TokenPair:          p.TokenPair,
		BuyVenue:           buy.Venue,
		SellVenue:          sell.Venue,
		BuyPrice:           buy.Price,
		SellPrice:          sell.Price,
		AdjustedBuyPrice:   imp.AdjustedBuyPrice,
		AdjustedSellPrice:  imp.AdjustedSellPrice,
		BuyPriceImpactPct:  imp.BuyImpactPct,
		SellPriceImpactPct: imp.SellImpactPct,
		TradingFees:        trading,
		PlatformFee:        platform,
		GasFee:             gas,
		GrossProfit:        gross,
		NetProfit:          net,
		NetProfitPct:       net / amount * 100,
		InvestmentAmount:   amount,
		LiquidityUSD:       math.Min(buy.LiquidityUSD, sell.LiquidityUSD),
		BuyFeeRate:         buy.FeeRate,
		SellFeeRate:        sell.FeeRate,
		BuyLiquidityUSD:    buy.LiquidityUSD,
		SellLiquidityUSD:   sell.LiquidityUSD,
		Network:            p.Network,
		ChainID:            p.ChainID,
		Provenance:         prov,
		Confidence:         domain.ConfidenceFor(prov),
		CreatedAt:          p.ScannedAt,
	}, nil
}

// SortOpportunities orders by net profit percentage, then absolute net
// profit, then route name, so equal inputs always rank the same way.
func SortOpportunities(opps []domain.ArbitrageOpportunity) {
	sort.SliceStable(opps, func(i, j int) bool {
		a, b := opps[i], opps[j]
		if a.NetProfitPct != b.NetProfitPct {
			return a.NetProfitPct > b.NetProfitPct
		}
		if a.NetProfit != b.NetProfit {
			return a.NetProfit > b.NetProfit
		}
		return a.Route() < b.Route()
	})
}

// OpportunityID derives a stable UUIDv5 from the route and the scan time.
func OpportunityID(pair, buyVenue, sellVenue string, scannedAt time.Time) string {
	name := pair + "|" + buyVenue + "|" + sellVenue + "|" + strconv.FormatInt(scannedAt.UnixNano(), 10)
	return uuid.NewSHA1(opportunityNamespace, []byte(name)).String()
}
