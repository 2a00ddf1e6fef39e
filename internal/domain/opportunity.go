package domain

import "time"

// Confidence is the caller-facing trust level of an opportunity.
type Confidence string

const (
	ConfidenceHigh Confidence = "high"
	ConfidenceLow  Confidence = "low"
)

// ConfidenceFor maps the weakest leg provenance to a confidence level.
func ConfidenceFor(p Provenance) Confidence {
	if p == ProvenanceLive {
		return ConfidenceHigh
	}
	return ConfidenceLow
}

// ArbitrageOpportunity is a fee-adjusted buy-on-one, sell-on-another
// candidate. It is built in one piece by the finder and never patched.
type ArbitrageOpportunity struct {
	ID        string `json:"id"`
	TokenPair string `json:"token_pair"`
	BuyVenue  string `json:"buy_venue"`
	SellVenue string `json:"sell_venue"`

	BuyPrice           float64 `json:"buy_price"`
	SellPrice          float64 `json:"sell_price"`
	AdjustedBuyPrice   float64 `json:"adjusted_buy_price"`
	AdjustedSellPrice  float64 `json:"adjusted_sell_price"`
	BuyPriceImpactPct  float64 `json:"buy_price_impact_pct"`
	SellPriceImpactPct float64 `json:"sell_price_impact_pct"`

	TradingFees  float64 `json:"trading_fees"`
	PlatformFee  float64 `json:"platform_fee"`
	GasFee       float64 `json:"gas_fee"`
	GrossProfit  float64 `json:"gross_profit"`
	NetProfit    float64 `json:"net_profit"`
	NetProfitPct float64 `json:"net_profit_pct"`

	InvestmentAmount float64 `json:"investment_amount"`
	LiquidityUSD     float64 `json:"liquidity_usd"`

	// Inputs kept so the opportunity can be re-simulated without a rescan.
	BuyFeeRate       float64 `json:"buy_fee_rate"`
	SellFeeRate      float64 `json:"sell_fee_rate"`
	BuyLiquidityUSD  float64 `json:"buy_liquidity_usd"`
	SellLiquidityUSD float64 `json:"sell_liquidity_usd"`

	Network    string     `json:"network"`
	ChainID    int64      `json:"chain_id"`
	Provenance Provenance `json:"provenance"`
	Confidence Confidence `json:"confidence"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Route returns the "buy→sell" name used for tie-breaking and dedup.
func (o ArbitrageOpportunity) Route() string {
	return o.BuyVenue + "→" + o.SellVenue
}

// ScanResult is the outcome of one engine scan.
type ScanResult struct {
	Pair          PairKey                `json:"pair"`
	Opportunities []ArbitrageOpportunity `json:"opportunities"`
	Provenance    Provenance             `json:"provenance"`
	Degraded      bool                   `json:"degraded"`
	Quotes        QuoteSet               `json:"quotes"`
	ScannedAt     time.Time              `json:"scanned_at"`
}

// ScanReport is what the orchestrator publishes after each scan attempt.
type ScanReport struct {
	ScanResult
	LastScanned         time.Time `json:"last_scanned"`
	Generation          uint64    `json:"generation"`
	Err                 string    `json:"error,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
}
