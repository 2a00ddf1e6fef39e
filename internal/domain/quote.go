package domain

import (
	"fmt"
	"math"
	"time"
)

// Provenance tags where a quote came from so consumers can tell real signal
// from placeholder data.
type Provenance string

const (
	ProvenanceLive      Provenance = "live"
	ProvenanceFallback  Provenance = "fallback"
	ProvenanceSynthetic Provenance = "synthetic"
)

// rank orders provenances from strongest (live) to weakest (synthetic).
func (p Provenance) rank() int {
	switch p {
	case ProvenanceLive:
		return 0
	case ProvenanceFallback:
		return 1
	default:
		return 2
	}
}

// Weaker returns the less trustworthy of p and other.
func (p Provenance) Weaker(other Provenance) Provenance {
	if other.rank() > p.rank() {
		return other
	}
	return p
}

// PriceQuote is one venue's quote for a token pair. Price is expressed in
// quote tokens per base token.
type PriceQuote struct {
	Venue          string     `json:"venue"`
	Price          float64    `json:"price"`
	FeeRate        float64    `json:"fee_rate"`
	LiquidityUSD   float64    `json:"liquidity_usd"`
	GasEstimateUSD float64    `json:"gas_estimate_usd"`
	Timestamp      time.Time  `json:"timestamp"`
	Provenance     Provenance `json:"provenance"`
}

// Validate checks price > 0, fee rate in [0, 1) and liquidity >= 0.
func (q PriceQuote) Validate() error {
	switch {
	case q.Venue == "":
		return fmt.Errorf("%w: quote without venue", ErrInvalidInput)
	case math.IsNaN(q.Price) || q.Price <= 0 || math.IsInf(q.Price, 0):
		return fmt.Errorf("%w: venue %s price %v", ErrInvalidInput, q.Venue, q.Price)
	case q.FeeRate < 0 || q.FeeRate >= 1:
		return fmt.Errorf("%w: venue %s fee rate %v", ErrInvalidInput, q.Venue, q.FeeRate)
	case math.IsNaN(q.LiquidityUSD) || q.LiquidityUSD < 0:
		return fmt.Errorf("%w: venue %s liquidity %v", ErrInvalidInput, q.Venue, q.LiquidityUSD)
	}
	return nil
}

// QuoteSet is the full set of venue quotes for one pair from one refresh.
// It is always replaced as a whole.
type QuoteSet struct {
	Pair       PairKey               `json:"pair"`
	Quotes     map[string]PriceQuote `json:"quotes"`
	Provenance Provenance            `json:"provenance"`
	FetchedAt  time.Time             `json:"fetched_at"`
}

// Clone returns a copy whose quote map can be handed out without exposing
// the original.
func (s QuoteSet) Clone() QuoteSet {
	out := s
	out.Quotes = make(map[string]PriceQuote, len(s.Quotes))
	for k, v := range s.Quotes {
		out.Quotes[k] = v
	}
	return out
}

// Degraded reports whether the set is not backed by live data.
func (s QuoteSet) Degraded() bool {
	return s.Provenance != ProvenanceLive
}
