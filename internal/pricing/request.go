// Package pricing aggregates venue quotes behind a time-boxed cache with
// request coalescing and a live, historical, synthetic fallback chain.
package pricing

import (
	"fmt"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// QuoteRequest names the pair to quote.
type QuoteRequest struct {
	Base  domain.TokenIdentity `json:"base"`
	Quote domain.TokenIdentity `json:"quote"`
}

// Validate checks both tokens and that they form a real pair on one chain.
func (r QuoteRequest) Validate() error {
	if err := r.Base.Validate(); err != nil {
		return fmt.Errorf("base token: %w", err)
	}
	if err := r.Quote.Validate(); err != nil {
		return fmt.Errorf("quote token: %w", err)
	}
	if r.Base.ChainID != r.Quote.ChainID {
		return fmt.Errorf("%w: tokens on different chains (%d, %d)",
			domain.ErrInvalidInput, r.Base.ChainID, r.Quote.ChainID)
	}
	if r.Base.Key() == r.Quote.Key() {
		return fmt.Errorf("%w: base and quote are the same token", domain.ErrInvalidInput)
	}
	return nil
}

// Pair returns the cache key for the request.
func (r QuoteRequest) Pair() domain.PairKey {
	return domain.NewPairKey(r.Base, r.Quote)
}
