package domain

import "context"

// QuoteSource fetches live venue quotes for a pair. The result is keyed by
// venue name.
type QuoteSource interface {
	FetchQuotes(ctx context.Context, base, quote TokenIdentity) (map[string]PriceQuote, error)
}

// GasOperation names the on-chain operation being priced.
type GasOperation string

const (
	GasSwap     GasOperation = "swap"
	GasApproval GasOperation = "approval"
)

// GasEstimator returns the USD cost of an operation on a network.
type GasEstimator interface {
	EstimateGas(ctx context.Context, network string, op GasOperation) (float64, error)
}
