package domain

import "errors"

var (
	// Engine taxonomy.
	ErrInvalidInput           = errors.New("invalid input")
	ErrInsufficientQuotes     = errors.New("insufficient quotes")
	ErrQuoteSourceUnavailable = errors.New("quote source unavailable")
	ErrInvalidLiquidity       = errors.New("invalid liquidity")
	ErrInvalidAmount          = errors.New("invalid amount")
	// ErrUnsupportedPair means the source can never quote the pair as asked.
	// Retrying does not help.
	ErrUnsupportedPair = errors.New("pair not supported by quote source")

	// Infrastructure.
	ErrNotFound    = errors.New("not found")
	ErrRateLimited = errors.New("rate limited")
	ErrLockHeld    = errors.New("lock already held")
)
