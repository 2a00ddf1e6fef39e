package arbitrage

import (
	"fmt"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// DefaultPlatformFeeRate is charged on the gross investment of every trade.
const DefaultPlatformFeeRate = 0.005

// FeeModel prices the costs of one buy-then-sell round trip. It is a value
// type with no state beyond its platform rate.
type FeeModel struct {
	PlatformFeeRate float64
}

// NewFeeModel returns a fee model with the given platform rate. A negative
// rate falls back to DefaultPlatformFeeRate.
func NewFeeModel(platformFeeRate float64) FeeModel {
	if platformFeeRate < 0 {
		platformFeeRate = DefaultPlatformFeeRate
	}
	return FeeModel{PlatformFeeRate: platformFeeRate}
}

// TradingFees charges each venue its own rate: the buy venue on the amount
// invested, the sell venue on the notional received when selling.
func (m FeeModel) TradingFees(amount, sellNotional float64, buy, sell domain.PriceQuote) (float64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("trading fees: %w: %v", domain.ErrInvalidAmount, amount)
	}
	if sellNotional < 0 {
		return 0, fmt.Errorf("trading fees: %w: sell notional %v", domain.ErrInvalidAmount, sellNotional)
	}
	return amount*buy.FeeRate + sellNotional*sell.FeeRate, nil
}

// PlatformFee is a flat percentage of the gross investment.
func (m FeeModel) PlatformFee(amount float64) (float64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("platform fee: %w: %v", domain.ErrInvalidAmount, amount)
	}
	return amount * m.PlatformFeeRate, nil
}

// GasFee sums the swap cost and, when the route needs it, a token approval.
func (m FeeModel) GasFee(swapUSD, approvalUSD float64) float64 {
	gas := 0.0
	if swapUSD > 0 {
		gas += swapUSD
	}
	if approvalUSD > 0 {
		gas += approvalUSD
	}
	return gas
}
