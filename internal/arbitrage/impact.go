package arbitrage

import (
	"fmt"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// Impact is the outcome of applying a price impact model to both legs.
type Impact struct {
	AdjustedBuyPrice  float64
	AdjustedSellPrice float64
	BuyImpactPct      float64
	SellImpactPct     float64
}

// ImpactModel turns nominal venue prices into slippage-adjusted execution
// prices. Impact must never decrease as the trade grows against fixed
// liquidity.
type ImpactModel interface {
	Name() string
	Adjust(buyPrice, sellPrice, buyLiquidity, sellLiquidity, amount float64) (Impact, error)
}

// maxSellImpactPct keeps the adjusted sell price strictly positive.
const maxSellImpactPct = 99.99

// DefaultImpactCoefficient makes a trade of 1% of liquidity cost 0.6%.
const DefaultImpactCoefficient = 0.6

// LinearImpact grows impact linearly with the trade's share of the pool.
type LinearImpact struct {
	Coefficient float64
}

// NewLinearImpact returns a linear model. A non-positive coefficient uses
// DefaultImpactCoefficient.
func NewLinearImpact(coefficient float64) LinearImpact {
	if coefficient <= 0 {
		coefficient = DefaultImpactCoefficient
	}
	return LinearImpact{Coefficient: coefficient}
}

func (LinearImpact) Name() string { return "linear" }

func (m LinearImpact) Adjust(buyPrice, sellPrice, buyLiquidity, sellLiquidity, amount float64) (Impact, error) {
	return adjust(buyPrice, sellPrice, buyLiquidity, sellLiquidity, amount, func(liq float64) float64 {
		return amount / liq * m.Coefficient * 100
	})
}

// ConstantProductImpact treats each venue as an x*y=k pool holding half its
// USD liquidity on each side.
type ConstantProductImpact struct{}

func (ConstantProductImpact) Name() string { return "constant_product" }

func (ConstantProductImpact) Adjust(buyPrice, sellPrice, buyLiquidity, sellLiquidity, amount float64) (Impact, error) {
	return adjust(buyPrice, sellPrice, buyLiquidity, sellLiquidity, amount, func(liq float64) float64 {
		reserve := liq / 2
		return amount / (reserve + amount) * 100
	})
}

func adjust(buyPrice, sellPrice, buyLiquidity, sellLiquidity, amount float64, impactPct func(liq float64) float64) (Impact, error) {
	if amount <= 0 {
		return Impact{}, fmt.Errorf("price impact: %w: %v", domain.ErrInvalidAmount, amount)
	}
	if buyLiquidity <= 0 || sellLiquidity <= 0 {
		return Impact{}, fmt.Errorf("price impact: %w: buy %v sell %v",
			domain.ErrInvalidLiquidity, buyLiquidity, sellLiquidity)
	}
	if buyPrice <= 0 || sellPrice <= 0 {
		return Impact{}, fmt.Errorf("price impact: %w: buy price %v sell price %v",
			domain.ErrInvalidInput, buyPrice, sellPrice)
	}

	buyImpact := impactPct(buyLiquidity)
	sellImpact := impactPct(sellLiquidity)
	if sellImpact > maxSellImpactPct {
		sellImpact = maxSellImpactPct
	}
	return Impact{
		AdjustedBuyPrice:  buyPrice * (1 + buyImpact/100),
		AdjustedSellPrice: sellPrice * (1 - sellImpact/100),
		BuyImpactPct:      buyImpact,
		SellImpactPct:     sellImpact,
	}, nil
}
