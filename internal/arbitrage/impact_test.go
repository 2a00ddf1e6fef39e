package arbitrage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

func models() []ImpactModel {
	return []ImpactModel{NewLinearImpact(DefaultImpactCoefficient), ConstantProductImpact{}}
}

func TestImpactMonotonicInAmount(t *testing.T) {
	for _, m := range models() {
		t.Run(m.Name(), func(t *testing.T) {
			prev := Impact{}
			for _, amount := range []float64{1, 10, 100, 1_000, 10_000, 100_000, 1_000_000, 10_000_000} {
				imp, err := m.Adjust(100, 102, 1_000_000, 500_000, amount)
				require.NoError(t, err)
				assert.GreaterOrEqual(t, imp.BuyImpactPct, prev.BuyImpactPct)
				assert.GreaterOrEqual(t, imp.SellImpactPct, prev.SellImpactPct)
				assert.Greater(t, imp.AdjustedBuyPrice, 100.0)
				assert.Less(t, imp.AdjustedSellPrice, 102.0)
				assert.Greater(t, imp.AdjustedSellPrice, 0.0)
				prev = imp
			}
		})
	}
}

func TestImpactVanishesWithDeepLiquidity(t *testing.T) {
	for _, m := range models() {
		imp, err := m.Adjust(100, 102, 1e15, 1e15, 1000)
		require.NoError(t, err)
		assert.InDelta(t, 0, imp.BuyImpactPct, 1e-6, m.Name())
		assert.InDelta(t, 0, imp.SellImpactPct, 1e-6, m.Name())
	}
}

func TestImpactErrors(t *testing.T) {
	for _, m := range models() {
		_, err := m.Adjust(100, 102, 0, 1000, 10)
		assert.ErrorIs(t, err, domain.ErrInvalidLiquidity, m.Name())
		_, err = m.Adjust(100, 102, 1000, -1, 10)
		assert.ErrorIs(t, err, domain.ErrInvalidLiquidity, m.Name())
		_, err = m.Adjust(100, 102, 1000, 1000, 0)
		assert.ErrorIs(t, err, domain.ErrInvalidAmount, m.Name())
	}
}

func TestLinearImpactOnePercentOfLiquidity(t *testing.T) {
	imp, err := NewLinearImpact(0).Adjust(100, 100, 100_000, 100_000, 1_000)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, imp.BuyImpactPct, 1e-12)
	assert.InDelta(t, 100.6, imp.AdjustedBuyPrice, 1e-9)
	assert.InDelta(t, 99.4, imp.AdjustedSellPrice, 1e-9)
}

func TestLinearSellImpactCapped(t *testing.T) {
	imp, err := NewLinearImpact(DefaultImpactCoefficient).Adjust(100, 102, 10, 10, 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, maxSellImpactPct, imp.SellImpactPct)
	assert.Greater(t, imp.AdjustedSellPrice, 0.0)
}

func TestImpactRegistry(t *testing.T) {
	r := NewImpactRegistry(0.8)
	assert.Equal(t, []string{"constant_product", "linear"}, r.List())

	m, err := r.Get("linear")
	require.NoError(t, err)
	assert.Equal(t, 0.8, m.(LinearImpact).Coefficient)

	_, err = r.Get("nope")
	assert.Error(t, err)
}
