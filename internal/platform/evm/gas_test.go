package evm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

type fakePricer struct {
	baseFee  *big.Int
	tip      *big.Int
	gasPrice *big.Int
	err      error
}

func (f *fakePricer) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &types.Header{BaseFee: f.baseFee}, nil
}

func (f *fakePricer) SuggestGasPrice(context.Context) (*big.Int, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.gasPrice, nil
}

func (f *fakePricer) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return f.tip, nil
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestGasEstimatorEIP1559(t *testing.T) {
	pricer := &fakePricer{baseFee: big.NewInt(18e9), tip: big.NewInt(2e9)}
	e := NewGasEstimator(
		map[string]GasPricer{"ethereum": pricer},
		map[domain.GasOperation]uint64{domain.GasSwap: 150_000},
		map[string]float64{"ethereum": 3000},
		nil, discard(),
	)

	usd, err := e.EstimateGas(context.Background(), "ethereum", domain.GasSwap)
	require.NoError(t, err)
	// 20 gwei * 150k gas = 0.003 ETH at $3000.
	assert.InDelta(t, 9.0, usd, 1e-9)

	usd, err = e.EstimateGas(context.Background(), "ethereum", domain.GasApproval)
	require.NoError(t, err)
	assert.InDelta(t, 20e9*46_000/1e18*3000, usd, 1e-9)
}

func TestGasEstimatorLegacyGasPrice(t *testing.T) {
	pricer := &fakePricer{gasPrice: big.NewInt(30e9)}
	e := NewGasEstimator(
		map[string]GasPricer{"bsc": pricer},
		map[domain.GasOperation]uint64{domain.GasSwap: 100_000},
		map[string]float64{"bsc": 600},
		nil, discard(),
	)
	usd, err := e.EstimateGas(context.Background(), "bsc", domain.GasSwap)
	require.NoError(t, err)
	assert.InDelta(t, 1.8, usd, 1e-9)
}

func TestGasEstimatorFallsBack(t *testing.T) {
	static := NewStaticEstimator(map[string]map[domain.GasOperation]float64{
		"ethereum": {domain.GasSwap: 4.5},
	})
	e := NewGasEstimator(
		map[string]GasPricer{"ethereum": &fakePricer{err: errors.New("rpc down")}},
		nil,
		map[string]float64{"ethereum": 3000},
		static, discard(),
	)

	usd, err := e.EstimateGas(context.Background(), "ethereum", domain.GasSwap)
	require.NoError(t, err)
	assert.Equal(t, 4.5, usd)

	// No client configured for arbitrum.
	usd, err = e.EstimateGas(context.Background(), "arbitrum", domain.GasSwap)
	require.NoError(t, err)
	assert.Equal(t, DefaultStaticGasUSD["arbitrum"][domain.GasSwap], usd)
}

func TestGasEstimatorErrors(t *testing.T) {
	e := NewGasEstimator(nil, nil, nil, nil, discard())

	_, err := e.EstimateGas(context.Background(), "ethereum", domain.GasOperation("bridge"))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = e.EstimateGas(context.Background(), "ethereum", domain.GasSwap)
	assert.Error(t, err)
}

func TestStaticEstimator(t *testing.T) {
	s := NewStaticEstimator(map[string]map[domain.GasOperation]float64{
		"linea": {domain.GasSwap: 0.2},
	})

	v, err := s.EstimateGas(context.Background(), "ethereum", domain.GasApproval)
	require.NoError(t, err)
	assert.Equal(t, 2.0, v)

	v, err = s.EstimateGas(context.Background(), "linea", domain.GasSwap)
	require.NoError(t, err)
	assert.Equal(t, 0.2, v)

	_, err = s.EstimateGas(context.Background(), "linea", domain.GasApproval)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.EstimateGas(context.Background(), "fantom", domain.GasSwap)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestWeiToUSD(t *testing.T) {
	wei, _ := new(big.Int).SetString("1000000000000000000", 10)
	assert.InDelta(t, 2500.0, weiToUSD(wei, 2500), 1e-9)
}
