// Package evm prices on-chain operations in USD using an EVM JSON-RPC node.
package evm

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// GasPricer is the subset of ethclient.Client used for gas pricing.
type GasPricer interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
}

// DefaultGasUnits are typical gas limits for a DEX swap and an ERC-20
// approval.
var DefaultGasUnits = map[domain.GasOperation]uint64{
	domain.GasSwap:     180_000,
	domain.GasApproval: 46_000,
}

// GasEstimator prices an operation as gas price x gas units x native token
// USD price. Networks without an RPC client, or whose node errors, are
// answered by the fallback estimator.
type GasEstimator struct {
	clients   map[string]GasPricer
	units     map[domain.GasOperation]uint64
	nativeUSD map[string]float64
	fallback  domain.GasEstimator
	logger    *slog.Logger
}

// NewGasEstimator creates an estimator over already-connected clients.
func NewGasEstimator(
	clients map[string]GasPricer,
	units map[domain.GasOperation]uint64,
	nativeUSD map[string]float64,
	fallback domain.GasEstimator,
	logger *slog.Logger,
) *GasEstimator {
	merged := make(map[domain.GasOperation]uint64, len(DefaultGasUnits))
	for op, u := range DefaultGasUnits {
		merged[op] = u
	}
	for op, u := range units {
		if u > 0 {
			merged[op] = u
		}
	}
	return &GasEstimator{
		clients:   clients,
		units:     merged,
		nativeUSD: nativeUSD,
		fallback:  fallback,
		logger:    logger.With(slog.String("component", "gas_estimator")),
	}
}

// Dial connects to each network's RPC URL. The returned cleanup closes
// every client.
func Dial(ctx context.Context, rpcURLs map[string]string) (map[string]GasPricer, func(), error) {
	clients := make(map[string]GasPricer, len(rpcURLs))
	var opened []*ethclient.Client
	cleanup := func() {
		for _, c := range opened {
			c.Close()
		}
	}
	for network, url := range rpcURLs {
		if strings.TrimSpace(url) == "" {
			continue
		}
		c, err := ethclient.DialContext(ctx, url)
		if err != nil {
			cleanup()
			return nil, func() {}, fmt.Errorf("evm: dial %s: %w", network, err)
		}
		opened = append(opened, c)
		clients[network] = c
	}
	return clients, cleanup, nil
}

var _ domain.GasEstimator = (*GasEstimator)(nil)

func (e *GasEstimator) EstimateGas(ctx context.Context, network string, op domain.GasOperation) (float64, error) {
	units, ok := e.units[op]
	if !ok {
		return 0, fmt.Errorf("evm: %w: unknown gas operation %q", domain.ErrInvalidInput, op)
	}
	client, ok := e.clients[network]
	native := e.nativeUSD[network]
	if !ok || native <= 0 {
		return e.fallbackEstimate(ctx, network, op, nil)
	}

	price, err := e.gasPrice(ctx, client)
	if err != nil {
		return e.fallbackEstimate(ctx, network, op, err)
	}
	wei := new(big.Int).Mul(price, new(big.Int).SetUint64(units))
	return weiToUSD(wei, native), nil
}

// gasPrice prefers base fee plus tip on EIP-1559 chains.
func (e *GasEstimator) gasPrice(ctx context.Context, c GasPricer) (*big.Int, error) {
	header, err := c.HeaderByNumber(ctx, nil)
	if err != nil || header == nil || header.BaseFee == nil {
		gp, err := c.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("suggest gas price: %w", err)
		}
		return gp, nil
	}
	tip, err := c.SuggestGasTipCap(ctx)
	if err != nil {
		tip = big.NewInt(1e9)
	}
	return new(big.Int).Add(header.BaseFee, tip), nil
}

func (e *GasEstimator) fallbackEstimate(ctx context.Context, network string, op domain.GasOperation, cause error) (float64, error) {
	if cause != nil {
		e.logger.WarnContext(ctx, "rpc gas price failed, using fallback",
			slog.String("network", network),
			slog.String("error", cause.Error()),
		)
	}
	if e.fallback == nil {
		if cause == nil {
			cause = fmt.Errorf("no rpc client for %s", network)
		}
		return 0, fmt.Errorf("evm: estimate %s on %s: %w", op, network, cause)
	}
	return e.fallback.EstimateGas(ctx, network, op)
}

var weiPerEther = new(big.Float).SetFloat64(1e18)

func weiToUSD(wei *big.Int, nativeUSD float64) float64 {
	eth := new(big.Float).Quo(new(big.Float).SetInt(wei), weiPerEther)
	usd, _ := new(big.Float).Mul(eth, big.NewFloat(nativeUSD)).Float64()
	return usd
}

// StaticEstimator answers from a fixed per-network USD table.
type StaticEstimator struct {
	mu    sync.RWMutex
	table map[string]map[domain.GasOperation]float64
}

// DefaultStaticGasUSD holds rough per-network costs.
var DefaultStaticGasUSD = map[string]map[domain.GasOperation]float64{
	"ethereum":  {domain.GasSwap: 8, domain.GasApproval: 2},
	"arbitrum":  {domain.GasSwap: 0.3, domain.GasApproval: 0.1},
	"optimism":  {domain.GasSwap: 0.2, domain.GasApproval: 0.05},
	"base":      {domain.GasSwap: 0.15, domain.GasApproval: 0.05},
	"polygon":   {domain.GasSwap: 0.05, domain.GasApproval: 0.01},
	"bsc":       {domain.GasSwap: 0.3, domain.GasApproval: 0.1},
	"avalanche": {domain.GasSwap: 0.4, domain.GasApproval: 0.1},
}

// NewStaticEstimator merges overrides (network -> op -> usd) over the
// default table.
func NewStaticEstimator(overrides map[string]map[domain.GasOperation]float64) *StaticEstimator {
	table := make(map[string]map[domain.GasOperation]float64, len(DefaultStaticGasUSD))
	for n, ops := range DefaultStaticGasUSD {
		table[n] = make(map[domain.GasOperation]float64, len(ops))
		for op, v := range ops {
			table[n][op] = v
		}
	}
	for n, ops := range overrides {
		if table[n] == nil {
			table[n] = make(map[domain.GasOperation]float64, len(ops))
		}
		for op, v := range ops {
			table[n][op] = v
		}
	}
	return &StaticEstimator{table: table}
}

var _ domain.GasEstimator = (*StaticEstimator)(nil)

func (s *StaticEstimator) EstimateGas(_ context.Context, network string, op domain.GasOperation) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ops, ok := s.table[network]
	if !ok {
		return 0, fmt.Errorf("evm: %w: no static gas table for %s", domain.ErrNotFound, network)
	}
	v, ok := ops[op]
	if !ok {
		return 0, fmt.Errorf("evm: %w: no static %s cost for %s", domain.ErrNotFound, op, network)
	}
	return v, nil
}
