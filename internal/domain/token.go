package domain

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// TokenIdentity identifies an ERC-20 style token on a given chain. It is
// supplied by the caller and never mutated by the engine.
type TokenIdentity struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
	ChainID  int64  `json:"chain_id"`
}

// Validate reports whether the token carries enough information to be
// quoted: an address or a symbol, a well-formed address when one is given,
// and a positive chain ID.
func (t TokenIdentity) Validate() error {
	addr := strings.TrimSpace(t.Address)
	sym := strings.TrimSpace(t.Symbol)
	if addr == "" && sym == "" {
		return fmt.Errorf("%w: token needs an address or a symbol", ErrInvalidInput)
	}
	if addr != "" && !common.IsHexAddress(addr) {
		return fmt.Errorf("%w: malformed token address %q", ErrInvalidInput, addr)
	}
	if t.ChainID <= 0 {
		return fmt.Errorf("%w: chain id must be positive, got %d", ErrInvalidInput, t.ChainID)
	}
	return nil
}

// Key returns the identifier used in cache keys: the lower-cased address
// when present, the upper-cased symbol otherwise.
func (t TokenIdentity) Key() string {
	if addr := strings.TrimSpace(t.Address); addr != "" {
		return strings.ToLower(common.HexToAddress(addr).Hex())
	}
	return strings.ToUpper(strings.TrimSpace(t.Symbol))
}

// DisplaySymbol returns the symbol, or a shortened address when the symbol
// is unknown.
func (t TokenIdentity) DisplaySymbol() string {
	if sym := strings.TrimSpace(t.Symbol); sym != "" {
		return strings.ToUpper(sym)
	}
	addr := t.Key()
	if len(addr) > 10 {
		return addr[:6] + "…" + addr[len(addr)-4:]
	}
	return addr
}

// PairKey is the cache key for a token pair on one chain.
type PairKey struct {
	Base    string `json:"base"`
	Quote   string `json:"quote"`
	ChainID int64  `json:"chain_id"`
	Name    string `json:"label"`
}

// NewPairKey builds the key for base/quote. Both tokens must be on the same
// chain; callers validate that beforehand.
func NewPairKey(base, quote TokenIdentity) PairKey {
	return PairKey{
		Base:    base.Key(),
		Quote:   quote.Key(),
		ChainID: base.ChainID,
		Name:    base.DisplaySymbol() + "/" + quote.DisplaySymbol(),
	}
}

// String renders the key as "chain:base/quote".
func (k PairKey) String() string {
	return strconv.FormatInt(k.ChainID, 10) + ":" + k.Base + "/" + k.Quote
}

// Label returns the human token pair label, e.g. "WETH/USDC".
func (k PairKey) Label() string {
	if k.Name != "" {
		return k.Name
	}
	return k.Base + "/" + k.Quote
}

var networkNames = map[int64]string{
	1:     "ethereum",
	10:    "optimism",
	56:    "bsc",
	137:   "polygon",
	8453:  "base",
	42161: "arbitrum",
	43114: "avalanche",
}

// NetworkName maps a chain ID to the network name used by gas estimation
// and quote sources. Unknown chains render as "chain-<id>".
func NetworkName(chainID int64) string {
	if n, ok := networkNames[chainID]; ok {
		return n
	}
	return "chain-" + strconv.FormatInt(chainID, 10)
}
