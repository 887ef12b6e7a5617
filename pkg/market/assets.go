package market

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrUnknownAsset is returned for symbols missing from an Assets table.
var ErrUnknownAsset = errors.New("market: unknown asset")

// Asset describes a token on the ledger.
type Asset struct {
	Symbol   string `yaml:"symbol" json:"symbol"`
	Mint     string `yaml:"mint" json:"mint"`
	Decimals int32  `yaml:"decimals" json:"decimals"`
}

// Assets indexes assets by upper-case symbol.
type Assets map[string]Asset

// DefaultAssets covers the pairs the bot trades out of the box.
func DefaultAssets() Assets {
	return Assets{
		"SOL":  {Symbol: "SOL", Mint: "So11111111111111111111111111111111111111112", Decimals: 9},
		"USDC": {Symbol: "USDC", Mint: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Decimals: 6},
		"USDT": {Symbol: "USDT", Mint: "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB", Decimals: 6},
	}
}

// Merge returns a copy of a with extra entries added or replaced.
func (a Assets) Merge(extra []Asset) Assets {
	out := make(Assets, len(a)+len(extra))
	for k, v := range a {
		out[k] = v
	}
	for _, as := range extra {
		sym := strings.ToUpper(strings.TrimSpace(as.Symbol))
		if sym == "" {
			continue
		}
		as.Symbol = sym
		out[sym] = as
	}
	return out
}

// Lookup finds symbol case-insensitively.
func (a Assets) Lookup(symbol string) (Asset, error) {
	as, ok := a[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return Asset{}, fmt.Errorf("%w: %q", ErrUnknownAsset, symbol)
	}
	return as, nil
}

// BySymbolOrMint resolves either a symbol or a mint address.
func (a Assets) BySymbolOrMint(id string) (Asset, error) {
	if as, err := a.Lookup(id); err == nil {
		return as, nil
	}
	for _, as := range a {
		if as.Mint == id {
			return as, nil
		}
	}
	return Asset{}, fmt.Errorf("%w: %q", ErrUnknownAsset, id)
}

// ToAtomic converts a human amount into integer units, rounding down.
func (as Asset) ToAtomic(amount decimal.Decimal) decimal.Decimal {
	return amount.Shift(as.Decimals).Floor()
}

// FromAtomic converts integer units into a human amount.
func (as Asset) FromAtomic(units decimal.Decimal) decimal.Decimal {
	return units.Shift(-as.Decimals)
}
