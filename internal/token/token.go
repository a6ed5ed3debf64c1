// Package token provides the payment asset registry and amount conversion.
//
// Bids are quoted in decimal currency units ("0.50") but authorizations carry
// amounts in the token's smallest integer unit. Integer units are
// authoritative everywhere; conversion uses exact big.Int arithmetic so the
// final integer is never produced by floating-point rounding.
package token

import (
	"errors"
	"math/big"
	"strings"
)

var (
	ErrUnsupportedAsset = errors.New("token: unsupported asset")
	ErrInvalidAmount    = errors.New("token: invalid amount")
)

// Asset describes one supported payment token.
type Asset struct {
	ChainID  int64  `json:"chainId"`
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

// Registry holds the configured set of accepted assets.
// Arbitrary assets outside the registry are rejected.
type Registry struct {
	assets []Asset
}

// NewRegistry creates a registry over the configured assets.
func NewRegistry(assets ...Asset) *Registry {
	return &Registry{assets: assets}
}

// Default returns the first configured asset, used when the sender does not
// pick one explicitly.
func (r *Registry) Default() (Asset, error) {
	if len(r.assets) == 0 {
		return Asset{}, ErrUnsupportedAsset
	}
	return r.assets[0], nil
}

// Lookup finds an asset by chain ID and contract address (case-insensitive).
func (r *Registry) Lookup(chainID int64, address string) (Asset, error) {
	for _, a := range r.assets {
		if a.ChainID == chainID && strings.EqualFold(a.Address, address) {
			return a, nil
		}
	}
	return Asset{}, ErrUnsupportedAsset
}

// ParseAmount converts a decimal string (e.g. "1.50") to its smallest-unit
// big.Int representation for the given precision.
//
// Rules:
//   - Empty string parses as zero
//   - Negative amounts are rejected
//   - Multiple decimal points are rejected
//   - Fractional digits beyond the precision are rejected, not silently
//     truncated: the integer result must represent the bid exactly
func ParseAmount(s string, decimals int) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}
	if strings.HasPrefix(s, "-") {
		return nil, ErrInvalidAmount
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return nil, ErrInvalidAmount
	}
	whole := parts[0]
	frac := ""
	if len(parts) > 1 {
		frac = parts[1]
	}
	if whole == "" && frac == "" {
		return nil, ErrInvalidAmount
	}
	if len(frac) > decimals {
		return nil, ErrInvalidAmount
	}
	for len(frac) < decimals {
		frac += "0"
	}
	if whole == "" {
		whole = "0"
	}

	result, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, ErrInvalidAmount
	}
	return result, nil
}

// FormatAmount converts a smallest-unit big.Int to a decimal string with
// exactly `decimals` fractional digits (e.g. 1500000 with 6 -> "1.500000").
func FormatAmount(amount *big.Int, decimals int) string {
	if amount == nil {
		return "0." + strings.Repeat("0", decimals)
	}
	neg := amount.Sign() < 0
	s := new(big.Int).Abs(amount).String()
	for len(s) < decimals+1 {
		s = "0" + s
	}
	cut := len(s) - decimals
	result := s[:cut]
	if decimals > 0 {
		result += "." + s[cut:]
	}
	if neg {
		result = "-" + result
	}
	return result
}

// ParseUnits parses a smallest-unit integer string ("500000").
func ParseUnits(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	return v, nil
}
