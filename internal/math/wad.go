package math

import "math/big"

// All USD values, synthetic-unit amounts, and health factors use a fixed
// 1e18 scale ("wad"). Collateral token amounts stay in the token's native
// unit; oracle answers are rescaled to wad at the adapter boundary.
var (
	// Wad is the canonical 1e18 fixed-point scale.
	Wad = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

	// MaxHealthFactor is returned for debt-free accounts: the maximum
	// representable value of a 256-bit word.
	MaxHealthFactor = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

// WadMul returns a * b / 1e18, truncating toward zero.
func WadMul(a, b *big.Int) *big.Int {
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, Wad)
}

// WadDiv returns a * 1e18 / b, truncating toward zero.
// b must be non-zero; callers guard the zero-debt and zero-price cases.
func WadDiv(a, b *big.Int) *big.Int {
	out := new(big.Int).Mul(a, Wad)
	return out.Quo(out, b)
}

// Pct returns a * numerator / denominator, truncating toward zero.
// Used for the liquidation threshold (50/100) and bonus (10/100).
func Pct(a *big.Int, numerator, denominator int64) *big.Int {
	out := new(big.Int).Mul(a, big.NewInt(numerator))
	return out.Quo(out, big.NewInt(denominator))
}

// ScaleToWad rescales a raw feed answer with the given decimal precision to
// the wad scale: answer * 1e18 / 10^decimals.
func ScaleToWad(answer *big.Int, decimals uint8) *big.Int {
	pow := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	out := new(big.Int).Mul(answer, Wad)
	return out.Quo(out, pow)
}

// Clone returns an independent copy, mapping nil to zero. Ledger state is
// handed out by value so callers can never alias internal balances.
func Clone(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// IsPositive reports whether v is non-nil and > 0.
func IsPositive(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}
