// Package fixedpoint provides the deterministic 18-decimal fixed-point
// arithmetic used by the pool, the liquidity ledger, and the settlement
// engine. All operations round toward zero unless stated otherwise, so the
// protocol never pays out more than it received. Intermediates are computed
// on math/big integers: products of up to eight reserves exceed any
// fixed-width type, and big.Int keeps the full precision without a custom
// wide-mul routine.
package fixedpoint

import (
	"math/big"

	"github.com/outcomelab/ammd/internal/domain"
)

// Scale is the fixed-point unit: prices and amounts carry 18 decimals.
var Scale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// BpsDenom is the basis-point denominator: 10000 bps = 100%.
var BpsDenom = big.NewInt(10_000)

// MaxAmount bounds every representable amount at 2^192. Inputs or results
// beyond this signal ErrArithmeticOverflow: magnitudes past the designed
// range must abort rather than silently saturate.
var MaxAmount = new(big.Int).Lsh(big.NewInt(1), 192)

var (
	zero = big.NewInt(0)
	one  = big.NewInt(1)
)

// InRange reports whether v is a representable amount: 0 <= v <= MaxAmount.
func InRange(v *big.Int) bool {
	return v != nil && v.Sign() >= 0 && v.Cmp(MaxAmount) <= 0
}

// MulDiv computes a*b/denom rounded toward zero. It fails with
// ErrArithmeticOverflow when an input is out of range, denom is zero, or the
// result exceeds MaxAmount.
func MulDiv(a, b, denom *big.Int) (*big.Int, error) {
	if !InRange(a) || !InRange(b) || denom == nil || denom.Sign() <= 0 {
		return nil, domain.ErrArithmeticOverflow
	}
	out := new(big.Int).Mul(a, b)
	out.Quo(out, denom)
	if out.Cmp(MaxAmount) > 0 {
		return nil, domain.ErrArithmeticOverflow
	}
	return out, nil
}

// MulDivCeil computes a*b/denom rounded away from zero. Used where the
// rounding loss must stay with the caller rather than the pool (for example
// the reserve left behind after a buy).
func MulDivCeil(a, b, denom *big.Int) (*big.Int, error) {
	if !InRange(a) || !InRange(b) || denom == nil || denom.Sign() <= 0 {
		return nil, domain.ErrArithmeticOverflow
	}
	prod := new(big.Int).Mul(a, b)
	out, rem := new(big.Int).QuoRem(prod, denom, new(big.Int))
	if rem.Sign() != 0 {
		out.Add(out, one)
	}
	if out.Cmp(MaxAmount) > 0 {
		return nil, domain.ErrArithmeticOverflow
	}
	return out, nil
}

// Bps returns amount * bps / 10000, floor-rounded. This is the fee cut taken
// from a gross amount.
func Bps(amount *big.Int, bps uint32) (*big.Int, error) {
	if bps > 10_000 {
		return nil, domain.ErrArithmeticOverflow
	}
	return MulDiv(amount, big.NewInt(int64(bps)), BpsDenom)
}

// ApplyBps returns amount * (10000 - bps) / 10000, floor-rounded: the amount
// remaining after a bps-denominated deduction.
func ApplyBps(amount *big.Int, bps uint32) (*big.Int, error) {
	if bps > 10_000 {
		return nil, domain.ErrArithmeticOverflow
	}
	return MulDiv(amount, big.NewInt(int64(10_000-bps)), BpsDenom)
}

// WithSlippage lowers a quoted output by toleranceBps, floor-rounded. The
// result is the minimum acceptable output for an execution against that
// quote.
func WithSlippage(quoted *big.Int, toleranceBps uint32) (*big.Int, error) {
	return ApplyBps(quoted, toleranceBps)
}

// Prod multiplies the given amounts together. The result is unbounded (it is
// an intermediate, not an amount) but every factor must be in range.
func Prod(vs []*big.Int) (*big.Int, error) {
	out := new(big.Int).Set(one)
	for _, v := range vs {
		if !InRange(v) {
			return nil, domain.ErrArithmeticOverflow
		}
		out.Mul(out, v)
	}
	return out, nil
}

// ProdExcept multiplies all amounts except the one at index skip.
func ProdExcept(vs []*big.Int, skip int) (*big.Int, error) {
	out := new(big.Int).Set(one)
	for i, v := range vs {
		if i == skip {
			continue
		}
		if !InRange(v) {
			return nil, domain.ErrArithmeticOverflow
		}
		out.Mul(out, v)
	}
	return out, nil
}
