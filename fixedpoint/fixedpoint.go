// Package fixedpoint implements the slab's deterministic arithmetic: 128-bit
// range signed/unsigned integers backed by math/big, checked against
// overflow, plus the Q6 price scale and basis-point helpers the rest of the
// core builds on. Floating point never appears here or anywhere downstream
// (spec §4.1, §9).
package fixedpoint

import (
	"math/big"

	"percolat/errcode"
)

// Q6Scale is the implicit decimal scale every price in the slab uses.
const Q6Scale = 1_000_000

// BpsDenom is the denominator for every basis-point quantity in the slab.
const BpsDenom = 10_000

var (
	// MaxI128 is 2^127 - 1.
	MaxI128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	// MinI128 is -2^127.
	MinI128 = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
	// MaxU128 is 2^128 - 1.
	MaxU128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
)

func inRangeI128(v *big.Int) bool {
	return v.Cmp(MinI128) >= 0 && v.Cmp(MaxI128) <= 0
}

func inRangeU128(v *big.Int) bool {
	return v.Sign() >= 0 && v.Cmp(MaxU128) <= 0
}

// AddI128 adds two signed 128-bit values, failing on overflow.
func AddI128(a, b *big.Int) (*big.Int, error) {
	r := new(big.Int).Add(a, b)
	if !inRangeI128(r) {
		return nil, errcode.ErrArithmeticOverflow
	}
	return r, nil
}

// SubI128 subtracts two signed 128-bit values, failing on overflow.
func SubI128(a, b *big.Int) (*big.Int, error) {
	r := new(big.Int).Sub(a, b)
	if !inRangeI128(r) {
		return nil, errcode.ErrArithmeticOverflow
	}
	return r, nil
}

// MulI128 multiplies two signed 128-bit values, failing on overflow.
func MulI128(a, b *big.Int) (*big.Int, error) {
	r := new(big.Int).Mul(a, b)
	if !inRangeI128(r) {
		return nil, errcode.ErrArithmeticOverflow
	}
	return r, nil
}

// DivI128 divides two signed 128-bit values, truncating toward zero per
// spec §4.1. Fails with ErrDivisionByZero, never panics.
func DivI128(a, b *big.Int) (*big.Int, error) {
	if b.Sign() == 0 {
		return nil, errcode.ErrDivisionByZero
	}
	r := new(big.Int).Quo(a, b)
	if !inRangeI128(r) {
		return nil, errcode.ErrArithmeticOverflow
	}
	return r, nil
}

// AddU128 adds two unsigned 128-bit values, failing on overflow.
func AddU128(a, b *big.Int) (*big.Int, error) {
	if !inRangeU128(a) || !inRangeU128(b) {
		return nil, errcode.ErrArithmeticOverflow
	}
	r := new(big.Int).Add(a, b)
	if !inRangeU128(r) {
		return nil, errcode.ErrArithmeticOverflow
	}
	return r, nil
}

// SubU128 subtracts two unsigned 128-bit values, failing if the result would
// be negative (spec P5: capital must never go negative is enforced by
// callers checking this error, not by clamping silently).
func SubU128(a, b *big.Int) (*big.Int, error) {
	r := new(big.Int).Sub(a, b)
	if !inRangeU128(r) {
		return nil, errcode.ErrArithmeticOverflow
	}
	return r, nil
}

// MulU128 multiplies two unsigned 128-bit values, failing on overflow.
func MulU128(a, b *big.Int) (*big.Int, error) {
	if !inRangeU128(a) || !inRangeU128(b) {
		return nil, errcode.ErrArithmeticOverflow
	}
	r := new(big.Int).Mul(a, b)
	if !inRangeU128(r) {
		return nil, errcode.ErrArithmeticOverflow
	}
	return r, nil
}

// DivU128 divides two unsigned 128-bit values, flooring (equivalent to
// truncation for non-negative operands).
func DivU128(a, b *big.Int) (*big.Int, error) {
	if b.Sign() == 0 {
		return nil, errcode.ErrDivisionByZero
	}
	return new(big.Int).Quo(a, b), nil
}

// MinBig returns the smaller of a and b without mutating either.
func MinBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// MaxBig returns the larger of a and b without mutating either.
func MaxBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// ClampBig clamps v into [lo, hi].
func ClampBig(v, lo, hi *big.Int) *big.Int {
	if v.Cmp(lo) < 0 {
		return new(big.Int).Set(lo)
	}
	if v.Cmp(hi) > 0 {
		return new(big.Int).Set(hi)
	}
	return new(big.Int).Set(v)
}

// MulBpsCeil computes ceil(x * bps / BpsDenom), the rounding direction the
// spec pins for margin-requirement computations (§4.1). x must be
// non-negative.
func MulBpsCeil(x *big.Int, bps uint64) *big.Int {
	if x.Sign() == 0 || bps == 0 {
		return big.NewInt(0)
	}
	bpsInt := new(big.Int).SetUint64(bps)
	num := new(big.Int).Mul(x, bpsInt)
	denom := big.NewInt(BpsDenom)
	num.Add(num, new(big.Int).Sub(denom, big.NewInt(1)))
	return num.Quo(num, denom)
}

// MulBpsFloor computes floor(x * bps / BpsDenom), the rounding direction the
// spec pins everywhere a margin requirement is not being computed (§4.1).
func MulBpsFloor(x *big.Int, bps uint64) *big.Int {
	if x.Sign() == 0 || bps == 0 {
		return big.NewInt(0)
	}
	bpsInt := new(big.Int).SetUint64(bps)
	num := new(big.Int).Mul(x, bpsInt)
	return num.Quo(num, big.NewInt(BpsDenom))
}

// NotionalQ6 computes |size| * priceQ6 / Q6Scale, floored.
func NotionalQ6(size, priceQ6 *big.Int) *big.Int {
	abs := new(big.Int).Abs(size)
	num := new(big.Int).Mul(abs, priceQ6)
	return num.Quo(num, big.NewInt(Q6Scale))
}

// MulDivQ6 computes a*b/Q6Scale truncating toward zero, the idiom used
// whenever a Q6 price multiplies a signed unit count (e.g. unrealized PnL).
func MulDivQ6(a, b *big.Int) *big.Int {
	num := new(big.Int).Mul(a, b)
	return num.Quo(num, big.NewInt(Q6Scale))
}
