// Package position implements entry-price averaging, realized-PnL booking
// on sign crossings, and funding-snapshot settlement (spec §4.5).
//
// Grounded on native/lending/engine.go's accrue-then-mutate shape: a
// settlement step always reads the current index, applies the delta, and
// writes the snapshot back before any other mutation touches the account.
package position

import (
	"math/big"

	"percolat/errcode"
	"percolat/fixedpoint"
	"percolat/slab"
)

// ApplyFill books a trade fill of signedSize units at fillPriceQ6 against an
// account's position, updating PositionSize, EntryPrice, and PnlRealized
// per spec §4.5's notional-weighted-average / sign-crossing rules.
func ApplyFill(a *slab.AccountRecord, signedSize, fillPriceQ6 *big.Int) error {
	if signedSize.Sign() == 0 {
		return errcode.ErrZeroSize
	}

	oldSize := new(big.Int).Set(a.PositionSize)
	newSize, err := fixedpoint.AddI128(oldSize, signedSize)
	if err != nil {
		return err
	}

	switch {
	case oldSize.Sign() == 0:
		a.EntryPrice = mustUint64(fillPriceQ6)

	case oldSize.Sign() == newSize.Sign() && absCmp(newSize, oldSize) >= 0:
		// Growing (or flat) in the same direction: notional-weighted average.
		oldEntry := new(big.Int).SetUint64(a.EntryPrice)
		oldAbs := new(big.Int).Abs(oldSize)
		addAbs := new(big.Int).Abs(signedSize)
		num := new(big.Int).Add(
			new(big.Int).Mul(oldAbs, oldEntry),
			new(big.Int).Mul(addAbs, fillPriceQ6),
		)
		newAbs := new(big.Int).Abs(newSize)
		a.EntryPrice = mustUint64(num.Quo(num, newAbs))

	case oldSize.Sign() == newSize.Sign():
		// Partial reduce without crossing zero: entry price is unchanged,
		// realize PnL on the closed slice only.
		closed := new(big.Int).Sub(oldSize, newSize)
		oldEntry := new(big.Int).SetUint64(a.EntryPrice)
		pnl := fixedpoint.MulDivQ6(closed, new(big.Int).Sub(fillPriceQ6, oldEntry))
		realized, err := fixedpoint.AddI128(a.PnlRealized, pnl)
		if err != nil {
			return err
		}
		a.PnlRealized = realized

	default:
		// Full close or sign crossing: realize PnL on the entire old leg,
		// then (if anything remains) open it fresh at the fill price.
		oldEntry := new(big.Int).SetUint64(a.EntryPrice)
		pnl := fixedpoint.MulDivQ6(oldSize, new(big.Int).Sub(fillPriceQ6, oldEntry))
		realized, err := fixedpoint.AddI128(a.PnlRealized, pnl)
		if err != nil {
			return err
		}
		a.PnlRealized = realized
		if newSize.Sign() != 0 {
			a.EntryPrice = mustUint64(fillPriceQ6)
		} else {
			a.EntryPrice = 0
		}
	}

	a.PositionSize = newSize
	return nil
}

// SettleFunding books the funding leg accrued since the account's last
// snapshot into pnl_realized and advances the snapshot (spec §4.5).
func SettleFunding(a *slab.AccountRecord, fundingIndexQPE6 *big.Int) error {
	delta := fixedpoint.MulDivQ6(a.PositionSize, new(big.Int).Sub(fundingIndexQPE6, a.FundingIndexSnapshot))
	realized, err := fixedpoint.AddI128(a.PnlRealized, delta)
	if err != nil {
		return err
	}
	a.PnlRealized = realized
	a.FundingIndexSnapshot = new(big.Int).Set(fundingIndexQPE6)
	return nil
}

func absCmp(a, b *big.Int) int {
	return new(big.Int).Abs(a).Cmp(new(big.Int).Abs(b))
}

func mustUint64(v *big.Int) uint64 {
	if !v.IsUint64() {
		if v.Sign() < 0 {
			return 0
		}
		return ^uint64(0)
	}
	return v.Uint64()
}
