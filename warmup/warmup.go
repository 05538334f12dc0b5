// Package warmup implements the protocol's load-bearing algorithm (spec
// §4.8): the two-pass loss-then-profit settlement that keeps collateral
// conserved under socialized loss, plus the per-slot warmup advance that
// gates conversion of positive realized PnL into spendable capital.
//
// Grounded on native/lending/engine.go's accrueInterest/syncDebt shape:
// accrue a delta, mutate balances, persist — generalized here from one
// account's interest accrual to a market-wide, two-phase sweep so that
// losers paying in (phase A) is visible to winners being paid out (phase B)
// within the same settlement event.
package warmup

import (
	"math/big"

	"percolat/fixedpoint"
	"percolat/slab"
)

// SumCapital totals capital across every in-use account (spec §4.8's Σ
// capital_i).
func SumCapital(s *slab.Slab) *big.Int {
	total := big.NewInt(0)
	for i := range s.Accounts {
		if s.Accounts[i].InUse {
			total = new(big.Int).Add(total, s.Accounts[i].Capital)
		}
	}
	return total
}

// Residual computes vault − Σ capital_i − insurance.balance, the collateral
// available to back positive PnL conversion (spec §4.8, GLOSSARY).
func Residual(s *slab.Slab) *big.Int {
	r := new(big.Int).Sub(s.Engine.Vault, SumCapital(s))
	return r.Sub(r, s.Engine.Insurance.Balance)
}

// ConvertWithHaircut returns floor(x * min(residual, pnlPosTot) / pnlPosTot),
// the amount of x reserved credits that convert to capital given the
// current residual (spec §4.8).
func ConvertWithHaircut(x, residual, pnlPosTot *big.Int) *big.Int {
	if pnlPosTot.Sign() <= 0 || x.Sign() <= 0 {
		return big.NewInt(0)
	}
	backed := fixedpoint.MinBig(residual, pnlPosTot)
	if backed.Sign() <= 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(x, backed)
	return out.Quo(out, pnlPosTot)
}

// TwoPassSettle runs spec §4.8's two-pass loss-then-profit settlement over
// the touched account indices. fees maps an index to an additional negative
// charge (trading/liquidation fees) settled alongside negative realized PnL
// in pass A; a missing entry means no fee.
//
// pnl_pos_tot is carried as the invariant Σ pnl_reserved over every
// account, so that ConvertWithHaircut's ratio conserves funds exactly when
// residual covers the pool. Socializing an uninsured loss must therefore
// write down that Σ directly — spread proportionally across every account
// currently holding reserved credit, not just the two parties touched by
// this event, since the loss was not caused by (and is not contained to)
// the touched pair.
func TwoPassSettle(s *slab.Slab, touched []uint64, fees map[uint64]*big.Int) error {
	uninsured := big.NewInt(0)

	for _, idx := range touched {
		a := &s.Accounts[idx]
		fee := fees[idx]
		if fee == nil {
			fee = big.NewInt(0)
		}

		negComponent := fixedpoint.MinBig(a.PnlRealized, big.NewInt(0))
		magnitude := new(big.Int).Neg(negComponent)
		totalNeg := new(big.Int).Add(magnitude, fee)
		if totalNeg.Sign() <= 0 {
			continue
		}

		// The negative leg of pnl_realized is extinguished here; it has been
		// folded into totalNeg and charged against capital/insurance below.
		a.PnlRealized = new(big.Int).Sub(a.PnlRealized, negComponent)

		if a.Capital.Cmp(totalNeg) >= 0 {
			a.Capital = new(big.Int).Sub(a.Capital, totalNeg)
			continue
		}

		uncovered := new(big.Int).Sub(totalNeg, a.Capital)
		a.Capital = big.NewInt(0)
		s.Engine.LossAccum = new(big.Int).Add(s.Engine.LossAccum, uncovered)

		fromInsurance := fixedpoint.MinBig(s.Engine.Insurance.Balance, uncovered)
		s.Engine.Insurance.Balance = new(big.Int).Sub(s.Engine.Insurance.Balance, fromInsurance)

		remainder := new(big.Int).Sub(uncovered, fromInsurance)
		if remainder.Sign() > 0 {
			uninsured = new(big.Int).Add(uninsured, remainder)
		}
	}

	if uninsured.Sign() > 0 {
		socializeLoss(s, uninsured)
	}

	residual := Residual(s)

	for _, idx := range touched {
		a := &s.Accounts[idx]
		if a.PnlReserved.Sign() <= 0 {
			continue
		}
		reservedBefore := new(big.Int).Set(a.PnlReserved)
		converted := ConvertWithHaircut(reservedBefore, residual, s.Engine.PnlPosTot)
		a.Capital = new(big.Int).Add(a.Capital, converted)
		a.PnlReserved = big.NewInt(0)

		shrunk := new(big.Int).Sub(s.Engine.PnlPosTot, reservedBefore)
		s.Engine.PnlPosTot = fixedpoint.MaxBig(shrunk, big.NewInt(0))
	}

	return nil
}

// socializeLoss writes down amount from the global positive-PnL pool,
// spreading the write-down proportionally across every account's
// pnl_reserved so that pnl_pos_tot stays exactly Σ pnl_reserved. If no
// reserved credit exists anywhere to absorb it, the loss stays purely in
// loss_accum for the crank's auto-recovery path (spec §4.11 step 8) to
// resolve once the market quiesces.
func socializeLoss(s *slab.Slab, amount *big.Int) {
	pool := s.Engine.PnlPosTot
	if pool.Sign() <= 0 {
		return
	}
	amount = fixedpoint.MinBig(amount, pool)
	written := big.NewInt(0)
	for i := range s.Accounts {
		a := &s.Accounts[i]
		if !a.InUse || a.PnlReserved.Sign() <= 0 {
			continue
		}
		share := new(big.Int).Mul(a.PnlReserved, amount)
		share.Quo(share, pool)
		share = fixedpoint.MinBig(share, a.PnlReserved)
		if share.Sign() <= 0 {
			continue
		}
		a.PnlReserved = new(big.Int).Sub(a.PnlReserved, share)
		written = new(big.Int).Add(written, share)
	}
	s.Engine.PnlPosTot = fixedpoint.MaxBig(new(big.Int).Sub(pool, written), big.NewInt(0))
}

// ScheduleSlope (re)computes WarmupSlopePerStep from the account's current
// positive pnl_realized, amortized evenly across the risk params' warmup
// period. Called whenever a settlement produces new positive pnl_realized.
func ScheduleSlope(a *slab.AccountRecord, rp *slab.RiskParams, currentSlot uint64) {
	if a.PnlRealized.Sign() <= 0 {
		a.WarmupSlopePerStep = big.NewInt(0)
		a.WarmupStartedAtSlot = 0
		return
	}
	a.WarmupStartedAtSlot = currentSlot
	period := rp.WarmupPeriodSlots
	if period == 0 {
		a.WarmupSlopePerStep = new(big.Int).Set(a.PnlRealized)
		return
	}
	slope := new(big.Int).Quo(a.PnlRealized, new(big.Int).SetUint64(period))
	if slope.Sign() == 0 {
		slope = big.NewInt(1)
	}
	a.WarmupSlopePerStep = slope
}

// AdvanceWarmup moves min(elapsedSlots * slope, pnl_realized_positive) from
// pnl_realized into pnl_reserved (spec §4.11 step 5), returning the amount
// moved so the caller can keep pnl_pos_tot equal to the invariant Σ
// pnl_reserved. Callers skip this entirely when warmup_paused is set.
func AdvanceWarmup(a *slab.AccountRecord, elapsedSlots uint64) *big.Int {
	if a.PnlRealized.Sign() <= 0 || elapsedSlots == 0 {
		return big.NewInt(0)
	}
	step := new(big.Int).Mul(a.WarmupSlopePerStep, new(big.Int).SetUint64(elapsedSlots))
	move := fixedpoint.MinBig(step, a.PnlRealized)
	if move.Sign() <= 0 {
		return big.NewInt(0)
	}
	a.PnlRealized = new(big.Int).Sub(a.PnlRealized, move)
	a.PnlReserved = new(big.Int).Add(a.PnlReserved, move)
	return move
}
