package engine

import (
	"log/slog"
	"math/big"

	"percolat/errcode"
	"percolat/fixedpoint"
	"percolat/margin"
	"percolat/observability"
	"percolat/oracle"
	"percolat/position"
	"percolat/slab"
	"percolat/warmup"
)

// LiquidationResult reports what a successful liquidation closed and
// charged.
type LiquidationResult struct {
	ClosedAmount    *big.Int
	MarkQ6          *big.Int
	LiquidationFee  *big.Int
	ForcedFullClose bool
}

// LiquidateAtOracle executes spec §6 tag 7 / §4.10: a permissionless close
// against target_idx, sized to restore E >= MM*(1+buffer), booked at the
// oracle mark. counterpartyIdx receives the symmetric reverse leg — the
// wire payload only names the target, so the host resolves which LP
// absorbs the other side (typically the market's sole LP) before calling
// this.
func (e *Engine) LiquidateAtOracle(s *slab.Slab, targetIdx, counterpartyIdx uint64, feed *oracle.FeedRecord, nowUnix int64) (res LiquidationResult, err error) {
	defer func() {
		outcome := "ok"
		closedUnits := 0.0
		if err != nil {
			outcome = err.Error()
		} else if res.ClosedAmount != nil {
			closedUnits, _ = new(big.Float).SetInt(res.ClosedAmount).Float64()
		}
		observability.Liquidation().RecordClose(outcome, res.ForcedFullClose, closedUnits)
		if err != nil {
			slog.Warn("liquidation rejected", "target_idx", targetIdx, "counterparty_idx", counterpartyIdx, "reason", err)
		} else {
			slog.Info("liquidation closed", "target_idx", targetIdx, "closed_amount", res.ClosedAmount, "forced_full", res.ForcedFullClose)
		}
	}()

	if err := requireFreshCrank(s); err != nil {
		return LiquidationResult{}, err
	}

	target, err := accountAt(s, targetIdx)
	if err != nil {
		return LiquidationResult{}, err
	}
	counterparty, err := accountAt(s, counterpartyIdx)
	if err != nil {
		return LiquidationResult{}, err
	}
	if target.PositionSize.Sign() == 0 {
		return LiquidationResult{}, errcode.ErrAccountHealthy
	}

	mark, _, err := oracle.Resolve(&s.MarketConfig, &s.Engine, feed, nowUnix)
	if err != nil {
		return LiquidationResult{}, err
	}

	if err := settleFundingOne(s, target); err != nil {
		return LiquidationResult{}, err
	}
	if err := settleFundingOne(s, counterparty); err != nil {
		return LiquidationResult{}, err
	}

	m := margin.Compute(target, mark, &s.RiskParams)
	if !m.IsLiquidatable() {
		return LiquidationResult{}, errcode.ErrAccountHealthy
	}

	posAbs := new(big.Int).Abs(target.PositionSize)
	forcedFull := posAbs.Cmp(s.RiskParams.MinLiquidationAbs) <= 0

	var closeAmount *big.Int
	if forcedFull {
		closeAmount = posAbs
	} else {
		closeAmount = findCloseAmount(target, mark, &s.RiskParams, posAbs)
		if closeAmount.Cmp(posAbs) >= 0 {
			closeAmount = posAbs
			forcedFull = true
		}
	}
	if closeAmount.Sign() == 0 {
		return LiquidationResult{}, errcode.ErrLiquidationTooSmall
	}

	sign := int64(1)
	if target.PositionSize.Sign() < 0 {
		sign = -1
	}
	delta := new(big.Int).Mul(closeAmount, big.NewInt(-sign))
	if err := position.ApplyFill(target, delta, mark); err != nil {
		return LiquidationResult{}, err
	}
	reverse := new(big.Int).Neg(delta)
	if err := position.ApplyFill(counterparty, reverse, mark); err != nil {
		return LiquidationResult{}, err
	}

	closedNotional := fixedpoint.NotionalQ6(closeAmount, mark)
	closedNotional.Abs(closedNotional)
	fee := fixedpoint.MulBpsCeil(closedNotional, s.RiskParams.LiquidationFeeBps)
	fee = fixedpoint.MinBig(fee, s.RiskParams.LiquidationFeeCap)

	fees := map[uint64]*big.Int{targetIdx: fee}
	if err := warmup.TwoPassSettle(s, []uint64{targetIdx, counterpartyIdx}, fees); err != nil {
		return LiquidationResult{}, err
	}
	creditFeesToInsurance(s, fee)
	warmup.ScheduleSlope(target, &s.RiskParams, s.Engine.CurrentSlot)
	warmup.ScheduleSlope(counterparty, &s.RiskParams, s.Engine.CurrentSlot)

	s.Engine.LifetimeLiquidations++
	if forcedFull {
		s.Engine.LifetimeForceCloses++
	}

	recomputeAggregates(s)

	if err := commitCheck(s); err != nil {
		return LiquidationResult{}, err
	}

	return LiquidationResult{
		ClosedAmount:    closeAmount,
		MarkQ6:          mark,
		LiquidationFee:  fee,
		ForcedFullClose: forcedFull,
	}, nil
}

// findCloseAmount binary searches [1, posAbs] for the smallest close size
// that restores E >= MM*(1+buffer_bps/10000), simulating each candidate on
// a scratch copy of the account. The equity formula is not linear in the
// close size (the partial-reduce rule holds entry price fixed while
// unrealized shrinks and realized PnL grows), so a closed-form solution
// would need to case-split on which term dominates; a bounded binary
// search on monotonically-shrinking notional is simpler and exact enough
// for integer position sizes.
func findCloseAmount(a *slab.AccountRecord, mark *big.Int, rp *slab.RiskParams, posAbs *big.Int) *big.Int {
	lo := big.NewInt(1)
	hi := new(big.Int).Set(posAbs)
	best := new(big.Int).Set(posAbs)

	for lo.Cmp(hi) <= 0 {
		mid := new(big.Int).Add(lo, hi)
		mid.Rsh(mid, 1)

		if satisfiesAfterClose(a, mid, mark, rp) {
			best.Set(mid)
			hi = new(big.Int).Sub(mid, big.NewInt(1))
		} else {
			lo = new(big.Int).Add(mid, big.NewInt(1))
		}
	}
	return best
}

func satisfiesAfterClose(a *slab.AccountRecord, closeAmount, mark *big.Int, rp *slab.RiskParams) bool {
	sign := int64(1)
	if a.PositionSize.Sign() < 0 {
		sign = -1
	}
	delta := new(big.Int).Mul(closeAmount, big.NewInt(-sign))

	trial := *a
	if err := position.ApplyFill(&trial, delta, mark); err != nil {
		return false
	}
	m := margin.Compute(&trial, mark, rp)

	required := fixedpoint.MulBpsCeil(m.MM, 10000+rp.LiquidationBufferBps)
	return m.Equity.Cmp(required) >= 0
}
