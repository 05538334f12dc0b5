package engine

import (
	"log/slog"
	"math/big"

	"percolat/errcode"
	"percolat/fixedpoint"
	"percolat/margin"
	"percolat/matcher"
	"percolat/observability"
	"percolat/oracle"
	"percolat/position"
	"percolat/slab"
	"percolat/warmup"
)

// TradeInput bundles the host-supplied context a trade operation needs
// beyond the slab itself: the external feed reading (for oracle.Resolve)
// and the current wall-clock reading it is checked against.
type TradeInput struct {
	Feed       *oracle.FeedRecord
	NowUnix    int64
	LPIdx      uint64
	UserIdx    uint64
	SignedSize *big.Int // from the user's perspective; the LP takes the opposite side
}

// TradeResult reports the fill applied by a successful trade.
type TradeResult struct {
	FillPriceQ6 *big.Int
	UserFee     *big.Int
	LPFee       *big.Int
}

// TradeNoCpi executes spec §6 tag 6: a trade filled at the oracle mark with
// no external matcher call, using matcher.OracleMatcher.
func (e *Engine) TradeNoCpi(s *slab.Slab, in TradeInput) (TradeResult, error) {
	return e.trade(s, in, matcher.OracleMatcher{})
}

// TradeCpi executes spec §6 tag 10: a trade filled by the LP's registered
// external matcher program, invoked under the reentrancy guard.
func (e *Engine) TradeCpi(s *slab.Slab, in TradeInput, m matcher.Matcher) (TradeResult, error) {
	return e.trade(s, in, m)
}

// trade implements spec §4.9's eight-step pipeline shared by TradeNoCpi and
// TradeCpi: fresh-crank check, oracle read, matcher invocation, symmetric
// fill application, fee charge, two-pass settlement, margin check, and
// aggregate update.
func (e *Engine) trade(s *slab.Slab, in TradeInput, m matcher.Matcher) (res TradeResult, err error) {
	defer func() {
		outcome := "ok"
		feeUnits := 0.0
		if err != nil {
			outcome = err.Error()
		} else if res.UserFee != nil {
			feeUnits, _ = new(big.Float).SetInt(res.UserFee).Float64()
		}
		observability.Trade().RecordFill(outcome, feeUnits)
		if err != nil {
			slog.Warn("trade rejected", "lp_idx", in.LPIdx, "user_idx", in.UserIdx, "reason", err)
		} else {
			slog.Debug("trade filled", "lp_idx", in.LPIdx, "user_idx", in.UserIdx, "fill_price_q6", res.FillPriceQ6)
		}
	}()

	if err := requireFreshCrank(s); err != nil {
		return TradeResult{}, err
	}

	lp, err := accountAt(s, in.LPIdx)
	if err != nil {
		return TradeResult{}, err
	}
	if !lp.IsLP() {
		return TradeResult{}, errcode.ErrInvalidIndex
	}
	user, err := accountAt(s, in.UserIdx)
	if err != nil {
		return TradeResult{}, err
	}
	if in.SignedSize == nil || in.SignedSize.Sign() == 0 {
		return TradeResult{}, errcode.ErrZeroSize
	}

	mark, _, err := oracle.Resolve(&s.MarketConfig, &s.Engine, in.Feed, in.NowUnix)
	if err != nil {
		return TradeResult{}, err
	}

	req := matcher.Request{
		Mark:           mark,
		MatcherContext: lp.MatcherContext,
		LPAccount:      lp.Owner,
		SignedSize:     in.SignedSize,
	}
	resp, err := matcher.Invoke(&e.guard, m, req)
	if err != nil {
		return TradeResult{}, err
	}
	fillPrice := resp.FillPriceQ6

	if err := settleFundingOne(s, user); err != nil {
		return TradeResult{}, err
	}
	if err := settleFundingOne(s, lp); err != nil {
		return TradeResult{}, err
	}

	userOldAbs := new(big.Int).Abs(user.PositionSize)
	lpOldAbs := new(big.Int).Abs(lp.PositionSize)

	lpSize := new(big.Int).Neg(in.SignedSize)
	if err := position.ApplyFill(user, in.SignedSize, fillPrice); err != nil {
		return TradeResult{}, err
	}
	if err := position.ApplyFill(lp, lpSize, fillPrice); err != nil {
		return TradeResult{}, err
	}

	riskIncreasing := new(big.Int).Abs(user.PositionSize).Cmp(userOldAbs) > 0 ||
		new(big.Int).Abs(lp.PositionSize).Cmp(lpOldAbs) > 0
	if s.Engine.RiskReductionOnly && riskIncreasing {
		return TradeResult{}, errcode.ErrRiskReductionOnly
	}

	tradeNotional := fixedpoint.NotionalQ6(in.SignedSize, fillPrice)
	tradeNotional.Abs(tradeNotional)
	userFee := fixedpoint.MulBpsCeil(tradeNotional, s.RiskParams.TradingFeeBps)
	lpFee := fixedpoint.MulBpsCeil(tradeNotional, s.RiskParams.TradingFeeBps)

	fees := map[uint64]*big.Int{in.UserIdx: userFee, in.LPIdx: lpFee}
	if err := warmup.TwoPassSettle(s, []uint64{in.UserIdx, in.LPIdx}, fees); err != nil {
		return TradeResult{}, err
	}
	creditFeesToInsurance(s, userFee, lpFee)
	warmup.ScheduleSlope(user, &s.RiskParams, s.Engine.CurrentSlot)
	warmup.ScheduleSlope(lp, &s.RiskParams, s.Engine.CurrentSlot)

	if new(big.Int).Abs(user.PositionSize).Cmp(userOldAbs) > 0 {
		if m := margin.Compute(user, fillPrice, &s.RiskParams); !m.MeetsInitialMargin() {
			return TradeResult{}, errcode.ErrInsufficientMargin
		}
	}
	if new(big.Int).Abs(lp.PositionSize).Cmp(lpOldAbs) > 0 {
		if m := margin.Compute(lp, fillPrice, &s.RiskParams); !m.MeetsInitialMargin() {
			return TradeResult{}, errcode.ErrInsufficientMargin
		}
	}

	recomputeAggregates(s)

	if err := commitCheck(s); err != nil {
		return TradeResult{}, err
	}

	return TradeResult{FillPriceQ6: fillPrice, UserFee: userFee, LPFee: lpFee}, nil
}

// creditFeesToInsurance routes 100% of trading fees to the insurance fund
// (spec §7 Open Question 2's resolution). TwoPassSettle has already charged
// each fee as part of the payer's negative settlement leg: from capital
// where capital covers the leg, otherwise the uncovered part (fee included)
// is added to loss_accum and drawn from insurance as far as it reaches.
// The fees are credited here in full either way.
func creditFeesToInsurance(s *slab.Slab, fees ...*big.Int) {
	total := big.NewInt(0)
	for _, f := range fees {
		if f != nil {
			total = new(big.Int).Add(total, f)
		}
	}
	s.Engine.Insurance.Balance = new(big.Int).Add(s.Engine.Insurance.Balance, total)
	s.Engine.Insurance.FeeRevenue = new(big.Int).Add(s.Engine.Insurance.FeeRevenue, total)
}

// requireFreshCrank enforces spec §4.9 step 1: trades and liquidations must
// not run against a stale aggregate state.
func requireFreshCrank(s *slab.Slab) error {
	staleness := s.Engine.CurrentSlot - s.Engine.LastFullSweepStartSlot
	if s.Engine.CurrentSlot >= s.Engine.LastFullSweepStartSlot &&
		staleness > s.RiskParams.MaxCrankStalenessSlots {
		return errcode.ErrStaleCrank
	}
	return nil
}

// recomputeAggregates rebuilds the market-wide open-interest and LP
// inventory aggregates from scratch over every in-use account. It never
// touches pnl_pos_tot/pnl_neg_tot. pnl_pos_tot is kept equal to Σ
// pnl_reserved incrementally: warmup.TwoPassSettle and its socializeLoss
// lower it, and crank.Sweep adds the amount warmup.AdvanceWarmup returns.
// No code path updates pnl_neg_tot.
func recomputeAggregates(s *slab.Slab) {
	oi := big.NewInt(0)
	lpSumAbs := big.NewInt(0)
	lpMaxAbs := big.NewInt(0)
	lpNet := big.NewInt(0)

	for i := range s.Accounts {
		a := &s.Accounts[i]
		if !a.InUse {
			continue
		}
		if a.PositionSize.Sign() > 0 {
			oi = new(big.Int).Add(oi, a.PositionSize)
		}
		if a.IsLP() {
			abs := new(big.Int).Abs(a.PositionSize)
			lpSumAbs = new(big.Int).Add(lpSumAbs, abs)
			lpMaxAbs = fixedpoint.MaxBig(lpMaxAbs, abs)
			lpNet = new(big.Int).Add(lpNet, a.PositionSize)
		}
	}

	s.Engine.TotalOpenInterest = oi
	s.Engine.LpSumAbs = lpSumAbs
	s.Engine.LpMaxAbs = lpMaxAbs
	s.Engine.LpNetNotional = lpNet
}
