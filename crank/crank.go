// Package crank implements the keeper sweep, spec §4.11's single
// idempotent-per-slot entry point: oracle read, funding step, per-account
// funding/maintenance-fee settlement, liquidation scan, warmup advance,
// risk-threshold EWMA, risk-reduction-mode gating, and the stranded-funds
// auto-recovery path.
//
// Grounded on native/lending/engine.go's accrueInterest — the "advance an
// index by an elapsed-slot delta" shape, generalized from one account's
// interest accrual to a full sweep over every used slot — plus
// native/common/guard.go's PauseView/Guard pattern, adapted here into the
// risk-reduction-only gate that suspends risk-increasing trades and warmup
// payout during an insurance shortfall.
package crank

import (
	"log/slog"
	"math/big"
	"time"

	"percolat/fixedpoint"
	"percolat/funding"
	"percolat/margin"
	"percolat/observability"
	"percolat/oracle"
	"percolat/position"
	"percolat/slab"
	"percolat/warmup"
)

// ewmaAlphaBps is the EWMA smoothing factor for risk_reduction_threshold
// updates (spec §4.11 step 6: "α = 10%").
const ewmaAlphaBps = 1000

// ewmaMaxStepBps bounds a single update to ±5% of the prior threshold
// (spec §4.11 step 6).
const ewmaMaxStepBps = 500

// Input bundles the host-supplied context the crank needs beyond the slab
// itself.
type Input struct {
	Feed    *oracle.FeedRecord
	NowUnix int64
	NowSlot uint64
}

// Result reports what one Sweep call did, for logging/metrics.
type Result struct {
	MarkQ6             *big.Int
	LiquidatableIdx    []uint64
	EnteredRiskReduction bool
	ExitedRiskReduction  bool
	RanAutoRecovery      bool
}

// Sweep runs one invocation of spec §4.11's nine-step crank. It is
// idempotent within a slot: calling it twice at the same NowSlot re-reads
// the oracle and re-derives funding (a no-op delta) but does not double
// charge maintenance fees or double-advance warmup, since both are keyed
// off elapsed slots since the last crank/funding update.
func Sweep(s *slab.Slab, in Input) (res Result, err error) {
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = err.Error()
		}
		observability.Crank().RecordSweep(outcome, time.Since(start), len(res.LiquidatableIdx), s.Engine.RiskReductionOnly, res.RanAutoRecovery)
		observability.Market().Sample(s.Engine.Insurance.Balance, s.Engine.Insurance.FeeRevenue, s.Engine.Vault, s.Engine.TotalOpenInterest, s.Engine.LossAccum)
		if err != nil {
			slog.Warn("crank sweep failed", "slot", in.NowSlot, "reason", err)
			return
		}
		slog.Debug("crank sweep complete", "slot", in.NowSlot, "mark_q6", res.MarkQ6,
			"liquidatable", len(res.LiquidatableIdx), "risk_reduction_only", s.Engine.RiskReductionOnly,
			"auto_recovery", res.RanAutoRecovery)
	}()

	mark, _, err := oracle.Resolve(&s.MarketConfig, &s.Engine, in.Feed, in.NowUnix)
	if err != nil {
		return res, err
	}
	res.MarkQ6 = mark

	isNewSweepCycle := in.NowSlot > s.Engine.LastCrankSlot
	s.Engine.CurrentSlot = in.NowSlot

	newIndex := funding.Step(&s.Engine, &s.RiskParams, in.NowSlot)
	elapsedSinceCrank := uint64(0)
	if in.NowSlot > s.Engine.LastCrankSlot {
		elapsedSinceCrank = in.NowSlot - s.Engine.LastCrankSlot
	}
	s.Engine.FundingIndexQPE6 = newIndex
	s.Engine.LastFundingSlot = in.NowSlot

	maintenanceCharge := new(big.Int).Mul(s.RiskParams.MaintenanceFeePerSlot, new(big.Int).SetUint64(elapsedSinceCrank))

	for i := range s.Accounts {
		a := &s.Accounts[i]
		if !a.InUse {
			continue
		}
		if err := position.SettleFunding(a, s.Engine.FundingIndexQPE6); err != nil {
			return res, err
		}
		chargeMaintenanceFee(s, a, maintenanceCharge)
	}

	for i := range s.Accounts {
		a := &s.Accounts[i]
		if !a.InUse {
			continue
		}
		m := margin.Compute(a, mark, &s.RiskParams)
		if m.IsLiquidatable() {
			res.LiquidatableIdx = append(res.LiquidatableIdx, uint64(i))
		}
	}

	if !s.Engine.WarmupPaused {
		for i := range s.Accounts {
			a := &s.Accounts[i]
			if a.InUse {
				moved := warmup.AdvanceWarmup(a, elapsedSinceCrank)
				s.Engine.PnlPosTot = new(big.Int).Add(s.Engine.PnlPosTot, moved)
			}
		}
	}

	updateRiskThreshold(s, mark, in.NowSlot)

	wasRiskReduction := s.Engine.RiskReductionOnly
	if s.Engine.Insurance.Balance.Cmp(s.RiskParams.RiskReductionThreshold) < 0 {
		s.Engine.RiskReductionOnly = true
		s.Engine.WarmupPaused = true
	} else if s.Engine.LossAccum.Sign() <= 0 {
		s.Engine.RiskReductionOnly = false
		s.Engine.WarmupPaused = false
	}
	res.EnteredRiskReduction = !wasRiskReduction && s.Engine.RiskReductionOnly
	res.ExitedRiskReduction = wasRiskReduction && !s.Engine.RiskReductionOnly

	if s.Engine.RiskReductionOnly && s.Engine.LossAccum.Sign() > 0 && s.Engine.TotalOpenInterest.Sign() == 0 {
		autoRecover(s)
		res.RanAutoRecovery = true
	}

	s.Engine.LastCrankSlot = in.NowSlot
	if isNewSweepCycle {
		s.Engine.LastFullSweepStartSlot = in.NowSlot
	}

	return res, nil
}

// chargeMaintenanceFee debits charge from a's capital, spilling any
// shortfall into fee_credits as an unpaid receivable rather than failing
// the sweep (spec §4.11 step 3).
func chargeMaintenanceFee(s *slab.Slab, a *slab.AccountRecord, charge *big.Int) {
	if charge.Sign() <= 0 {
		return
	}
	if a.Capital.Cmp(charge) >= 0 {
		a.Capital = new(big.Int).Sub(a.Capital, charge)
		s.Engine.Insurance.Balance = new(big.Int).Add(s.Engine.Insurance.Balance, charge)
		s.Engine.Insurance.FeeRevenue = new(big.Int).Add(s.Engine.Insurance.FeeRevenue, charge)
		return
	}
	shortfall := new(big.Int).Sub(charge, a.Capital)
	if a.Capital.Sign() > 0 {
		s.Engine.Insurance.Balance = new(big.Int).Add(s.Engine.Insurance.Balance, a.Capital)
		s.Engine.Insurance.FeeRevenue = new(big.Int).Add(s.Engine.Insurance.FeeRevenue, a.Capital)
	}
	a.Capital = big.NewInt(0)
	a.FeeCredits = new(big.Int).Add(a.FeeCredits, shortfall)
}

// riskProxy derives a risk measure from LP inventory imbalance and price,
// the input the threshold EWMA tracks (spec §4.11 step 6 names the three
// inputs without pinning a formula): (lp_max_abs + lp_sum_abs) valued at
// mark, so the threshold scales with both how concentrated and how large
// LP inventory is.
func riskProxy(s *slab.Slab, mark *big.Int) *big.Int {
	sum := new(big.Int).Add(s.Engine.LpMaxAbs, s.Engine.LpSumAbs)
	return fixedpoint.NotionalQ6(sum, mark)
}

// updateRiskThreshold applies spec §4.11 step 6: an EWMA toward riskProxy,
// stepped by at most ±5% of the current threshold per update, rate-limited
// by thresh_update_interval_slots.
func updateRiskThreshold(s *slab.Slab, mark *big.Int, nowSlot uint64) {
	interval := s.RiskParams.ThreshUpdateIntervalSlots
	if interval > 0 && nowSlot < s.Header.LastThresholdUpdateSlot+interval {
		return
	}

	current := s.RiskParams.RiskReductionThreshold
	target := riskProxy(s, mark)

	ewma := new(big.Int).Mul(current, big.NewInt(fixedpoint.BpsDenom-ewmaAlphaBps))
	ewma.Add(ewma, new(big.Int).Mul(target, big.NewInt(ewmaAlphaBps)))
	ewma.Quo(ewma, big.NewInt(fixedpoint.BpsDenom))

	maxStep := fixedpoint.MulBpsCeil(current, ewmaMaxStepBps)
	lo := new(big.Int).Sub(current, maxStep)
	hi := new(big.Int).Add(current, maxStep)
	if lo.Sign() < 0 {
		lo = big.NewInt(0)
	}
	ewma = fixedpoint.ClampBig(ewma, lo, hi)

	s.RiskParams.RiskReductionThreshold = ewma
	s.Header.LastThresholdUpdateSlot = nowSlot
}

// autoRecover implements spec §4.11 step 8, the stranded-funds fix: once
// the market is fully wound down (no open interest) but still carrying
// uninsured loss, phantom PnL on surviving accounts cannot ever be paid —
// there is no counterparty left to fund it from — so it is written off and
// any vault surplus is swept into insurance.
func autoRecover(s *slab.Slab) {
	for i := range s.Accounts {
		a := &s.Accounts[i]
		if !a.InUse {
			continue
		}
		if a.PnlRealized.Sign() > 0 {
			a.PnlRealized = big.NewInt(0)
		}
		a.PnlReserved = big.NewInt(0)
	}
	s.Engine.PnlPosTot = big.NewInt(0)
	s.Engine.LossAccum = big.NewInt(0)

	surplus := new(big.Int).Sub(s.Engine.Vault, warmup.SumCapital(s))
	surplus.Sub(surplus, s.Engine.Insurance.Balance)
	if surplus.Sign() > 0 {
		s.Engine.Insurance.Balance = new(big.Int).Add(s.Engine.Insurance.Balance, surplus)
	}

	s.Engine.RiskReductionOnly = false
	s.Engine.WarmupPaused = false
}
