// Package funding implements the per-crank funding index update driven by
// LP inventory imbalance (spec §4.7).
//
// Grounded on native/lending/interest.go's utilisation-driven rate curve:
// derive a rate from an imbalance ratio, clamp it, apply it as a per-slot
// delta to a monotonic index, exactly the "derive, clamp, accumulate" shape
// interest.go uses for its borrow APR curve.
package funding

import (
	"math/big"

	"percolat/fixedpoint"
	"percolat/slab"
)

// Step advances the engine's funding index by the elapsed slots, returning
// the new index value. It does not mutate es; callers commit the result
// themselves so the function stays a pure computation, matching
// native/lending/interest.go's rate-curve helpers.
func Step(es *slab.EngineState, rp *slab.RiskParams, currentSlot uint64) *big.Int {
	if currentSlot <= es.LastFundingSlot {
		return new(big.Int).Set(es.FundingIndexQPE6)
	}
	delta := currentSlot - es.LastFundingSlot
	horizon := rp.FundingHorizonSlots
	if horizon > 0 && delta > horizon {
		delta = horizon
	}

	premiumBps := premiumFromImbalance(es.LpNetNotional, rp)
	rateE6 := new(big.Int).Mul(premiumBps, big.NewInt(fixedpoint.Q6Scale))
	rateE6.Quo(rateE6, big.NewInt(fixedpoint.BpsDenom))
	rateE6.Quo(rateE6, new(big.Int).SetUint64(orOne(horizon)))
	maxRateE6 := new(big.Int).SetUint64(rp.FundingMaxBpsPerSlot)
	maxRateE6.Mul(maxRateE6, big.NewInt(fixedpoint.Q6Scale))
	maxRateE6.Quo(maxRateE6, big.NewInt(fixedpoint.BpsDenom))
	rateE6 = fixedpoint.ClampBig(rateE6, new(big.Int).Neg(maxRateE6), maxRateE6)

	increment := new(big.Int).Mul(rateE6, new(big.Int).SetUint64(delta))
	return new(big.Int).Add(es.FundingIndexQPE6, increment)
}

// premiumFromImbalance computes clamp(k_bps * lp_net_notional / scale_notional, -max, +max).
func premiumFromImbalance(lpNetNotional *big.Int, rp *slab.RiskParams) *big.Int {
	scale := rp.FundingScaleNotional
	if scale == nil || scale.Sign() == 0 {
		return big.NewInt(0)
	}
	kBps := new(big.Int).SetUint64(rp.FundingKBps)
	num := new(big.Int).Mul(kBps, lpNetNotional)
	premium := num.Quo(num, scale)

	maxPremium := new(big.Int).SetUint64(rp.FundingMaxPremiumBps)
	return fixedpoint.ClampBig(premium, new(big.Int).Neg(maxPremium), maxPremium)
}

func orOne(v uint64) uint64 {
	if v == 0 {
		return 1
	}
	return v
}
