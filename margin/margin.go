// Package margin computes notional, unrealized PnL, effective equity, and
// initial/maintenance margin requirements for a single account at a given
// mark price (spec §4.6).
package margin

import (
	"math/big"

	"percolat/fixedpoint"
	"percolat/slab"
)

// Metrics is the full margin snapshot for one account at one mark price.
type Metrics struct {
	Notional   *big.Int
	Unrealized *big.Int
	Equity     *big.Int
	IM         *big.Int
	MM         *big.Int
}

// Compute evaluates spec §4.6's formulas for account a at mark markQ6.
func Compute(a *slab.AccountRecord, markQ6 *big.Int, rp *slab.RiskParams) Metrics {
	notional := fixedpoint.NotionalQ6(a.PositionSize, markQ6)

	entry := new(big.Int).SetUint64(a.EntryPrice)
	unrealized := fixedpoint.MulDivQ6(a.PositionSize, new(big.Int).Sub(markQ6, entry))

	negRealized := fixedpoint.MinBig(a.PnlRealized, big.NewInt(0))

	equity := new(big.Int).Add(a.Capital, a.PnlReserved)
	equity.Add(equity, unrealized)
	equity.Add(equity, negRealized)

	im := fixedpoint.MulBpsCeil(notional, rp.InitialMarginBps)
	mm := fixedpoint.MulBpsCeil(notional, rp.MaintenanceMarginBps)

	return Metrics{Notional: notional, Unrealized: unrealized, Equity: equity, IM: im, MM: mm}
}

// IsLiquidatable reports whether equity has fallen below the maintenance
// requirement (spec §4.6: "Liquidation triggers when E < MM").
func (m Metrics) IsLiquidatable() bool {
	return m.Equity.Cmp(m.MM) < 0
}

// MeetsInitialMargin reports whether equity covers the initial requirement,
// the check a risk-increasing trade or a withdrawal must pass post-trade.
func (m Metrics) MeetsInitialMargin() bool {
	return m.Equity.Cmp(m.IM) >= 0
}
