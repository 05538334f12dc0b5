package margin

import (
	"math/big"
	"testing"

	"percolat/slab"
)

func TestComputeLongPositionAboveMaintenance(t *testing.T) {
	a := slab.NewEmptyAccountRecord()
	a.Capital = big.NewInt(10_000_000)
	a.PositionSize = big.NewInt(1000)
	a.EntryPrice = 88_000_000_000

	rp := &slab.RiskParams{InitialMarginBps: 1000, MaintenanceMarginBps: 500}
	m := Compute(&a, big.NewInt(88_000_000_000), rp)

	if m.Notional.Cmp(big.NewInt(88_000_000)) != 0 {
		t.Fatalf("notional = %s", m.Notional)
	}
	if m.Unrealized.Sign() != 0 {
		t.Fatalf("unrealized = %s, want 0 at entry price", m.Unrealized)
	}
	if m.IsLiquidatable() {
		t.Fatalf("should not be liquidatable with healthy equity")
	}
}

func TestComputeUnderwaterPositionIsLiquidatable(t *testing.T) {
	a := slab.NewEmptyAccountRecord()
	a.Capital = big.NewInt(1_000_000)
	a.PositionSize = big.NewInt(1000)
	a.EntryPrice = 88_000_000_000

	rp := &slab.RiskParams{InitialMarginBps: 1000, MaintenanceMarginBps: 500}
	// Mark crashes hard below entry for a long position.
	m := Compute(&a, big.NewInt(50_000_000_000), rp)

	if !m.IsLiquidatable() {
		t.Fatalf("expected liquidatable after severe adverse move, equity=%s mm=%s", m.Equity, m.MM)
	}
}

func TestComputeNegativeRealizedPnlAlwaysCharged(t *testing.T) {
	a := slab.NewEmptyAccountRecord()
	a.Capital = big.NewInt(1_000_000)
	a.PnlRealized = big.NewInt(-500_000)
	rp := &slab.RiskParams{InitialMarginBps: 1000, MaintenanceMarginBps: 500}
	m := Compute(&a, big.NewInt(1_000_000), rp)
	if m.Equity.Cmp(big.NewInt(500_000)) != 0 {
		t.Fatalf("equity = %s, want 500000 (capital - negative realized)", m.Equity)
	}
}

func TestComputePositiveRealizedPnlNotCountedUntilReserved(t *testing.T) {
	a := slab.NewEmptyAccountRecord()
	a.Capital = big.NewInt(1_000_000)
	a.PnlRealized = big.NewInt(500_000) // positive, not yet warmed into pnl_reserved
	rp := &slab.RiskParams{InitialMarginBps: 1000, MaintenanceMarginBps: 500}
	m := Compute(&a, big.NewInt(1_000_000), rp)
	if m.Equity.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("equity = %s, want 1000000 (positive realized excluded)", m.Equity)
	}
}
