package position

import (
	"math/big"
	"testing"

	"percolat/slab"
)

func newAccount() *slab.AccountRecord {
	a := slab.NewEmptyAccountRecord()
	return &a
}

func TestApplyFillOpensFreshPosition(t *testing.T) {
	a := newAccount()
	if err := ApplyFill(a, big.NewInt(1000), big.NewInt(88_000_000_000)); err != nil {
		t.Fatalf("apply fill: %v", err)
	}
	if a.PositionSize.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("position size = %s, want 1000", a.PositionSize)
	}
	if a.EntryPrice != 88_000_000_000 {
		t.Fatalf("entry price = %d, want 88000000000", a.EntryPrice)
	}
}

func TestApplyFillAveragesEntryOnIncrease(t *testing.T) {
	a := newAccount()
	_ = ApplyFill(a, big.NewInt(1000), big.NewInt(100_000_000)) // entry 100
	if err := ApplyFill(a, big.NewInt(1000), big.NewInt(200_000_000)); err != nil {
		t.Fatalf("apply fill: %v", err)
	}
	// (1000*100 + 1000*200) / 2000 = 150
	if a.EntryPrice != 150_000_000 {
		t.Fatalf("entry price = %d, want 150000000", a.EntryPrice)
	}
	if a.PositionSize.Cmp(big.NewInt(2000)) != 0 {
		t.Fatalf("position size = %s, want 2000", a.PositionSize)
	}
}

func TestApplyFillRealizesPnlOnPartialReduce(t *testing.T) {
	a := newAccount()
	_ = ApplyFill(a, big.NewInt(1000), big.NewInt(100_000_000)) // long 1000 @ 100
	if err := ApplyFill(a, big.NewInt(-400), big.NewInt(110_000_000)); err != nil {
		t.Fatalf("apply fill: %v", err)
	}
	// closed 400 units at +10 profit each => 400*10 = 4000 in Q6 units... MulDivQ6
	// closed=400, priceDelta=10_000_000 (Q6) -> 400*10_000_000/1e6=4000
	if a.PnlRealized.Cmp(big.NewInt(4000)) != 0 {
		t.Fatalf("pnl realized = %s, want 4000", a.PnlRealized)
	}
	if a.EntryPrice != 100_000_000 {
		t.Fatalf("entry price should be unchanged at 100000000, got %d", a.EntryPrice)
	}
	if a.PositionSize.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("position size = %s, want 600", a.PositionSize)
	}
}

func TestApplyFillCrossesZeroAndResetsEntry(t *testing.T) {
	a := newAccount()
	_ = ApplyFill(a, big.NewInt(1000), big.NewInt(100_000_000)) // long 1000 @ 100
	if err := ApplyFill(a, big.NewInt(-1500), big.NewInt(110_000_000)); err != nil {
		t.Fatalf("apply fill: %v", err)
	}
	// closed entire 1000 @ +10 profit = 10000, then opens short 500 @ 110
	if a.PnlRealized.Cmp(big.NewInt(10000)) != 0 {
		t.Fatalf("pnl realized = %s, want 10000", a.PnlRealized)
	}
	if a.PositionSize.Cmp(big.NewInt(-500)) != 0 {
		t.Fatalf("position size = %s, want -500", a.PositionSize)
	}
	if a.EntryPrice != 110_000_000 {
		t.Fatalf("entry price = %d, want 110000000", a.EntryPrice)
	}
}

func TestApplyFillFullCloseZeroesEntry(t *testing.T) {
	a := newAccount()
	_ = ApplyFill(a, big.NewInt(1000), big.NewInt(100_000_000))
	if err := ApplyFill(a, big.NewInt(-1000), big.NewInt(105_000_000)); err != nil {
		t.Fatalf("apply fill: %v", err)
	}
	if a.PositionSize.Sign() != 0 {
		t.Fatalf("position size = %s, want 0", a.PositionSize)
	}
	if a.EntryPrice != 0 {
		t.Fatalf("entry price = %d, want 0", a.EntryPrice)
	}
}

func TestSettleFundingBooksDeltaAndAdvancesSnapshot(t *testing.T) {
	a := newAccount()
	a.PositionSize = big.NewInt(1000)
	a.FundingIndexSnapshot = big.NewInt(0)
	if err := SettleFunding(a, big.NewInt(5_000)); err != nil {
		t.Fatalf("settle funding: %v", err)
	}
	// delta = 1000 * 5000 / 1e6 = 5
	if a.PnlRealized.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("pnl realized = %s, want 5", a.PnlRealized)
	}
	if a.FundingIndexSnapshot.Cmp(big.NewInt(5_000)) != 0 {
		t.Fatalf("funding snapshot = %s, want 5000", a.FundingIndexSnapshot)
	}
}
