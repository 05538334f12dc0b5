package invariant

import (
	"math/big"
	"testing"

	"percolat/slab"
)

func newSlab(n int) *slab.Slab {
	s := &slab.Slab{
		RiskParams: slab.RiskParams{MaxAccounts: uint64(n), InitialMarginBps: 1000, MaintenanceMarginBps: 500},
		Engine: slab.EngineState{
			Bitmap:    make([]uint64, slab.BitmapWords(uint64(n))),
			Vault:     big.NewInt(0),
			Insurance: slab.InsuranceFund{Balance: big.NewInt(0), FeeRevenue: big.NewInt(0)},
			PnlPosTot: big.NewInt(0),
		},
		Accounts: make([]slab.AccountRecord, n),
	}
	for i := range s.Accounts {
		s.Accounts[i] = slab.NewEmptyAccountRecord()
	}
	return s
}

func markUsed(s *slab.Slab, idx uint64, accountID uint64) {
	s.Accounts[idx].InUse = true
	s.Accounts[idx].AccountID = accountID
	s.Engine.Bitmap[idx/64] |= 1 << (idx % 64)
	s.Engine.NumUsedAccounts++
}

func TestCheckConservationPasses(t *testing.T) {
	s := newSlab(2)
	markUsed(s, 0, 0)
	s.Accounts[0].Capital = big.NewInt(100)
	s.Engine.Vault = big.NewInt(100)
	if err := CheckConservation(s, 0); err != nil {
		t.Fatalf("expected conservation to hold: %v", err)
	}
}

func TestCheckConservationFailsOnMismatch(t *testing.T) {
	s := newSlab(2)
	markUsed(s, 0, 0)
	s.Accounts[0].Capital = big.NewInt(100)
	s.Engine.Vault = big.NewInt(50)
	if err := CheckConservation(s, 0); err == nil {
		t.Fatalf("expected conservation violation")
	}
}

func TestCheckConservationFloorAllowsVaultSurplus(t *testing.T) {
	s := newSlab(1)
	markUsed(s, 0, 0)
	s.Accounts[0].Capital = big.NewInt(100)
	s.Engine.Vault = big.NewInt(250) // uninsured-loss residual sitting unclaimed
	if err := CheckConservationFloor(s, 0); err != nil {
		t.Fatalf("expected vault surplus to pass the floor check: %v", err)
	}
}

func TestCheckConservationFloorRejectsShortfall(t *testing.T) {
	s := newSlab(1)
	markUsed(s, 0, 0)
	s.Accounts[0].Capital = big.NewInt(100)
	s.Engine.Vault = big.NewInt(50) // claims exceed what the vault holds
	if err := CheckConservationFloor(s, 0); err == nil {
		t.Fatalf("expected shortfall violation")
	}
}

func TestCheckBitmapIntegrityDetectsDesync(t *testing.T) {
	s := newSlab(2)
	markUsed(s, 0, 0)
	s.Engine.NumUsedAccounts = 5 // desynced on purpose
	if err := CheckBitmapIntegrity(s); err == nil {
		t.Fatalf("expected bitmap integrity failure")
	}
}

func TestCheckIDMonotonicityDetectsViolation(t *testing.T) {
	s := newSlab(2)
	markUsed(s, 0, 7)
	s.Engine.NextAccountID = 3 // must exceed every used id; 7 > 3 violates
	if err := CheckIDMonotonicity(s); err == nil {
		t.Fatalf("expected id monotonicity violation")
	}
}

func TestCheckOpenInterestBalancePasses(t *testing.T) {
	s := newSlab(2)
	markUsed(s, 0, 0)
	markUsed(s, 1, 1)
	s.Accounts[0].PositionSize = big.NewInt(1000)
	s.Accounts[1].PositionSize = big.NewInt(-1000)
	if err := CheckOpenInterestBalance(s); err != nil {
		t.Fatalf("expected OI balance to hold: %v", err)
	}
}

func TestCheckOpenInterestBalanceFailsOnImbalance(t *testing.T) {
	s := newSlab(2)
	markUsed(s, 0, 0)
	markUsed(s, 1, 1)
	s.Accounts[0].PositionSize = big.NewInt(1000)
	s.Accounts[1].PositionSize = big.NewInt(-500)
	if err := CheckOpenInterestBalance(s); err == nil {
		t.Fatalf("expected OI imbalance violation")
	}
}

func TestCheckNoNegativeCapitalDetectsViolation(t *testing.T) {
	s := newSlab(1)
	markUsed(s, 0, 0)
	s.Accounts[0].Capital = big.NewInt(-1)
	if err := CheckNoNegativeCapital(s); err == nil {
		t.Fatalf("expected negative capital violation")
	}
}

func TestCheckMarginOrder(t *testing.T) {
	if err := CheckMarginOrder(&slab.RiskParams{InitialMarginBps: 1000, MaintenanceMarginBps: 500}); err != nil {
		t.Fatalf("expected valid margin order: %v", err)
	}
	if err := CheckMarginOrder(&slab.RiskParams{InitialMarginBps: 500, MaintenanceMarginBps: 500}); err == nil {
		t.Fatalf("expected violation when maintenance == initial")
	}
}

func TestCheckHaircutRatioBounds(t *testing.T) {
	if err := CheckHaircutRatio(big.NewInt(50), big.NewInt(100)); err != nil {
		t.Fatalf("0.5 ratio should be valid: %v", err)
	}
	if err := CheckHaircutRatio(big.NewInt(150), big.NewInt(100)); err == nil {
		t.Fatalf("expected violation for ratio > 1")
	}
	if err := CheckHaircutRatio(big.NewInt(-1), big.NewInt(100)); err == nil {
		t.Fatalf("expected violation for negative ratio")
	}
}
