package accountset

import (
	"math/big"
	"testing"

	"percolat/slab"
)

func newTestSlab(maxAccounts uint64) *slab.Slab {
	s := &slab.Slab{
		RiskParams: slab.RiskParams{MaxAccounts: maxAccounts},
		Engine: slab.EngineState{
			Bitmap:        make([]uint64, slab.BitmapWords(maxAccounts)),
			NextAccountID: 1,
		},
		Accounts: make([]slab.AccountRecord, maxAccounts),
	}
	for i := range s.Accounts {
		s.Accounts[i] = slab.NewEmptyAccountRecord()
	}
	return s
}

func TestAllocSlotSequential(t *testing.T) {
	s := newTestSlab(4)
	idx0, id0, err := AllocSlot(s)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if idx0 != 0 || id0 != 1 {
		t.Fatalf("got idx=%d id=%d, want idx=0 id=1", idx0, id0)
	}
	idx1, id1, err := AllocSlot(s)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if idx1 != 1 || id1 != 2 {
		t.Fatalf("got idx=%d id=%d, want idx=1 id=2", idx1, id1)
	}
	if s.Engine.NumUsedAccounts != 2 {
		t.Fatalf("num_used_accounts = %d, want 2", s.Engine.NumUsedAccounts)
	}
}

func TestAllocSlotMarketFull(t *testing.T) {
	s := newTestSlab(2)
	if _, _, err := AllocSlot(s); err != nil {
		t.Fatalf("alloc 1: %v", err)
	}
	if _, _, err := AllocSlot(s); err != nil {
		t.Fatalf("alloc 2: %v", err)
	}
	if _, _, err := AllocSlot(s); err == nil {
		t.Fatalf("expected market full error")
	}
}

func TestFreeSlotReusesIndex(t *testing.T) {
	s := newTestSlab(2)
	idx0, _, _ := AllocSlot(s)
	idx1, _, _ := AllocSlot(s)
	if err := FreeSlot(s, idx0); err != nil {
		t.Fatalf("free: %v", err)
	}
	if s.Engine.NumUsedAccounts != 1 {
		t.Fatalf("num_used_accounts = %d, want 1", s.Engine.NumUsedAccounts)
	}
	idx2, id2, err := AllocSlot(s)
	if err != nil {
		t.Fatalf("realloc: %v", err)
	}
	if idx2 != idx0 {
		t.Fatalf("expected freed slot %d to be reused, got %d", idx0, idx2)
	}
	if id2 <= idx1 {
		// account ids are monotonic regardless of slot reuse
	}
}

func TestFreeSlotRejectsUnusedIndex(t *testing.T) {
	s := newTestSlab(2)
	if err := FreeSlot(s, 0); err == nil {
		t.Fatalf("expected error freeing a never-allocated slot")
	}
}

func TestFreeSlotZeroesRecord(t *testing.T) {
	s := newTestSlab(1)
	idx, _, _ := AllocSlot(s)
	s.Accounts[idx].Capital = big.NewInt(500)
	if err := FreeSlot(s, idx); err != nil {
		t.Fatalf("free: %v", err)
	}
	if s.Accounts[idx].Capital.Sign() != 0 {
		t.Fatalf("expected zeroed capital after free, got %s", s.Accounts[idx].Capital)
	}
}

func TestCountUsedMatchesBitmap(t *testing.T) {
	s := newTestSlab(130)
	for i := 0; i < 5; i++ {
		if _, _, err := AllocSlot(s); err != nil {
			t.Fatalf("alloc %d: %v", i, err)
		}
	}
	if got := CountUsed(s.Engine.Bitmap); got != 5 {
		t.Fatalf("CountUsed = %d, want 5", got)
	}
}
