package funding

import (
	"math/big"
	"testing"

	"percolat/slab"
)

func baseRiskParams() *slab.RiskParams {
	return &slab.RiskParams{
		FundingHorizonSlots:  1000,
		FundingKBps:          100,
		FundingScaleNotional: big.NewInt(1_000_000),
		FundingMaxPremiumBps: 50,
		FundingMaxBpsPerSlot: 10,
	}
}

func TestStepNoElapsedSlotsIsNoop(t *testing.T) {
	es := &slab.EngineState{
		FundingIndexQPE6: big.NewInt(100),
		LastFundingSlot:  10,
		LpNetNotional:    big.NewInt(0),
	}
	got := Step(es, baseRiskParams(), 10)
	if got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("index = %s, want unchanged 100", got)
	}
}

func TestStepPositiveImbalanceIncreasesIndex(t *testing.T) {
	es := &slab.EngineState{
		FundingIndexQPE6: big.NewInt(0),
		LastFundingSlot:  0,
		LpNetNotional:    big.NewInt(500_000), // half of scale -> premium = 100*500000/1000000=50, clamped to max 50
	}
	got := Step(es, baseRiskParams(), 100)
	if got.Sign() <= 0 {
		t.Fatalf("expected positive funding index delta, got %s", got)
	}
}

func TestStepClampsPremiumToMax(t *testing.T) {
	rp := baseRiskParams()
	es := &slab.EngineState{
		FundingIndexQPE6: big.NewInt(0),
		LastFundingSlot:  0,
		LpNetNotional:    big.NewInt(10_000_000), // wildly over scale
	}
	unclamped := Step(es, rp, 1)
	es2 := &slab.EngineState{
		FundingIndexQPE6: big.NewInt(0),
		LastFundingSlot:  0,
		LpNetNotional:    big.NewInt(1_000_000), // exactly at scale -> premium = kBps = 100 > max 50, clamps too
	}
	clamped := Step(es2, rp, 1)
	if unclamped.Cmp(clamped) != 0 {
		t.Fatalf("expected both wildly-over-scale imbalances to clamp to the same rate: %s vs %s", unclamped, clamped)
	}
}

func TestStepNegativeImbalanceDecreasesIndex(t *testing.T) {
	es := &slab.EngineState{
		FundingIndexQPE6: big.NewInt(1000),
		LastFundingSlot:  0,
		LpNetNotional:    big.NewInt(-500_000),
	}
	got := Step(es, baseRiskParams(), 50)
	if got.Cmp(big.NewInt(1000)) >= 0 {
		t.Fatalf("expected funding index to decrease from 1000, got %s", got)
	}
}

func TestStepClampsElapsedSlotsToHorizon(t *testing.T) {
	rp := baseRiskParams()
	es := &slab.EngineState{
		FundingIndexQPE6: big.NewInt(0),
		LastFundingSlot:  0,
		LpNetNotional:    big.NewInt(500_000),
	}
	atHorizon := Step(es, rp, rp.FundingHorizonSlots)
	beyondHorizon := Step(es, rp, rp.FundingHorizonSlots*10)
	if atHorizon.Cmp(beyondHorizon) != 0 {
		t.Fatalf("elapsed slots beyond horizon should clamp identically: %s vs %s", atHorizon, beyondHorizon)
	}
}
