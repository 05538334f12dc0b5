package oracle

import (
	"math/big"
	"testing"

	"percolat/crypto"
	"percolat/slab"
)

func baseMarket() *slab.MarketConfig {
	return &slab.MarketConfig{
		FeedKind:         slab.FeedKindPull,
		PriceFeed:        crypto.MustPubkey(bytesOf(1)),
		MaxStalenessSecs: 60,
		ConfFilterBps:    100,
	}
}

func bytesOf(b byte) []byte {
	out := make([]byte, crypto.PubkeySize)
	for i := range out {
		out[i] = b
	}
	return out
}

func TestResolveUsesAuthorityPriceWhenFresh(t *testing.T) {
	mc := baseMarket()
	es := &slab.EngineState{AuthorityPriceE6: 88_000_000_000, AuthorityTimestamp: 1000}
	price, ts, err := Resolve(mc, es, nil, 1010)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if price.Cmp(big.NewInt(88_000_000_000)) != 0 {
		t.Fatalf("price = %s, want 88000000000", price)
	}
	if ts != 1000 {
		t.Fatalf("ts = %d, want 1000", ts)
	}
}

func TestResolveFallsBackToFeedWhenAuthorityStale(t *testing.T) {
	mc := baseMarket()
	es := &slab.EngineState{AuthorityPriceE6: 88_000_000_000, AuthorityTimestamp: 1000}
	feed := &FeedRecord{
		FeedID:          mc.PriceFeed,
		PriceRaw:        8800,
		ConfRaw:         1,
		Expo:            -2, // 8800 * 10^-2 = 88.00
		PublishTimeUnix: 2000,
	}
	price, ts, err := Resolve(mc, es, feed, 2000+200) // authority age 1200 > 60
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := big.NewInt(88_000_000) // 88.00 in Q6
	if price.Cmp(want) != 0 {
		t.Fatalf("price = %s, want %s", price, want)
	}
	if ts != 2000 {
		t.Fatalf("ts = %d, want 2000", ts)
	}
}

func TestResolveRejectsZeroPrice(t *testing.T) {
	mc := baseMarket()
	es := &slab.EngineState{}
	feed := &FeedRecord{FeedID: mc.PriceFeed, PriceRaw: 0, PublishTimeUnix: 100}
	if _, _, err := Resolve(mc, es, feed, 100); err == nil {
		t.Fatalf("expected OraclePriceInvalid")
	}
}

func TestResolveRejectsStaleFeed(t *testing.T) {
	mc := baseMarket()
	es := &slab.EngineState{}
	feed := &FeedRecord{FeedID: mc.PriceFeed, PriceRaw: 100, Expo: 0, PublishTimeUnix: 0}
	if _, _, err := Resolve(mc, es, feed, 1000); err == nil {
		t.Fatalf("expected OracleStale")
	}
}

func TestResolveRejectsWideConfidence(t *testing.T) {
	mc := baseMarket()
	mc.ConfFilterBps = 10 // 0.1%
	es := &slab.EngineState{}
	feed := &FeedRecord{FeedID: mc.PriceFeed, PriceRaw: 100_000, ConfRaw: 1_000, Expo: 0, PublishTimeUnix: 5}
	if _, _, err := Resolve(mc, es, feed, 5); err == nil {
		t.Fatalf("expected ConfidenceTooWide")
	}
}

func TestResolveInvertsPrice(t *testing.T) {
	mc := baseMarket()
	mc.Invert = true
	es := &slab.EngineState{}
	// raw price 2_000_000 at expo -6 -> 2.0 Q6 = 2_000_000; inverted -> 10^12/2_000_000 = 500_000
	feed := &FeedRecord{FeedID: mc.PriceFeed, PriceRaw: 2_000_000, Expo: -6, PublishTimeUnix: 10}
	price, _, err := Resolve(mc, es, feed, 10)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if price.Cmp(big.NewInt(500_000)) != 0 {
		t.Fatalf("price = %s, want 500000", price)
	}
}

func TestResolveRejectsMismatchedPullFeedID(t *testing.T) {
	mc := baseMarket()
	es := &slab.EngineState{}
	feed := &FeedRecord{FeedID: crypto.MustPubkey(bytesOf(9)), PriceRaw: 100, PublishTimeUnix: 5}
	if _, _, err := Resolve(mc, es, feed, 5); err == nil {
		t.Fatalf("expected OracleUnavailable on feed id mismatch")
	}
}

func TestResolveRejectsMissingFeed(t *testing.T) {
	mc := baseMarket()
	es := &slab.EngineState{}
	if _, _, err := Resolve(mc, es, nil, 5); err == nil {
		t.Fatalf("expected OracleUnavailable when no feed and no authority price")
	}
}
