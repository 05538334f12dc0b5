package slab

import (
	"math/big"
	"testing"

	"percolat/crypto"
)

func sampleSlab(maxAccounts uint64) *Slab {
	s := &Slab{
		Header: Header{
			Version: CurrentVersion,
			Bump:    255,
			Admin:   crypto.MustPubkey(bytesOf(1)),
			Nonce:   7,
		},
		MarketConfig: MarketConfig{
			CollateralMint:   crypto.MustPubkey(bytesOf(2)),
			Vault:            crypto.MustPubkey(bytesOf(3)),
			FeedKind:         FeedKindPull,
			PriceFeed:        crypto.MustPubkey(bytesOf(4)),
			MaxStalenessSecs: 60,
			ConfFilterBps:    50,
			UnitScale:        1,
		},
		RiskParams: RiskParams{
			WarmupPeriodSlots:      100,
			MaintenanceMarginBps:   300,
			InitialMarginBps:       500,
			TradingFeeBps:          10,
			MaxAccounts:            maxAccounts,
			NewAccountFee:          big.NewInt(1_000_000),
			RiskReductionThreshold: big.NewInt(50_000_000),
			MaintenanceFeePerSlot:  big.NewInt(1),
			MaxCrankStalenessSlots: 150,
			LiquidationFeeBps:      50,
			LiquidationFeeCap:      big.NewInt(10_000_000),
			LiquidationBufferBps:   20,
			MinLiquidationAbs:      big.NewInt(1000),
			FundingHorizonSlots:    216_000,
			FundingKBps:            1,
			FundingScaleNotional:   big.NewInt(1_000_000_000),
			FundingMaxPremiumBps:   200,
			FundingMaxBpsPerSlot:   5,

			ThreshUpdateIntervalSlots: 50,
		},
		Engine: EngineState{
			CurrentSlot:        42,
			FundingIndexQPE6:   big.NewInt(-123456),
			Insurance:          InsuranceFund{Balance: big.NewInt(0), FeeRevenue: big.NewInt(0)},
			Vault:              big.NewInt(0),
			LossAccum:          big.NewInt(0),
			NextAccountID:      1,
			TotalOpenInterest:  big.NewInt(0),
			LpSumAbs:           big.NewInt(0),
			LpMaxAbs:           big.NewInt(0),
			LpNetNotional:      big.NewInt(0),
			PnlPosTot:          big.NewInt(0),
			PnlNegTot:          big.NewInt(0),
			AuthorityPriceE6:   0,
			AuthorityTimestamp: 0,
			Bitmap:             make([]uint64, BitmapWords(maxAccounts)),
		},
	}
	s.Accounts = make([]AccountRecord, maxAccounts)
	for i := range s.Accounts {
		s.Accounts[i] = NewEmptyAccountRecord()
	}
	s.Accounts[0].AccountID = 1
	s.Accounts[0].Owner = crypto.MustPubkey(bytesOf(9))
	s.Accounts[0].Capital = big.NewInt(500_000_000)
	s.Accounts[0].PositionSize = big.NewInt(-777)
	s.Engine.Bitmap[0] = 1
	s.Engine.NumUsedAccounts = 1
	return s
}

func bytesOf(b byte) []byte {
	out := make([]byte, crypto.PubkeySize)
	for i := range out {
		out[i] = b
	}
	return out
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	s := sampleSlab(8)
	buf, err := Encode(s)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(buf) != EncodedSize(8) {
		t.Fatalf("encoded size = %d, want %d", len(buf), EncodedSize(8))
	}

	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if got.Header.Admin != s.Header.Admin {
		t.Fatalf("admin mismatch")
	}
	if got.Engine.FundingIndexQPE6.Cmp(s.Engine.FundingIndexQPE6) != 0 {
		t.Fatalf("funding index mismatch: got %s want %s", got.Engine.FundingIndexQPE6, s.Engine.FundingIndexQPE6)
	}
	if got.Accounts[0].Capital.Cmp(s.Accounts[0].Capital) != 0 {
		t.Fatalf("capital mismatch")
	}
	if got.Accounts[0].PositionSize.Cmp(big.NewInt(-777)) != 0 {
		t.Fatalf("position size mismatch: got %s", got.Accounts[0].PositionSize)
	}
	if !got.Accounts[0].InUse {
		t.Fatalf("expected account 0 marked in-use from bitmap")
	}
	if got.Accounts[1].InUse {
		t.Fatalf("expected account 1 marked free")
	}

	buf2, err := Encode(got)
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	if string(buf) != string(buf2) {
		t.Fatalf("re-encoded bytes differ from original, codec is not byte-stable")
	}
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	s := sampleSlab(4)
	buf, _ := Encode(s)
	buf[0] ^= 0xFF
	if _, err := Decode(buf); err == nil {
		t.Fatalf("expected magic mismatch error")
	}
}

func TestDecodeRejectsWrongVersion(t *testing.T) {
	s := sampleSlab(4)
	buf, _ := Encode(s)
	buf[8] = 99 // version is a little-endian uint32 right after the 8-byte magic
	if _, err := Decode(buf); err == nil {
		t.Fatalf("expected version mismatch error")
	}
}

func TestDecodeRejectsTruncatedBuffer(t *testing.T) {
	s := sampleSlab(4)
	buf, _ := Encode(s)
	if _, err := Decode(buf[:len(buf)-1]); err == nil {
		t.Fatalf("expected size mismatch error on truncated buffer")
	}
}

func TestMagicUint64(t *testing.T) {
	if MagicUint64() != 0x504552434f4c4154 {
		t.Fatalf("magic = %x, want 0x504552434f4c4154", MagicUint64())
	}
}
