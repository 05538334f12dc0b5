// Package slab implements the fixed-layout binary state record described in
// spec.md §3: a market's configuration, risk parameters, engine state,
// allocator bitmap, and account array, all addressable at fixed byte
// offsets (spec §4.2, §6).
//
// The in-memory representation below (Slab, MarketConfig, RiskParams,
// EngineState, AccountRecord) is what every other package in this module
// operates on. Encode/Decode (codec.go) round-trip it to the literal byte layout
// spec.md §6 pins, the same "decode into a typed view, mutate the view,
// encode back" discipline the teacher's native/lending module uses for its
// own aggregates (native/lending/config.go's Clone-per-type convention).
package slab

import (
	"math/big"

	"percolat/crypto"
)

// CurrentVersion is the only version this codec accepts.
const CurrentVersion uint32 = 1

// AccountKind tags whether a slot is a User or an LP (spec §3, §9: no
// inheritance, branch on the tag).
type AccountKind uint8

const (
	AccountKindUser AccountKind = 0
	AccountKindLP   AccountKind = 1
)

// FeedKind selects how MarketConfig.PriceFeed is interpreted (spec §3's
// "selection is by length/type tag").
type FeedKind uint8

const (
	// FeedKindPull treats PriceFeed as a pull-oracle feed id.
	FeedKindPull FeedKind = 0
	// FeedKindPush treats PriceFeed as a push-oracle account key.
	FeedKindPush FeedKind = 1
)

// Header is the slab's 8-byte-magic, versioned preamble (spec §3, §6).
type Header struct {
	Version                 uint32
	Bump                    uint8
	Admin                   crypto.Pubkey
	Nonce                   uint64
	LastThresholdUpdateSlot uint64
}

// MarketConfig is immutable after init-market except for the admin-gated
// oracle authority fields (spec §3).
type MarketConfig struct {
	CollateralMint     crypto.Pubkey
	Vault              crypto.Pubkey
	VaultAuthorityBump uint8

	FeedKind         FeedKind
	PriceFeed        crypto.Pubkey
	MaxStalenessSecs uint64
	ConfFilterBps    uint16
	Invert           bool
	UnitScale        uint32

	OracleAuthoritySet bool
	OracleAuthority    crypto.Pubkey
}

// RiskParams holds every governance-adjustable risk knob (spec §3).
type RiskParams struct {
	WarmupPeriodSlots      uint64
	MaintenanceMarginBps   uint64
	InitialMarginBps       uint64
	TradingFeeBps          uint64
	MaxAccounts            uint64
	NewAccountFee          *big.Int // u128
	RiskReductionThreshold *big.Int // u128, auto-adjusting
	MaintenanceFeePerSlot  *big.Int // u128
	MaxCrankStalenessSlots uint64

	LiquidationFeeBps    uint64
	LiquidationFeeCap    *big.Int // u128
	LiquidationBufferBps uint64
	MinLiquidationAbs    *big.Int // u128

	FundingHorizonSlots  uint64
	FundingKBps          uint64
	FundingScaleNotional *big.Int // u128
	FundingMaxPremiumBps uint64
	FundingMaxBpsPerSlot uint64

	ThreshUpdateIntervalSlots uint64
}

// InsuranceFund backs socialized loss and collects trading/liquidation fees
// (spec §3, §4.8).
type InsuranceFund struct {
	Balance     *big.Int // u128
	FeeRevenue  *big.Int // u128
}

// EngineState is the market's mutable runtime state (spec §3).
type EngineState struct {
	CurrentSlot            uint64
	LastCrankSlot          uint64
	LastFullSweepStartSlot uint64

	FundingIndexQPE6 *big.Int // i128, Q6
	LastFundingSlot  uint64

	Insurance InsuranceFund
	Vault     *big.Int // u128, trusted image of the external vault balance
	LossAccum *big.Int // i128

	RiskReductionOnly bool
	WarmupPaused      bool

	LifetimeLiquidations uint64
	LifetimeForceCloses  uint64

	NextAccountID   uint64
	NumUsedAccounts uint16

	TotalOpenInterest *big.Int // u128
	LpSumAbs          *big.Int // u128
	LpMaxAbs          *big.Int // u128
	LpNetNotional     *big.Int // i128, signed sum of LP position sizes in units; not valued at a price
	PnlPosTot         *big.Int // u128
	PnlNegTot         *big.Int // u128

	AuthorityPriceE6  uint64
	AuthorityTimestamp int64

	// Bitmap is ceil(MaxAccounts/64) words; bit i set means Accounts[i] is
	// populated (spec §4.3).
	Bitmap []uint64
}

// AccountRecord is one fixed-stride slot in the account array (spec §3).
type AccountRecord struct {
	InUse bool // derived from the bitmap at decode time; not itself encoded

	AccountID uint64
	Kind      AccountKind
	Owner     crypto.Pubkey

	Capital      *big.Int // u128
	PnlRealized  *big.Int // i128
	PnlReserved  *big.Int // u128

	WarmupStartedAtSlot uint64
	WarmupSlopePerStep  *big.Int // u128

	PositionSize *big.Int // i128, units
	EntryPrice   uint64   // Q6

	FundingIndexSnapshot *big.Int // i128
	FeeCredits           *big.Int // i128

	MatcherProgram crypto.Pubkey // zero for users
	MatcherContext crypto.Pubkey // zero for users
}

// IsLP reports whether the account is a liquidity provider / default
// counterparty.
func (a *AccountRecord) IsLP() bool { return a.Kind == AccountKindLP }

// Slab is the complete in-memory view of one market. MaxAccounts fixes the
// physical size of Accounts/Bitmap for the lifetime of the slab (spec §4.2:
// "runtime-declared max_accounts must not exceed the physical capacity").
type Slab struct {
	Header       Header
	MarketConfig MarketConfig
	RiskParams   RiskParams
	Engine       EngineState
	Accounts     []AccountRecord
}

// NewEmptyAccountRecord returns a zeroed record with non-nil big.Int fields,
// matching native/lending/config.go's EnsureDefaults convention of never
// leaving a *big.Int nil where arithmetic will touch it.
func NewEmptyAccountRecord() AccountRecord {
	return AccountRecord{
		Capital:              big.NewInt(0),
		PnlRealized:          big.NewInt(0),
		PnlReserved:          big.NewInt(0),
		WarmupSlopePerStep:   big.NewInt(0),
		PositionSize:         big.NewInt(0),
		FundingIndexSnapshot: big.NewInt(0),
		FeeCredits:           big.NewInt(0),
	}
}
