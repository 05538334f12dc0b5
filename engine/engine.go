// Package engine implements the slab's operation dispatcher: one method per
// spec §6 operation tag, driving the trade pipeline (§4.9), liquidation
// (§4.10), and the minimal admin surface (§4.12).
//
// Grounded on native/lending/engine.go's Engine struct: nil-receiver
// guards, Set*-style configuration, and accrue-then-check-then-mutate-then-
// persist method bodies, adapted from a lending pool's borrow/repay surface
// to a perpetual market's trade/liquidate/admin surface.
package engine

import (
	"math/big"

	"percolat/crank"
	"percolat/crypto"
	"percolat/errcode"
	"percolat/fixedpoint"
	"percolat/invariant"
	"percolat/margin"
	"percolat/matcher"
	"percolat/position"
	"percolat/slab"
	"percolat/slab/accountset"
)

// invariantDustTolerance bounds the rounding slack that commitCheck passes to
// invariant.CheckAllDefensive's conservation-floor check. Each
// commit path below settles at most two accounts, so a few lamports of
// ceil-rounding dust per settlement is expected and not a defect.
const invariantDustTolerance = 8

// commitCheck runs the defensive structural checks (spec §8 P1-P6)
// against s before an operation reports success. It uses
// invariant.CheckAllDefensive rather than CheckAll: a liquidation or trade
// that settles an uninsured loss can legitimately leave vault ahead of
// Σcapital+insurance.balance+pnl_pos_tot (spec §4's "vault >= ..." general
// statement) until a later crank sweep socializes or recovers it, and that
// surplus must not trip the engine's own defenses. commitCheck is the
// engine's last line of defense against a logic error corrupting the
// bitmap, margin ordering, or — the direction that is never legitimate —
// capital or insurance claiming more than the vault actually holds; callers
// discard s on a non-nil return along with the rest of the failed operation.
func commitCheck(s *slab.Slab) error {
	return invariant.CheckAllDefensive(s, invariantDustTolerance)
}

// TradingFeeAllToInsurance records spec §7 Open Question 2's resolution:
// 100% of trading and liquidation fees route to the insurance fund, as a
// fixed policy rather than a configurable split.
const TradingFeeAllToInsurance = true

// Engine drives operations against a single in-memory Slab. It is not safe
// for concurrent use on the same Slab, matching spec §5's single-threaded-
// per-slab execution model; the reentrancy guard inside only protects
// against the matcher calling back in, not against concurrent callers.
//
// Every operation method mutates s in place as it goes and may return an
// error partway through. Callers must only persist s (encode it back to
// the slab's byte buffer) after a nil error; on error the in-memory
// mutations are discarded along with the rest of the failed instruction,
// the same all-or-nothing semantics a Solana runtime gives an aborted
// transaction.
type Engine struct {
	guard matcher.Guard
}

// New returns a ready-to-use Engine.
func New() *Engine {
	return &Engine{}
}

// InitMarket populates a freshly allocated Slab (Accounts/Bitmap already
// sized to rp.MaxAccounts by the caller) with its header, market config,
// and risk params, leaving engine state zeroed (tag 0).
func (e *Engine) InitMarket(s *slab.Slab, admin, mint, vault, feedID crypto.Pubkey, maxStalenessSecs uint64, confFilterBps uint16, invert bool, unitScale uint32, rp slab.RiskParams) error {
	if rp.MaintenanceMarginBps >= rp.InitialMarginBps {
		return errcode.ErrInvariantViolation
	}
	if uint64(len(s.Accounts)) != rp.MaxAccounts {
		return errcode.ErrSlabSizeMismatch
	}

	s.Header = slab.Header{Version: slab.CurrentVersion, Admin: admin}
	s.MarketConfig = slab.MarketConfig{
		CollateralMint:   mint,
		Vault:            vault,
		FeedKind:         slab.FeedKindPull,
		PriceFeed:        feedID,
		MaxStalenessSecs: maxStalenessSecs,
		ConfFilterBps:    confFilterBps,
		Invert:           invert,
		UnitScale:        unitScale,
	}
	s.RiskParams = rp
	s.Engine = slab.EngineState{
		FundingIndexQPE6:  big.NewInt(0),
		Insurance:         slab.InsuranceFund{Balance: big.NewInt(0), FeeRevenue: big.NewInt(0)},
		Vault:             big.NewInt(0),
		LossAccum:         big.NewInt(0),
		NextAccountID:     0,
		TotalOpenInterest: big.NewInt(0),
		LpSumAbs:          big.NewInt(0),
		LpMaxAbs:          big.NewInt(0),
		LpNetNotional:     big.NewInt(0),
		PnlPosTot:         big.NewInt(0),
		PnlNegTot:         big.NewInt(0),
		Bitmap:            make([]uint64, slab.BitmapWords(rp.MaxAccounts)),
	}
	for i := range s.Accounts {
		s.Accounts[i] = slab.NewEmptyAccountRecord()
	}
	return nil
}

// InitUser creates a new user account (tag 1). feePayment must equal
// RiskParams.NewAccountFee; it is credited entirely to insurance (spec §8
// S2: "each account's capital = 0 (fee -> insurance)").
func (e *Engine) InitUser(s *slab.Slab, owner crypto.Pubkey, feePayment uint64) (uint64, error) {
	return e.initAccount(s, owner, slab.AccountKindUser, crypto.ZeroPubkey, crypto.ZeroPubkey, feePayment)
}

// InitLP creates a new LP account (tag 2), registering its matcher program
// and context for future TradeCpi calls.
func (e *Engine) InitLP(s *slab.Slab, owner, matcherProgram, matcherContext crypto.Pubkey, feePayment uint64) (uint64, error) {
	return e.initAccount(s, owner, slab.AccountKindLP, matcherProgram, matcherContext, feePayment)
}

func (e *Engine) initAccount(s *slab.Slab, owner crypto.Pubkey, kind slab.AccountKind, matcherProgram, matcherContext crypto.Pubkey, feePayment uint64) (uint64, error) {
	fee := new(big.Int).SetUint64(feePayment)
	if fee.Cmp(s.RiskParams.NewAccountFee) != 0 {
		return 0, errcode.ErrInsufficientCapital
	}

	idx, accountID, err := accountset.AllocSlot(s)
	if err != nil {
		return 0, err
	}

	a := &s.Accounts[idx]
	a.Kind = kind
	a.Owner = owner
	a.MatcherProgram = matcherProgram
	a.MatcherContext = matcherContext

	s.Engine.Vault = new(big.Int).Add(s.Engine.Vault, fee)
	s.Engine.Insurance.Balance = new(big.Int).Add(s.Engine.Insurance.Balance, fee)
	s.Engine.Insurance.FeeRevenue = new(big.Int).Add(s.Engine.Insurance.FeeRevenue, fee)

	if err := commitCheck(s); err != nil {
		return 0, err
	}
	return accountID, nil
}

// DepositCollateral credits amount to an account's capital and the vault
// image (tag 3).
func (e *Engine) DepositCollateral(s *slab.Slab, idx uint64, amount uint64) error {
	a, err := accountAt(s, idx)
	if err != nil {
		return err
	}
	amt := new(big.Int).SetUint64(amount)
	capital, err := fixedpoint.AddU128(a.Capital, amt)
	if err != nil {
		return err
	}
	a.Capital = capital
	s.Engine.Vault = new(big.Int).Add(s.Engine.Vault, amt)
	return commitCheck(s)
}

// WithdrawCollateral debits amount from an account's capital after
// settling its funding leg and checking post-withdraw margin (tag 4, spec
// §4.6).
func (e *Engine) WithdrawCollateral(s *slab.Slab, idx uint64, amount uint64, markQ6 *big.Int) error {
	a, err := accountAt(s, idx)
	if err != nil {
		return err
	}
	if err := settleFundingOne(s, a); err != nil {
		return err
	}

	amt := new(big.Int).SetUint64(amount)
	remaining, err := fixedpoint.SubU128(a.Capital, amt)
	if err != nil {
		return errcode.ErrInsufficientCapital
	}

	trial := *a
	trial.Capital = remaining
	m := margin.Compute(&trial, markQ6, &s.RiskParams)
	if !m.MeetsInitialMargin() {
		return errcode.ErrInsufficientMargin
	}

	a.Capital = remaining
	s.Engine.Vault = new(big.Int).Sub(s.Engine.Vault, amt)
	return commitCheck(s)
}

// KeeperCrank runs one sweep of spec §4.11 (tag 5). It takes no caller
// index and treats every call alike; the host is responsible for checking
// any caller's signer before calling this.
func (e *Engine) KeeperCrank(s *slab.Slab, in crank.Input) (crank.Result, error) {
	res, err := crank.Sweep(s, in)
	if err != nil {
		return res, err
	}
	if err := commitCheck(s); err != nil {
		return res, err
	}
	return res, nil
}

// TopUpInsurance credits the insurance fund directly from an external
// depositor (tag 9).
func (e *Engine) TopUpInsurance(s *slab.Slab, amount uint64) error {
	amt := new(big.Int).SetUint64(amount)
	s.Engine.Insurance.Balance = new(big.Int).Add(s.Engine.Insurance.Balance, amt)
	s.Engine.Vault = new(big.Int).Add(s.Engine.Vault, amt)
	return commitCheck(s)
}

// CloseAccount frees an account's slot once it carries no capital,
// position, or outstanding credits (tag 8).
func (e *Engine) CloseAccount(s *slab.Slab, idx uint64) error {
	a, err := accountAt(s, idx)
	if err != nil {
		return err
	}
	if a.Capital.Sign() != 0 || a.PositionSize.Sign() != 0 ||
		a.PnlRealized.Sign() != 0 || a.PnlReserved.Sign() != 0 || a.FeeCredits.Sign() != 0 {
		return errcode.ErrInsufficientCapital
	}
	if err := accountset.FreeSlot(s, idx); err != nil {
		return err
	}
	return commitCheck(s)
}

// SetRiskThreshold is the admin-gated manual override of
// risk_reduction_threshold (tag 11). Callers must authenticate the admin
// signer before calling this.
func (e *Engine) SetRiskThreshold(s *slab.Slab, newThreshold *big.Int) error {
	s.RiskParams.RiskReductionThreshold = new(big.Int).Set(newThreshold)
	s.Header.LastThresholdUpdateSlot = s.Engine.CurrentSlot
	return nil
}

// UpdateAdmin rotates the admin key (tag 12).
func (e *Engine) UpdateAdmin(s *slab.Slab, newAdmin crypto.Pubkey) error {
	s.Header.Admin = newAdmin
	return nil
}

// SetOracleAuthority installs or clears the admin-push oracle authority
// (spec §4.12).
func (e *Engine) SetOracleAuthority(s *slab.Slab, authority crypto.Pubkey) error {
	s.MarketConfig.OracleAuthoritySet = !authority.IsZero()
	s.MarketConfig.OracleAuthority = authority
	return nil
}

// PushOraclePrice is the authority-signed price push (spec §4.12): it only
// ever updates authority_price_e6/authority_timestamp, and performs no
// validity check beyond non-zero (spec §4.4, §7 Open Question 1).
func (e *Engine) PushOraclePrice(s *slab.Slab, priceE6 uint64, tsUnix int64) error {
	if priceE6 == 0 {
		return errcode.ErrOraclePriceInvalid
	}
	s.Engine.AuthorityPriceE6 = priceE6
	s.Engine.AuthorityTimestamp = tsUnix
	return nil
}

// CloseSlab is the terminal admin operation (tag 13). The host is
// responsible for reclaiming the backing account once this returns nil; the
// core only requires the market be fully wound down first.
func (e *Engine) CloseSlab(s *slab.Slab) error {
	if s.Engine.NumUsedAccounts != 0 {
		return errcode.ErrInvariantViolation
	}
	if s.Engine.Vault.Sign() != 0 {
		return errcode.ErrInvariantViolation
	}
	return nil
}

// settleFundingOne books a's funding leg up to the engine's current index.
// Every settlement point (trade, withdraw, crank sweep) must call this
// before evaluating margin or moving capital, so PnlRealized reflects
// funding accrued to this exact slot.
func settleFundingOne(s *slab.Slab, a *slab.AccountRecord) error {
	return position.SettleFunding(a, s.Engine.FundingIndexQPE6)
}

func accountAt(s *slab.Slab, idx uint64) (*slab.AccountRecord, error) {
	if idx >= uint64(len(s.Accounts)) {
		return nil, errcode.ErrInvalidIndex
	}
	a := &s.Accounts[idx]
	if !a.InUse {
		return nil, errcode.ErrInvalidIndex
	}
	return a, nil
}
