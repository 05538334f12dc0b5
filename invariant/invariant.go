// Package invariant implements the testable properties from spec §8 (P1-P8)
// as defensive checks callable by the engine's tests and, optionally, by a
// paranoid host after any operation.
package invariant

import (
	"math/big"

	"percolat/errcode"
	"percolat/slab"
	"percolat/slab/accountset"
)

// CheckConservation enforces P1: vault == Σ capital_i + insurance.balance +
// pnl_pos_tot, within a dust tolerance proportional to the number of
// settlements performed in the operation under test.
func CheckConservation(s *slab.Slab, maxDustLamports int64) error {
	sumCapital := big.NewInt(0)
	for i := range s.Accounts {
		if s.Accounts[i].InUse {
			sumCapital = new(big.Int).Add(sumCapital, s.Accounts[i].Capital)
		}
	}
	rhs := new(big.Int).Add(sumCapital, s.Engine.Insurance.Balance)
	rhs = rhs.Add(rhs, s.Engine.PnlPosTot)

	dust := new(big.Int).Sub(s.Engine.Vault, rhs)
	dust = dust.Abs(dust)
	if dust.Cmp(big.NewInt(maxDustLamports)) > 0 {
		return errcode.ErrInvariantViolation
	}
	return nil
}

// CheckConservationFloor enforces spec §4's general conservation statement
// (`vault >= Σ capital_i + insurance.balance + pnl_pos_tot`, equality only
// "modulo external fee/token-unit rounding"): vault may exceed the right-hand
// side by an arbitrary amount — that surplus is exactly warmup.Residual, the
// backing an uninsured loss leaves behind for a later crank to socialize or
// for the next positive-PnL conversion to draw on — but the right-hand side
// must never exceed vault, which would mean capital or insurance claims a
// balance the vault does not hold. Live operations that settle an uninsured
// loss (TwoPassSettle's uncovered branch) call this instead of
// CheckConservation, which only the curated, fully-conserving test
// scenarios satisfy.
func CheckConservationFloor(s *slab.Slab, maxDustLamports int64) error {
	sumCapital := big.NewInt(0)
	for i := range s.Accounts {
		if s.Accounts[i].InUse {
			sumCapital = new(big.Int).Add(sumCapital, s.Accounts[i].Capital)
		}
	}
	rhs := new(big.Int).Add(sumCapital, s.Engine.Insurance.Balance)
	rhs = rhs.Add(rhs, s.Engine.PnlPosTot)

	shortfall := new(big.Int).Sub(rhs, s.Engine.Vault)
	if shortfall.Cmp(big.NewInt(maxDustLamports)) > 0 {
		return errcode.ErrInvariantViolation
	}
	return nil
}

// CheckBitmapIntegrity enforces P2: popcount(bitmap) == num_used_accounts,
// and every set bit indexes a populated record.
func CheckBitmapIntegrity(s *slab.Slab) error {
	if accountset.CountUsed(s.Engine.Bitmap) != uint64(s.Engine.NumUsedAccounts) {
		return errcode.ErrBitmapInconsistent
	}
	for i := range s.Accounts {
		if s.Accounts[i].InUse != isBitSet(s.Engine.Bitmap, uint64(i)) {
			return errcode.ErrBitmapInconsistent
		}
	}
	return nil
}

func isBitSet(bitmap []uint64, idx uint64) bool {
	word := idx / 64
	if int(word) >= len(bitmap) {
		return false
	}
	return bitmap[word]&(1<<(idx%64)) != 0
}

// CheckIDMonotonicity enforces P3: next_account_id exceeds every used
// account's id.
func CheckIDMonotonicity(s *slab.Slab) error {
	for i := range s.Accounts {
		if s.Accounts[i].InUse && s.Accounts[i].AccountID >= s.Engine.NextAccountID {
			return errcode.ErrInvariantViolation
		}
	}
	return nil
}

// CheckOpenInterestBalance enforces P4: Σ max(p_i,0) == Σ max(-p_i,0).
func CheckOpenInterestBalance(s *slab.Slab) error {
	longs := big.NewInt(0)
	shorts := big.NewInt(0)
	for i := range s.Accounts {
		if !s.Accounts[i].InUse {
			continue
		}
		p := s.Accounts[i].PositionSize
		if p.Sign() > 0 {
			longs = new(big.Int).Add(longs, p)
		} else if p.Sign() < 0 {
			shorts = new(big.Int).Sub(shorts, p)
		}
	}
	if longs.Cmp(shorts) != 0 {
		return errcode.ErrInvariantViolation
	}
	return nil
}

// CheckNoNegativeCapital enforces P5: capital_i >= 0 for every account.
func CheckNoNegativeCapital(s *slab.Slab) error {
	for i := range s.Accounts {
		if s.Accounts[i].InUse && s.Accounts[i].Capital.Sign() < 0 {
			return errcode.ErrInvariantViolation
		}
	}
	return nil
}

// CheckMarginOrder enforces P6: maintenance_margin_bps < initial_margin_bps.
func CheckMarginOrder(rp *slab.RiskParams) error {
	if rp.MaintenanceMarginBps >= rp.InitialMarginBps {
		return errcode.ErrInvariantViolation
	}
	return nil
}

// CheckHaircutRatio enforces P8: a haircut value, expressed as
// numerator/denominator, lies in [0,1].
func CheckHaircutRatio(numerator, denominator *big.Int) error {
	if denominator.Sign() == 0 {
		return nil
	}
	if numerator.Sign() < 0 || numerator.Cmp(denominator) > 0 {
		return errcode.ErrInvariantViolation
	}
	return nil
}

// CheckAll runs every structural invariant (P1-P6) against s, with P1
// checked by strict equality. It is for curated test scenarios engineered to
// fully conserve (no uninsured loss outstanding); a live operation that may
// leave residual backing behind an uninsured loss should call
// CheckAllDefensive instead.
// Crank monotonicity (P7) is a cross-call property checked by callers that
// retain the prior slot/funding index, not a single-snapshot check; P8
// (haircut ratio) takes a numerator/denominator pair CheckAll has no single
// slab-derived value for, so callers invoke CheckHaircutRatio directly.
func CheckAll(s *slab.Slab, maxDustLamports int64) error {
	if err := checkStructural(s); err != nil {
		return err
	}
	return CheckConservation(s, maxDustLamports)
}

// CheckAllDefensive runs the same structural checks as CheckAll (P2-P6) but
// checks P1 with CheckConservationFloor rather than strict equality, so it
// tolerates the transient vault surplus an uninsured-loss settlement leaves
// behind without tolerating the reverse (capital or insurance claiming more
// than the vault holds). Engine operations call this after every
// money-or-position-moving step.
func CheckAllDefensive(s *slab.Slab, maxDustLamports int64) error {
	if err := checkStructural(s); err != nil {
		return err
	}
	return CheckConservationFloor(s, maxDustLamports)
}

func checkStructural(s *slab.Slab) error {
	if err := CheckBitmapIntegrity(s); err != nil {
		return err
	}
	if err := CheckIDMonotonicity(s); err != nil {
		return err
	}
	if err := CheckOpenInterestBalance(s); err != nil {
		return err
	}
	if err := CheckNoNegativeCapital(s); err != nil {
		return err
	}
	return CheckMarginOrder(&s.RiskParams)
}
