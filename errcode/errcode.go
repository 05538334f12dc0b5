// Package errcode defines the stable, host-visible error taxonomy that every
// slab operation fails with. Every error here is a sentinel: callers compare
// with errors.Is, never by string.
package errcode

import stderrors "errors"

// Invariant / integrity.
var (
	ErrInvalidMagic        = stderrors.New("slab: invalid magic")
	ErrUnsupportedVersion  = stderrors.New("slab: unsupported version")
	ErrBitmapInconsistent  = stderrors.New("slab: bitmap inconsistent with num_used_accounts")
	ErrDuplicateAccountID  = stderrors.New("slab: duplicate account id")
	ErrInvariantViolation  = stderrors.New("slab: invariant violation")
)

// Auth.
var (
	ErrNotAdmin           = stderrors.New("auth: caller is not admin")
	ErrNotOracleAuthority = stderrors.New("auth: caller is not oracle authority")
	ErrNotAccountOwner    = stderrors.New("auth: caller does not own account")
	ErrReentrancy         = stderrors.New("auth: reentrant matcher call")
)

// Input.
var (
	ErrInvalidIndex      = stderrors.New("input: invalid account index")
	ErrMarketFull        = stderrors.New("input: market full")
	ErrDuplicateOwner    = stderrors.New("input: owner already has an account")
	ErrZeroSize          = stderrors.New("input: zero size")
	ErrInvalidFeedID     = stderrors.New("input: invalid feed id")
	ErrSlabSizeMismatch  = stderrors.New("input: slab size mismatch")
)

// Arithmetic.
var (
	ErrArithmeticOverflow = stderrors.New("arithmetic: overflow")
	ErrDivisionByZero     = stderrors.New("arithmetic: division by zero")
)

// Market state.
var (
	ErrStaleCrank           = stderrors.New("market: stale crank")
	ErrRiskReductionOnly    = stderrors.New("market: risk reduction only")
	ErrWarmupPaused         = stderrors.New("market: warmup paused")
	ErrInsufficientMargin   = stderrors.New("market: insufficient margin")
	ErrInsufficientCapital  = stderrors.New("market: insufficient capital")
	ErrInsufficientInsurance = stderrors.New("market: insufficient insurance")
)

// Oracle.
var (
	ErrOracleUnavailable    = stderrors.New("oracle: unavailable")
	ErrOracleStale          = stderrors.New("oracle: stale")
	ErrOraclePriceInvalid   = stderrors.New("oracle: price invalid")
	ErrConfidenceTooWide    = stderrors.New("oracle: confidence interval too wide")
	ErrAuthorityPriceExpired = stderrors.New("oracle: authority price expired")
)

// Matcher.
var (
	ErrMatcherRejected       = stderrors.New("matcher: rejected trade")
	ErrMatcherContextInvalid = stderrors.New("matcher: invalid context")
	ErrMatcherReturnedBadPrice = stderrors.New("matcher: returned bad price")
)

// Liquidation.
var (
	ErrAccountHealthy      = stderrors.New("liquidation: account healthy")
	ErrLiquidationTooSmall = stderrors.New("liquidation: amount too small")
)

// Fatal.
var (
	ErrCorruptedSlab = stderrors.New("slab: corrupted, aborting without commit")
)
