// Package matcher implements the slab's single cross-program invocation
// boundary (spec §4.9 step 3, §5): a bounded outbound call into an LP's
// matcher program that returns a fill price or rejects the trade, guarded
// against reentrancy into the same slab.
//
// Grounded on native/lending/engine.go's engineState interface pattern — a
// narrow interface the engine is wired against so tests can substitute a
// mock — applied here to the external matcher boundary instead of
// persistence.
package matcher

import (
	"math/big"

	"percolat/crypto"
	"percolat/errcode"
)

// Request is the read-only context the core hands to a matcher program.
type Request struct {
	Mark           *big.Int
	MatcherContext crypto.Pubkey
	LPAccount      crypto.Pubkey
	SignedSize     *big.Int
}

// Response is what a matcher returns for an accepted trade.
type Response struct {
	FillPriceQ6 *big.Int
}

// Matcher is the external, untrusted counterparty for a trade fill. It must
// not call back into the core; Invoke enforces that with a reentrancy
// guard.
type Matcher interface {
	Fill(req Request) (Response, error)
}

// Guard is a single-slab reentrancy guard: it is not safe for concurrent
// use, matching spec §5's single-threaded-per-slab execution model.
type Guard struct {
	active bool
}

// Enter marks the guard active, failing if a call is already in flight.
func (g *Guard) Enter() error {
	if g.active {
		return errcode.ErrReentrancy
	}
	g.active = true
	return nil
}

// Exit clears the guard. Callers must defer this immediately after a
// successful Enter.
func (g *Guard) Exit() {
	g.active = false
}

// Invoke runs the bounded matcher call under the reentrancy guard and
// validates the response shape. If the matcher errors, or returns a
// non-positive fill price, the trade fails with no slab state changed —
// callers must not apply partial effects before calling Invoke.
func Invoke(g *Guard, m Matcher, req Request) (Response, error) {
	if err := g.Enter(); err != nil {
		return Response{}, err
	}
	defer g.Exit()

	if m == nil {
		return Response{}, errcode.ErrMatcherContextInvalid
	}
	resp, err := m.Fill(req)
	if err != nil {
		return Response{}, errcode.ErrMatcherRejected
	}
	if resp.FillPriceQ6 == nil || resp.FillPriceQ6.Sign() <= 0 {
		return Response{}, errcode.ErrMatcherReturnedBadPrice
	}
	return resp, nil
}

// OracleMatcher is the reference no-CPI matcher: it fills every trade
// exactly at the oracle mark, used by the engine's TradeNoCpi operation for
// LPs that have not registered an external matcher program.
type OracleMatcher struct{}

// Fill implements Matcher by returning the mark price unchanged.
func (OracleMatcher) Fill(req Request) (Response, error) {
	if req.Mark == nil || req.Mark.Sign() <= 0 {
		return Response{}, errcode.ErrMatcherReturnedBadPrice
	}
	return Response{FillPriceQ6: new(big.Int).Set(req.Mark)}, nil
}
