// Package oracle implements the slab's price gate (spec §4.4): resolve a
// trusted authority push, or fall back to parsing an external pull/push feed
// record, converting it to the slab's Q6 price scale.
//
// Grounded on core/pricing/pricefeed.go's GetZNHBUSD: staleness computed as
// an age-vs-window comparison, a status classification before the value is
// trusted, and an exponent-aware conversion into the slab's fixed-point
// scale (there ratToQ64, here scaleToQ6).
package oracle

import (
	"math/big"

	"percolat/crypto"
	"percolat/errcode"
	"percolat/fixedpoint"
	"percolat/observability"
	"percolat/slab"
)

// FeedRecord is the parsed external oracle quote, already deserialized from
// whichever account format the host platform passes in (pull or push).
type FeedRecord struct {
	// FeedID identifies a pull-oracle feed; checked against
	// MarketConfig.PriceFeed when FeedKind is FeedKindPull.
	FeedID crypto.Pubkey

	PriceRaw        int64
	ConfRaw         uint64
	Expo            int32
	PublishTimeUnix int64
}

// Resolve implements the §4.4 algorithm end to end, returning a Q6 price
// and the timestamp (seconds) of the observation it trusted.
func Resolve(mc *slab.MarketConfig, es *slab.EngineState, feed *FeedRecord, nowUnix int64) (price *big.Int, tsUnix int64, err error) {
	source := "authority"
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = err.Error()
		}
		observability.Oracle().RecordResolution(source, outcome)
	}()

	if es.AuthorityPriceE6 != 0 {
		age := nowUnix - es.AuthorityTimestamp
		if age < 0 {
			age = 0
		}
		if uint64(age) <= mc.MaxStalenessSecs {
			return new(big.Int).SetUint64(es.AuthorityPriceE6), es.AuthorityTimestamp, nil
		}
	}

	source = "feed"
	if feed == nil {
		return nil, 0, errcode.ErrOracleUnavailable
	}
	if mc.FeedKind == slab.FeedKindPull && feed.FeedID != mc.PriceFeed {
		return nil, 0, errcode.ErrOracleUnavailable
	}
	if feed.PriceRaw <= 0 {
		return nil, 0, errcode.ErrOraclePriceInvalid
	}

	age := nowUnix - feed.PublishTimeUnix
	if age < 0 {
		age = 0
	}
	if uint64(age) > mc.MaxStalenessSecs {
		return nil, 0, errcode.ErrOracleStale
	}

	if mc.ConfFilterBps > 0 && feed.ConfRaw > 0 {
		confBps := new(big.Int).Mul(new(big.Int).SetUint64(feed.ConfRaw), big.NewInt(fixedpoint.BpsDenom))
		confBps.Quo(confBps, big.NewInt(feed.PriceRaw))
		if confBps.Cmp(new(big.Int).SetUint64(uint64(mc.ConfFilterBps))) > 0 {
			return nil, 0, errcode.ErrConfidenceTooWide
		}
	}

	p := scaleToQ6(feed.PriceRaw, feed.Expo)

	if mc.Invert {
		if p.Sign() == 0 {
			return nil, 0, errcode.ErrOraclePriceInvalid
		}
		tera := new(big.Int).Exp(big.NewInt(10), big.NewInt(12), nil)
		p = new(big.Int).Quo(tera, p)
	}

	if mc.UnitScale != 0 {
		p = new(big.Int).Mul(p, new(big.Int).SetUint64(uint64(mc.UnitScale)))
	}

	if p.Sign() <= 0 {
		return nil, 0, errcode.ErrOraclePriceInvalid
	}

	return p, feed.PublishTimeUnix, nil
}

// scaleToQ6 converts raw*10^expo into the slab's Q6 (10^-6) fixed-point
// scale: result = raw * 10^(expo+6), flooring when that shift is negative.
func scaleToQ6(raw int64, expo int32) *big.Int {
	v := big.NewInt(raw)
	shift := expo + 6
	if shift >= 0 {
		scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(shift)), nil)
		return v.Mul(v, scale)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(-shift)), nil)
	return v.Quo(v, scale)
}
