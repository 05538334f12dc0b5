package slab

import (
	"encoding/binary"
	"math/big"

	"percolat/crypto"
	"percolat/errcode"
)

// Magic is the slab's 8-byte preamble, spelled so that reading it as a
// big-endian uint64 reproduces the hex constant spec.md §3 pins for the
// header.
var Magic = [8]byte{'P', 'E', 'R', 'C', 'O', 'L', 'A', 'T'}

// MagicUint64 returns the spec's documented magic value, 0x504552434f4c4154.
func MagicUint64() uint64 {
	return binary.BigEndian.Uint64(Magic[:])
}

// AccountStride is the fixed byte width of one AccountRecord slot. 233 bytes
// of payload padded to an 8-byte boundary (spec §3: "~248 bytes, aligned to
// 8").
const AccountStride = 248

const accountPayloadSize = 233
const accountPadding = AccountStride - accountPayloadSize

const (
	headerSize       = 8 + 4 + 1 + crypto.PubkeySize + 8 + 8
	marketConfigSize = crypto.PubkeySize*2 + 1 + 1 + crypto.PubkeySize + 8 + 2 + 1 + 4 + 1 + crypto.PubkeySize
	riskParamsSize   = 8*13 + 16*6
	engineFixedSize  = 8 + 8 + 8 + 16 + 8 + 16 + 16 + 16 + 16 + 1 + 1 + 8 + 8 + 8 + 2 + 16 + 16 + 16 + 16 + 16 + 16 + 8 + 8
)

// putU128LE writes v (must be in [0, 2^128)) as 16 little-endian bytes.
func putU128LE(dst []byte, v *big.Int) {
	be := make([]byte, 16)
	v.FillBytes(be) // big-endian, zero padded, panics if v doesn't fit
	for i := 0; i < 16; i++ {
		dst[i] = be[15-i]
	}
}

func getU128LE(src []byte) *big.Int {
	be := make([]byte, 16)
	for i := 0; i < 16; i++ {
		be[i] = src[15-i]
	}
	return new(big.Int).SetBytes(be)
}

var twoPow128 = new(big.Int).Lsh(big.NewInt(1), 128)
var twoPow127 = new(big.Int).Lsh(big.NewInt(1), 127)

// putI128LE writes v as 16 little-endian bytes, two's complement.
func putI128LE(dst []byte, v *big.Int) {
	u := v
	if v.Sign() < 0 {
		u = new(big.Int).Add(v, twoPow128)
	}
	putU128LE(dst, u)
}

func getI128LE(src []byte) *big.Int {
	u := getU128LE(src)
	if u.Cmp(twoPow127) >= 0 {
		return new(big.Int).Sub(u, twoPow128)
	}
	return u
}

func putPubkey(dst []byte, p crypto.Pubkey) { copy(dst, p.Bytes()) }

func getPubkey(src []byte) crypto.Pubkey {
	var p crypto.Pubkey
	copy(p[:], src[:crypto.PubkeySize])
	return p
}

func putBool(dst []byte, b bool) {
	if b {
		dst[0] = 1
	} else {
		dst[0] = 0
	}
}

func getBool(src []byte) bool { return src[0] != 0 }

// BitmapWords returns ceil(maxAccounts/64).
func BitmapWords(maxAccounts uint64) int {
	return int((maxAccounts + 63) / 64)
}

// EncodedSize returns the total physical byte size of a slab whose
// RiskParams.MaxAccounts is maxAccounts.
func EncodedSize(maxAccounts uint64) int {
	return headerSize + marketConfigSize + riskParamsSize +
		engineFixedSize + BitmapWords(maxAccounts)*8 +
		int(maxAccounts)*AccountStride
}

// Encode serializes s into a byte slice of exactly EncodedSize(s.RiskParams.MaxAccounts)
// bytes, magic-prefixed and version-tagged (spec §6).
func Encode(s *Slab) ([]byte, error) {
	maxAccounts := s.RiskParams.MaxAccounts
	if uint64(len(s.Accounts)) != maxAccounts {
		return nil, errcode.ErrSlabSizeMismatch
	}
	out := make([]byte, EncodedSize(maxAccounts))
	off := 0

	copy(out[off:], Magic[:])
	off += 8
	binary.LittleEndian.PutUint32(out[off:], s.Header.Version)
	off += 4
	out[off] = s.Header.Bump
	off++
	putPubkey(out[off:], s.Header.Admin)
	off += crypto.PubkeySize
	binary.LittleEndian.PutUint64(out[off:], s.Header.Nonce)
	off += 8
	binary.LittleEndian.PutUint64(out[off:], s.Header.LastThresholdUpdateSlot)
	off += 8

	mc := &s.MarketConfig
	putPubkey(out[off:], mc.CollateralMint)
	off += crypto.PubkeySize
	putPubkey(out[off:], mc.Vault)
	off += crypto.PubkeySize
	out[off] = mc.VaultAuthorityBump
	off++
	out[off] = uint8(mc.FeedKind)
	off++
	putPubkey(out[off:], mc.PriceFeed)
	off += crypto.PubkeySize
	binary.LittleEndian.PutUint64(out[off:], mc.MaxStalenessSecs)
	off += 8
	binary.LittleEndian.PutUint16(out[off:], mc.ConfFilterBps)
	off += 2
	putBool(out[off:], mc.Invert)
	off++
	binary.LittleEndian.PutUint32(out[off:], mc.UnitScale)
	off += 4
	putBool(out[off:], mc.OracleAuthoritySet)
	off++
	putPubkey(out[off:], mc.OracleAuthority)
	off += crypto.PubkeySize

	rp := &s.RiskParams
	for _, v := range []uint64{
		rp.WarmupPeriodSlots, rp.MaintenanceMarginBps, rp.InitialMarginBps,
		rp.TradingFeeBps, rp.MaxAccounts, rp.MaxCrankStalenessSlots,
		rp.LiquidationFeeBps, rp.LiquidationBufferBps, rp.FundingHorizonSlots,
		rp.FundingKBps, rp.FundingMaxPremiumBps, rp.FundingMaxBpsPerSlot,
		rp.ThreshUpdateIntervalSlots,
	} {
		binary.LittleEndian.PutUint64(out[off:], v)
		off += 8
	}
	for _, v := range []*big.Int{
		rp.NewAccountFee, rp.RiskReductionThreshold, rp.MaintenanceFeePerSlot,
		rp.LiquidationFeeCap, rp.MinLiquidationAbs, rp.FundingScaleNotional,
	} {
		putU128LE(out[off:], v)
		off += 16
	}

	es := &s.Engine
	binary.LittleEndian.PutUint64(out[off:], es.CurrentSlot)
	off += 8
	binary.LittleEndian.PutUint64(out[off:], es.LastCrankSlot)
	off += 8
	binary.LittleEndian.PutUint64(out[off:], es.LastFullSweepStartSlot)
	off += 8
	putI128LE(out[off:], es.FundingIndexQPE6)
	off += 16
	binary.LittleEndian.PutUint64(out[off:], es.LastFundingSlot)
	off += 8
	putU128LE(out[off:], es.Insurance.Balance)
	off += 16
	putU128LE(out[off:], es.Insurance.FeeRevenue)
	off += 16
	putU128LE(out[off:], es.Vault)
	off += 16
	putI128LE(out[off:], es.LossAccum)
	off += 16
	putBool(out[off:], es.RiskReductionOnly)
	off++
	putBool(out[off:], es.WarmupPaused)
	off++
	binary.LittleEndian.PutUint64(out[off:], es.LifetimeLiquidations)
	off += 8
	binary.LittleEndian.PutUint64(out[off:], es.LifetimeForceCloses)
	off += 8
	binary.LittleEndian.PutUint64(out[off:], es.NextAccountID)
	off += 8
	binary.LittleEndian.PutUint16(out[off:], es.NumUsedAccounts)
	off += 2
	putU128LE(out[off:], es.TotalOpenInterest)
	off += 16
	putU128LE(out[off:], es.LpSumAbs)
	off += 16
	putU128LE(out[off:], es.LpMaxAbs)
	off += 16
	putI128LE(out[off:], es.LpNetNotional)
	off += 16
	putU128LE(out[off:], es.PnlPosTot)
	off += 16
	putU128LE(out[off:], es.PnlNegTot)
	off += 16
	binary.LittleEndian.PutUint64(out[off:], es.AuthorityPriceE6)
	off += 8
	binary.LittleEndian.PutUint64(out[off:], uint64(es.AuthorityTimestamp))
	off += 8

	words := BitmapWords(maxAccounts)
	if len(es.Bitmap) != words {
		return nil, errcode.ErrBitmapInconsistent
	}
	for _, w := range es.Bitmap {
		binary.LittleEndian.PutUint64(out[off:], w)
		off += 8
	}

	for i := range s.Accounts {
		a := &s.Accounts[i]
		rec := out[off : off+AccountStride]
		encodeAccount(rec, a)
		off += AccountStride
	}

	return out, nil
}

func encodeAccount(rec []byte, a *AccountRecord) {
	off := 0
	binary.LittleEndian.PutUint64(rec[off:], a.AccountID)
	off += 8
	rec[off] = uint8(a.Kind)
	off++
	putPubkey(rec[off:], a.Owner)
	off += crypto.PubkeySize
	putU128LE(rec[off:], a.Capital)
	off += 16
	putI128LE(rec[off:], a.PnlRealized)
	off += 16
	putU128LE(rec[off:], a.PnlReserved)
	off += 16
	binary.LittleEndian.PutUint64(rec[off:], a.WarmupStartedAtSlot)
	off += 8
	putU128LE(rec[off:], a.WarmupSlopePerStep)
	off += 16
	putI128LE(rec[off:], a.PositionSize)
	off += 16
	binary.LittleEndian.PutUint64(rec[off:], a.EntryPrice)
	off += 8
	putI128LE(rec[off:], a.FundingIndexSnapshot)
	off += 16
	putI128LE(rec[off:], a.FeeCredits)
	off += 16
	putPubkey(rec[off:], a.MatcherProgram)
	off += crypto.PubkeySize
	putPubkey(rec[off:], a.MatcherContext)
	off += crypto.PubkeySize
	// remaining accountPadding bytes are left zero.
	_ = off
}

// Decode parses a byte slice produced by Encode back into a Slab. The caller
// supplies only the buffer: maxAccounts is read out of the encoded
// RiskParams, and the buffer length is then checked against the size that
// maxAccounts implies.
func Decode(buf []byte) (*Slab, error) {
	if len(buf) < headerSize+marketConfigSize+riskParamsSize {
		return nil, errcode.ErrSlabSizeMismatch
	}
	if string(buf[:8]) != string(Magic[:]) {
		return nil, errcode.ErrInvalidMagic
	}
	off := 8
	s := &Slab{}

	s.Header.Version = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	if s.Header.Version != CurrentVersion {
		return nil, errcode.ErrUnsupportedVersion
	}
	s.Header.Bump = buf[off]
	off++
	s.Header.Admin = getPubkey(buf[off:])
	off += crypto.PubkeySize
	s.Header.Nonce = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	s.Header.LastThresholdUpdateSlot = binary.LittleEndian.Uint64(buf[off:])
	off += 8

	mc := &s.MarketConfig
	mc.CollateralMint = getPubkey(buf[off:])
	off += crypto.PubkeySize
	mc.Vault = getPubkey(buf[off:])
	off += crypto.PubkeySize
	mc.VaultAuthorityBump = buf[off]
	off++
	mc.FeedKind = FeedKind(buf[off])
	off++
	mc.PriceFeed = getPubkey(buf[off:])
	off += crypto.PubkeySize
	mc.MaxStalenessSecs = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	mc.ConfFilterBps = binary.LittleEndian.Uint16(buf[off:])
	off += 2
	mc.Invert = getBool(buf[off:])
	off++
	mc.UnitScale = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	mc.OracleAuthoritySet = getBool(buf[off:])
	off++
	mc.OracleAuthority = getPubkey(buf[off:])
	off += crypto.PubkeySize

	rp := &s.RiskParams
	fields := []*uint64{
		&rp.WarmupPeriodSlots, &rp.MaintenanceMarginBps, &rp.InitialMarginBps,
		&rp.TradingFeeBps, &rp.MaxAccounts, &rp.MaxCrankStalenessSlots,
		&rp.LiquidationFeeBps, &rp.LiquidationBufferBps, &rp.FundingHorizonSlots,
		&rp.FundingKBps, &rp.FundingMaxPremiumBps, &rp.FundingMaxBpsPerSlot,
		&rp.ThreshUpdateIntervalSlots,
	}
	for _, f := range fields {
		*f = binary.LittleEndian.Uint64(buf[off:])
		off += 8
	}
	bigFields := []**big.Int{
		&rp.NewAccountFee, &rp.RiskReductionThreshold, &rp.MaintenanceFeePerSlot,
		&rp.LiquidationFeeCap, &rp.MinLiquidationAbs, &rp.FundingScaleNotional,
	}
	for _, f := range bigFields {
		*f = getU128LE(buf[off:])
		off += 16
	}

	maxAccounts := rp.MaxAccounts
	want := EncodedSize(maxAccounts)
	if len(buf) != want {
		return nil, errcode.ErrSlabSizeMismatch
	}

	es := &s.Engine
	es.CurrentSlot = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	es.LastCrankSlot = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	es.LastFullSweepStartSlot = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	es.FundingIndexQPE6 = getI128LE(buf[off:])
	off += 16
	es.LastFundingSlot = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	es.Insurance.Balance = getU128LE(buf[off:])
	off += 16
	es.Insurance.FeeRevenue = getU128LE(buf[off:])
	off += 16
	es.Vault = getU128LE(buf[off:])
	off += 16
	es.LossAccum = getI128LE(buf[off:])
	off += 16
	es.RiskReductionOnly = getBool(buf[off:])
	off++
	es.WarmupPaused = getBool(buf[off:])
	off++
	es.LifetimeLiquidations = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	es.LifetimeForceCloses = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	es.NextAccountID = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	es.NumUsedAccounts = binary.LittleEndian.Uint16(buf[off:])
	off += 2
	es.TotalOpenInterest = getU128LE(buf[off:])
	off += 16
	es.LpSumAbs = getU128LE(buf[off:])
	off += 16
	es.LpMaxAbs = getU128LE(buf[off:])
	off += 16
	es.LpNetNotional = getI128LE(buf[off:])
	off += 16
	es.PnlPosTot = getU128LE(buf[off:])
	off += 16
	es.PnlNegTot = getU128LE(buf[off:])
	off += 16
	es.AuthorityPriceE6 = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	es.AuthorityTimestamp = int64(binary.LittleEndian.Uint64(buf[off:]))
	off += 8

	words := BitmapWords(maxAccounts)
	es.Bitmap = make([]uint64, words)
	for i := 0; i < words; i++ {
		es.Bitmap[i] = binary.LittleEndian.Uint64(buf[off:])
		off += 8
	}

	s.Accounts = make([]AccountRecord, maxAccounts)
	for i := uint64(0); i < maxAccounts; i++ {
		rec := buf[off : off+AccountStride]
		s.Accounts[i] = decodeAccount(rec)
		s.Accounts[i].InUse = bitGet(es.Bitmap, i)
		off += AccountStride
	}

	return s, nil
}

func decodeAccount(rec []byte) AccountRecord {
	a := NewEmptyAccountRecord()
	off := 0
	a.AccountID = binary.LittleEndian.Uint64(rec[off:])
	off += 8
	a.Kind = AccountKind(rec[off])
	off++
	a.Owner = getPubkey(rec[off:])
	off += crypto.PubkeySize
	a.Capital = getU128LE(rec[off:])
	off += 16
	a.PnlRealized = getI128LE(rec[off:])
	off += 16
	a.PnlReserved = getU128LE(rec[off:])
	off += 16
	a.WarmupStartedAtSlot = binary.LittleEndian.Uint64(rec[off:])
	off += 8
	a.WarmupSlopePerStep = getU128LE(rec[off:])
	off += 16
	a.PositionSize = getI128LE(rec[off:])
	off += 16
	a.EntryPrice = binary.LittleEndian.Uint64(rec[off:])
	off += 8
	a.FundingIndexSnapshot = getI128LE(rec[off:])
	off += 16
	a.FeeCredits = getI128LE(rec[off:])
	off += 16
	a.MatcherProgram = getPubkey(rec[off:])
	off += crypto.PubkeySize
	a.MatcherContext = getPubkey(rec[off:])
	off += crypto.PubkeySize
	return a
}

func bitGet(bitmap []uint64, idx uint64) bool {
	word := idx / 64
	bit := idx % 64
	if int(word) >= len(bitmap) {
		return false
	}
	return bitmap[word]&(1<<bit) != 0
}
