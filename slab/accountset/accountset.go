// Package accountset implements the slab's account-slot bitmap allocator
// (spec §4.3): which fixed-stride slots in Slab.Accounts are live, handing
// out the next free slot and minting a monotonic account id.
//
// The counting/overflow discipline below is the same shape as
// native/common/quota.go's per-address counter updates, generalized from a
// single counter to a fixed-size bitmap of slots.
package accountset

import (
	"math/bits"

	"percolat/errcode"
	"percolat/slab"
)

// AllocSlot finds the lowest-indexed free slot in s, marks it used, mints
// the next account id, and returns the slot index. It fails with
// ErrMarketFull if every slot is occupied.
func AllocSlot(s *slab.Slab) (uint64, uint64, error) {
	maxAccounts := s.RiskParams.MaxAccounts
	idx, ok := firstFreeBit(s.Engine.Bitmap, maxAccounts)
	if !ok {
		return 0, 0, errcode.ErrMarketFull
	}
	if uint64(len(s.Accounts)) != maxAccounts {
		return 0, 0, errcode.ErrSlabSizeMismatch
	}

	setBit(s.Engine.Bitmap, idx)

	accountID := s.Engine.NextAccountID
	s.Engine.NextAccountID++
	s.Engine.NumUsedAccounts++

	s.Accounts[idx] = slab.NewEmptyAccountRecord()
	s.Accounts[idx].InUse = true
	s.Accounts[idx].AccountID = accountID

	return idx, accountID, nil
}

// FreeSlot clears slot idx's bitmap bit and zeroes its record. Callers must
// have already verified the account's capital, positions, and fee credits
// are all zero (spec §4.12 CloseAccount) — FreeSlot itself does not check
// this, the same division of responsibility native/common/quota.go draws
// between the counter update and its caller's eligibility check.
func FreeSlot(s *slab.Slab, idx uint64) error {
	maxAccounts := s.RiskParams.MaxAccounts
	if idx >= maxAccounts {
		return errcode.ErrInvalidIndex
	}
	if !getBit(s.Engine.Bitmap, idx) {
		return errcode.ErrInvalidIndex
	}

	clearBit(s.Engine.Bitmap, idx)
	if s.Engine.NumUsedAccounts == 0 {
		return errcode.ErrBitmapInconsistent
	}
	s.Engine.NumUsedAccounts--
	s.Accounts[idx] = slab.NewEmptyAccountRecord()

	return nil
}

// CountUsed recomputes the number of set bits in the bitmap, for invariant
// checks against EngineState.NumUsedAccounts (spec §8 P-series checks).
func CountUsed(bitmap []uint64) uint64 {
	var n uint64
	for _, w := range bitmap {
		n += uint64(bits.OnesCount64(w))
	}
	return n
}

func firstFreeBit(bitmap []uint64, maxAccounts uint64) (uint64, bool) {
	for word := 0; word < len(bitmap); word++ {
		w := bitmap[word]
		if w == ^uint64(0) {
			continue
		}
		for bit := 0; bit < 64; bit++ {
			idx := uint64(word*64 + bit)
			if idx >= maxAccounts {
				return 0, false
			}
			if w&(1<<uint(bit)) == 0 {
				return idx, true
			}
		}
	}
	return 0, false
}

func setBit(bitmap []uint64, idx uint64) {
	bitmap[idx/64] |= 1 << (idx % 64)
}

func clearBit(bitmap []uint64, idx uint64) {
	bitmap[idx/64] &^= 1 << (idx % 64)
}

func getBit(bitmap []uint64, idx uint64) bool {
	return bitmap[idx/64]&(1<<(idx%64)) != 0
}
