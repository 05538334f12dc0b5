// Package crypto provides the identity primitives used throughout the slab:
// every admin, owner, mint, vault, and feed reference is a 32-byte public key.
package crypto

import (
	"encoding/hex"
	"errors"

	"github.com/btcsuite/btcutil/base58"
)

// PubkeySize is the fixed width of every on-slab identity field.
const PubkeySize = 32

// ErrInvalidPubkeyLength is returned when a byte slice cannot back a Pubkey.
var ErrInvalidPubkeyLength = errors.New("crypto: pubkey must be 32 bytes")

// Pubkey is a 32-byte account/program identity, the slab's native identity
// representation. It never carries a human-readable prefix; callers that need
// one compose it externally.
type Pubkey [PubkeySize]byte

// ZeroPubkey is the all-zero identity used as a sentinel for "unset".
var ZeroPubkey = Pubkey{}

// NewPubkey copies b into a Pubkey, failing if the length does not match.
func NewPubkey(b []byte) (Pubkey, error) {
	var pk Pubkey
	if len(b) != PubkeySize {
		return pk, ErrInvalidPubkeyLength
	}
	copy(pk[:], b)
	return pk, nil
}

// MustPubkey is NewPubkey for call sites that already proved the length.
func MustPubkey(b []byte) Pubkey {
	pk, err := NewPubkey(b)
	if err != nil {
		panic(err)
	}
	return pk
}

// IsZero reports whether the key is the all-zero sentinel.
func (p Pubkey) IsZero() bool {
	return p == ZeroPubkey
}

// Bytes returns a defensive copy of the key's 32 bytes.
func (p Pubkey) Bytes() []byte {
	out := make([]byte, PubkeySize)
	copy(out, p[:])
	return out
}

// String renders the key using base58, matching the convention external
// wallets and explorers use for on-chain identities.
func (p Pubkey) String() string {
	return base58.Encode(p[:])
}

// Hex renders the key as a 0x-prefixed hex string, useful in logs where
// fixed-width alignment matters more than base58's variable width.
func (p Pubkey) Hex() string {
	return "0x" + hex.EncodeToString(p[:])
}

// DecodePubkey parses a base58-encoded identity produced by String.
func DecodePubkey(s string) (Pubkey, error) {
	decoded := base58.Decode(s)
	return NewPubkey(decoded)
}
