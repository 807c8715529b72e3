// Package types defines the core identities and value types shared by the
// staking engine: stash/controller addresses, hashes, and the ledger,
// exposure, and preference records keyed on them.
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Sizes for the fixed-width identifiers used throughout the engine.
const (
	// HashSize is the size of a Hash in bytes.
	HashSize = 32

	// AddressSize is the size of an Address in bytes.
	AddressSize = 20
)

// Hash is a 32-byte digest. Slashing span keys and the
// unsigned-submission provides-tag are built elsewhere and do not use
// this type.
type Hash [HashSize]byte

// Address identifies a stash or a controller account. The same underlying
// type is used for both roles; which role an Address plays is determined
// by which table it is looked up in (see Bonded / Ledger).
type Address [AddressSize]byte

// EmptyHash is the zero hash.
var EmptyHash = Hash{}

// EmptyAddress is the zero address.
var EmptyAddress = Address{}

// IsEmpty reports whether h is the zero hash.
func (h Hash) IsEmpty() bool {
	return h == EmptyHash
}

// Bytes returns h as a byte slice.
func (h Hash) Bytes() []byte {
	return h[:]
}

// String returns the hex representation of h.
func (h Hash) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

// IsEmpty reports whether a is the zero address.
func (a Address) IsEmpty() bool {
	return a == EmptyAddress
}

// Bytes returns a as a byte slice.
func (a Address) Bytes() []byte {
	return a[:]
}

// String returns the hex representation of a.
func (a Address) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

// MarshalText renders a as hex, letting Address serve as a JSON object
// key (storage layer exposure/ledger maps are keyed on Address).
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText parses the hex form produced by MarshalText.
func (a *Address) UnmarshalText(text []byte) error {
	s := string(text)
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid address hex: %w", err)
	}
	*a = AddressFromBytes(b)
	return nil
}

// HashFromBytes builds a Hash from the first HashSize bytes of b.
func HashFromBytes(b []byte) Hash {
	var h Hash
	if len(b) >= HashSize {
		copy(h[:], b[:HashSize])
	}
	return h
}

// AddressFromBytes builds an Address from the first AddressSize bytes of b.
func AddressFromBytes(b []byte) Address {
	var a Address
	if len(b) >= AddressSize {
		copy(a[:], b[:AddressSize])
	}
	return a
}

// HashBytes returns the SHA-256 digest of b as a Hash. For a compact
// field digest, see pkg/fingerprint.
func HashBytes(b []byte) Hash {
	return sha256.Sum256(b)
}
