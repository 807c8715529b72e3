// Package fingerprint provides deterministic, fixed-output digests. The
// staking engine uses it for one tag: the era digest in the
// unsigned-submission provides-tag (internal/election). Slashing span
// keys use blake2b instead (internal/slashing.SpanKey).
//
// It is grounded on the teacher's internal/zkp/pedersen.go, which already
// depends on consensys/gnark-crypto's bn254 scalar field for commitment
// arithmetic; MiMC over the same field is the pack's native hash-to-field
// primitive. It is used here purely as a digest, never for proving.
package fingerprint

import (
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
)

// Size is the digest length in bytes (one bn254 scalar field element).
const Size = 32

// Digest is a fixed-size fingerprint.
type Digest [Size]byte

// Sum hashes the concatenation of parts with MiMC over bn254 and returns
// the resulting field element's canonical byte representation.
func Sum(parts ...[]byte) Digest {
	h := mimc.NewMiMC()
	for _, p := range parts {
		h.Write(p)
	}
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// Bytes returns d as a byte slice.
func (d Digest) Bytes() []byte {
	return d[:]
}
