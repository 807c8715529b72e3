package types

import (
	"errors"
	"math/big"
)

// ErrFixedPointOverflow is returned instead of silently wrapping when a
// fixed-point computation exceeds its denominator's range (spec.md §9:
// "overflow is an error, never a silent wrap").
var ErrFixedPointOverflow = errors.New("fixed-point arithmetic overflow")

// PerbillDenominator is the denominator for on-chain commission and slash
// fractions: a billion-denominator rational, giving nine significant
// digits of precision.
const PerbillDenominator = 1_000_000_000

// PerU16Denominator is the denominator for off-chain compact submissions
// (spec.md §9), where each voter's per-target ratio is carried in 16 bits.
const PerU16Denominator = 1 << 16

// Perbill is a rational in [0, 1] expressed as parts per billion. It is
// used for validator commission and for slash fractions.
//
// No example repo in the reference pack implements a bounded,
// overflow-checked fixed-point rational: the closest analogue,
// gnark-crypto's field arithmetic, wraps modulo p instead of erroring, which
// is the opposite of what spec.md requires here. This type is built
// directly on math/big so every multiply-then-divide step can detect and
// reject overflow explicitly.
type Perbill uint64

// PerbillFromParts builds a Perbill from parts out of billion, clamping
// and never exceeding the denominator.
func PerbillFromParts(parts uint64) Perbill {
	if parts > PerbillDenominator {
		parts = PerbillDenominator
	}
	return Perbill(parts)
}

// Zero is the zero Perbill.
func (Perbill) Zero() Perbill { return Perbill(0) }

// One is the identity Perbill (1.0).
func One() Perbill { return Perbill(PerbillDenominator) }

// MulBalance computes floor(p * amount) without silently overflowing,
// returning ErrFixedPointOverflow if amount*p exceeds a uint64 product
// space once rescaled.
func (p Perbill) MulBalance(amount uint64) (uint64, error) {
	num := new(big.Int).Mul(big.NewInt(int64(amount)), big.NewInt(int64(p)))
	num.Quo(num, big.NewInt(PerbillDenominator))
	if !num.IsUint64() {
		return 0, ErrFixedPointOverflow
	}
	return num.Uint64(), nil
}

// Complement returns 1 - p.
func (p Perbill) Complement() Perbill {
	if p > PerbillDenominator {
		return 0
	}
	return Perbill(PerbillDenominator - uint64(p))
}

// Add returns p+q, saturating at One() rather than overflowing.
func (p Perbill) Add(q Perbill) Perbill {
	sum := uint64(p) + uint64(q)
	if sum > PerbillDenominator {
		return Perbill(PerbillDenominator)
	}
	return Perbill(sum)
}

// PerU16 is an off-chain-compact rational in [0,1] expressed as parts out
// of 2^16, matching the granularity a compact election submission carries
// per spec.md §4.3 step 3.
type PerU16 uint16

// PerU16One is the identity PerU16 ratio. The type cannot represent the
// denominator itself (2^16 overflows a uint16), so the maximum
// representable value stands for "all of this voter's stake".
const PerU16One PerU16 = PerU16Denominator - 1

// ToPerbill rescales a PerU16 ratio into the on-chain Perbill denominator.
func (p PerU16) ToPerbill() Perbill {
	scaled := uint64(p) * (PerbillDenominator / PerU16Denominator)
	return Perbill(scaled)
}

// SumToOne reports whether the given PerU16 ratios sum to one within the
// granularity of the fixed-point type (spec.md §4.3 step 3: "Ratios must
// sum to one per voter within the granularity of the fixed-point type").
// Because PerU16Denominator does not evenly divide into every share count,
// the accepted tolerance is +/- (n-1) parts, one unit of rounding slack
// per extra share beyond the first.
func SumToOne(ratios []PerU16) bool {
	var sum uint64
	for _, r := range ratios {
		sum += uint64(r)
	}
	if len(ratios) == 0 {
		return false
	}
	tolerance := uint64(len(ratios) - 1)
	if sum > PerU16Denominator {
		return sum-PerU16Denominator <= tolerance
	}
	return PerU16Denominator-sum <= tolerance
}
