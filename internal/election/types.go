// Package election implements election-solution validation and the
// stake-to-exposure mapping (spec.md §4.3 "ElectionValidator").
//
// The Phragmén seat-apportionment algorithm itself is treated as a pure
// external function (spec.md §1 Out of scope) and is supplied by the
// caller as a PhragmenFunc; this package only validates submitted
// solutions against a frozen snapshot and, failing that, invokes the
// fallback function.
package election

import "github.com/ccoin/staking/pkg/types"

// ComputeMode records how an election result was produced, emitted in the
// new_era event (spec.md §4.2 step 6).
type ComputeMode uint8

const (
	ComputeOnChain ComputeMode = iota
	ComputeSigned
	ComputeAuthority
)

// Status is the election window's lifecycle (spec.md §4.2, §5).
type Status struct {
	Open  bool
	Since uint64 // block number the window opened at; valid only if Open
}

// Score is the triple (min_support, total_support, sum_support_squared)
// used to rank competing solutions (spec.md §4.3). Better solutions
// maximise Score[0] and minimise Score[1] and Score[2].
type Score [3]uint64

// Better reports whether a is a strict lexicographic improvement over b:
// a[0] maximised first, then a[1] minimised, then a[2] minimised.
func (a Score) Better(b Score) bool {
	if a[0] != b[0] {
		return a[0] > b[0]
	}
	if a[1] != b[1] {
		return a[1] < b[1]
	}
	return a[2] < b[2]
}

// Voter is one snapshot entry eligible to back validators: either a
// self-voting validator (Targets == []Address{Who}) or a nominator
// (spec.md §4.2 on_initialize: "appends every validator as a self-voter
// into the nominator snapshot").
type Voter struct {
	Who     types.Address
	Targets []types.Address
}

// TargetShare is one edge of a decompressed assignment: voter backs
// Target with the given share of its stake.
type TargetShare struct {
	Target uint16 // index into Snapshot.Validators
	Ratio  types.PerU16
}

// CompactAssignment is one voter's weighted distribution across targets,
// addressed by snapshot index (spec.md §4.3 step 2-3).
type CompactAssignment struct {
	Voter        uint32 // index into Snapshot.Nominators
	Distribution []TargetShare
}

// Submission is the payload a caller presents to submit a candidate
// election solution (spec.md §4.3 "Submission contract").
type Submission struct {
	Winners     []uint16 // indices into Snapshot.Validators
	Compact     []CompactAssignment
	ClaimedScore Score
	Mode        ComputeMode
}

// Assignment is a decompressed voter->targets entry, used internally by
// the validation pipeline (spec.md §4.3 step 3).
type Assignment struct {
	Who          types.Address
	Distribution []struct {
		Target types.Address
		Ratio  types.PerU16
	}
}

// PhragmenResult is what the external Phragmén primitive returns: the
// elected validators and, for each, the backing edges that sum to its
// exposure (spec.md §4.3 "On-chain fallback").
type PhragmenResult struct {
	Winners []types.Address
	Support map[types.Address][]types.IndividualExposure
}

// PhragmenFunc is the pure, out-of-scope seat-apportionment primitive
// (spec.md §1, §4.3 "On-chain fallback"). validatorCount is the desired
// number of seats, minValidatorCount the floor below which the result is
// rejected; stakeOf resolves a voter's current slashable balance.
type PhragmenFunc func(candidates []types.Address, voters []Voter, validatorCount, minValidatorCount int, stakeOf func(types.Address) uint64) (*PhragmenResult, bool)
