package types

import "sort"

// MaxNominatorRewardedPerValidator bounds the length of a clipped
// exposure's Others slice (spec.md §3, §6 default used unless overridden
// via governance).
const MaxNominatorRewardedPerValidator = 64

// IndividualExposure is one nominator's backing of a validator.
type IndividualExposure struct {
	Who   Address
	Value uint64
}

// Exposure is a validator's full stake backing for a given era (spec.md
// §3). Invariant: Total == Own + sum(Others[i].Value).
type Exposure struct {
	Total  uint64
	Own    uint64
	Others []IndividualExposure
}

// Clipped returns a copy of e truncated to the top-maxRewarded largest
// Others entries by value, used solely for payout bounds (spec.md §3).
// Total and Own are preserved unchanged; only the Others slice is clipped.
func (e Exposure) Clipped(maxRewarded int) Exposure {
	others := make([]IndividualExposure, len(e.Others))
	copy(others, e.Others)
	sort.SliceStable(others, func(i, j int) bool {
		return others[i].Value > others[j].Value
	})
	if len(others) > maxRewarded {
		others = others[:maxRewarded]
	}
	return Exposure{Total: e.Total, Own: e.Own, Others: others}
}

// ValidatorPrefs is a validator's commission preference, snapshotted per
// era at new_era time (spec.md §3, §4.2 step 4).
type ValidatorPrefs struct {
	Commission Perbill
}

// Nominations is a stash's nomination record (spec.md §3).
type Nominations struct {
	Targets     []Address
	SubmittedIn EraIndex
	Suppressed  bool // reserved; always treated as false, see SPEC_FULL.md
}

// EraRewardPoints is the per-era authorship point ledger (spec.md §3).
// Invariant: Total == sum(Individual.values()).
type EraRewardPoints struct {
	Total      uint32
	Individual map[Address]uint32
}

// NewEraRewardPoints returns an empty points ledger.
func NewEraRewardPoints() *EraRewardPoints {
	return &EraRewardPoints{Individual: make(map[Address]uint32)}
}

// Add credits points to validator and to the era total.
func (p *EraRewardPoints) Add(validator Address, points uint32) {
	if p.Individual == nil {
		p.Individual = make(map[Address]uint32)
	}
	p.Individual[validator] += points
	p.Total += points
}

// Authorship point weights (spec.md §4.5).
const (
	PointsPerBlockAuthored  uint32 = 20
	PointsPerUncleReferenced uint32 = 2
	PointsPerUncleAuthored  uint32 = 1
)

// ActiveEraInfo is the era currently in session (spec.md §3).
type ActiveEraInfo struct {
	Index       EraIndex
	StartMoment *uint64 // Unix millis; nil until set on first finalize
}

// BondedEra is one entry in the BondedEras ring (spec.md §3, §4.2).
type BondedEra struct {
	Era               EraIndex
	FirstSessionIndex SessionIndex
}
