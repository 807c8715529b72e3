package types

// MaxUnlockingChunks bounds the length of a StakingLedger's unlocking queue
// (spec.md §3, §6).
const MaxUnlockingChunks = 32

// MaxNominations bounds the number of validator targets a single
// Nominations record may carry (spec.md §3, §6).
const MaxNominations = 16

// DefaultMinimumValidatorCount is the floor below which an election result
// is rejected and the current validator set persists (spec.md §6).
const DefaultMinimumValidatorCount = 4

// DefaultHistoryDepth is the number of past eras for which exposures,
// prefs, points, rewards, and totals are retained (spec.md §6).
const DefaultHistoryDepth = 84

// EraIndex identifies an era.
type EraIndex uint32

// SessionIndex identifies a session.
type SessionIndex uint32

// UnlockChunk is a single pending-unbond entry: value is unlocked once the
// current era reaches Era.
type UnlockChunk struct {
	Value uint64
	Era   EraIndex
}

// RewardDestination selects where a staker's era payout is credited
// (spec.md §3).
type RewardDestination uint8

const (
	// RewardDestinationStaked credits the stash and bonds the amount
	// back into Active (auto-compounding).
	RewardDestinationStaked RewardDestination = iota
	// RewardDestinationStash credits the stash's free balance only.
	RewardDestinationStash
	// RewardDestinationController credits the controller's free balance.
	RewardDestinationController
)

// StakingLedger is the per-controller bonded-balance record (spec.md §3).
//
// Invariants (enforced by internal/ledger.LedgerStore, never by the zero value):
//   - Total == Active + sum(Unlocking[i].Value)
//   - len(Unlocking) <= MaxUnlockingChunks
//   - Unlocking is kept in non-decreasing Era order (Unbond appends,
//     Rebond takes from the back, Slash drops drained chunks)
//   - Active < minimumBalance implies Active == 0 (no dust)
type StakingLedger struct {
	Stash         Address
	Total         uint64
	Active        uint64
	Unlocking     []UnlockChunk
	LastRewardEra *EraIndex // nil means never rewarded
}

// HasLastRewardEra reports whether the ledger has a recorded last-reward era.
func (l *StakingLedger) HasLastRewardEra() bool {
	return l.LastRewardEra != nil
}

// IsEmpty reports whether the ledger has nothing left bonded or unlocking,
// the reap condition from spec.md §3 "Unbonding lifecycle".
func (l *StakingLedger) IsEmpty() bool {
	return l.Active == 0 && len(l.Unlocking) == 0
}

// ConsolidatedUnlocking splits the unlocking queue into chunks that have
// matured as of currentEra (era <= currentEra) and those still pending.
func (l *StakingLedger) ConsolidatedUnlocking(currentEra EraIndex) (matured []UnlockChunk, pending []UnlockChunk) {
	for _, c := range l.Unlocking {
		if c.Era <= currentEra {
			matured = append(matured, c)
		} else {
			pending = append(pending, c)
		}
	}
	return matured, pending
}
