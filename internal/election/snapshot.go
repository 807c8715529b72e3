package election

import (
	"context"
	"sync"

	"github.com/ccoin/staking/pkg/types"
)

// MaxValidators and MaxNominators bound the snapshot size the compact
// format can address (spec.md §4.3: winners/targets are uint16 indices,
// voters are uint32 indices).
const (
	MaxValidators = 1<<16 - 1
	MaxNominators = 1<<32 - 1
)

// Snapshot is the frozen candidate/voter set an election window opens
// against (spec.md §4.2 on_initialize, §4.3 "Submission contract").
// Nominators includes every validator, appended as a self-voter.
type Snapshot struct {
	Validators []types.Address
	Nominators []Voter
}

// Store persists the open window's snapshot and the best queued
// solution found so far.
type Store interface {
	SaveSnapshot(ctx context.Context, snap *Snapshot) error
	GetSnapshot(ctx context.Context) (*Snapshot, bool, error)
	EraseSnapshot(ctx context.Context) error

	SaveQueuedResult(ctx context.Context, result map[types.Address]types.Exposure, score Score, mode ComputeMode) error
	GetQueuedResult(ctx context.Context) (map[types.Address]types.Exposure, Score, ComputeMode, bool, error)
	EraseQueuedResult(ctx context.Context) error
}

// Validator runs the election-window lifecycle: opening a snapshot,
// validating and ranking submitted solutions against it, and falling
// back to an on-chain Phragmén run when no solution was ever queued
// (spec.md §4.3 "ElectionValidator").
type Validator struct {
	mu sync.Mutex

	store    Store
	fallback PhragmenFunc
	stakeOf  func(types.Address) uint64

	status Status
}

// New creates a Validator. fallback computes the on-chain Phragmén
// result when no signed/unsigned submission was accepted; stakeOf
// resolves a voter's current slashable balance for both validation and
// fallback (spec.md §4.3).
func New(store Store, fallback PhragmenFunc, stakeOf func(types.Address) uint64) *Validator {
	return &Validator{store: store, fallback: fallback, stakeOf: stakeOf}
}

// Status reports whether the election window is open.
func (v *Validator) Status() Status {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.status
}

// Open freezes the given candidate/voter set as the active snapshot and
// opens the election window at block (spec.md §4.2 on_initialize: opens
// electionLookahead blocks before the session that starts the next era).
func (v *Validator) Open(ctx context.Context, block uint64, validators []types.Address, nominators []types.Address, targetsOf func(types.Address) []types.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.status.Open {
		return nil
	}
	if len(validators) > MaxValidators {
		return types.ErrPhragmenBogusWinnerCount
	}

	voters := make([]Voter, 0, len(validators)+len(nominators))
	for _, val := range validators {
		voters = append(voters, Voter{Who: val, Targets: []types.Address{val}})
	}
	for _, nom := range nominators {
		voters = append(voters, Voter{Who: nom, Targets: targetsOf(nom)})
	}
	if uint64(len(voters)) > MaxNominators {
		return types.ErrPhragmenBogusNominator
	}

	snap := &Snapshot{Validators: validators, Nominators: voters}
	if err := v.store.SaveSnapshot(ctx, snap); err != nil {
		return err
	}
	v.status = Status{Open: true, Since: block}
	return nil
}

// Close tears down the window: erases the snapshot and any queued
// result (spec.md §4.2 new_era step 1 consumes the queue before this
// runs; called once the result has been read).
func (v *Validator) Close(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.status = Status{}
	if err := v.store.EraseSnapshot(ctx); err != nil {
		return err
	}
	return v.store.EraseQueuedResult(ctx)
}

// ConsumeQueuedResult returns the best solution accepted during the
// window, if any (spec.md §4.2 new_era step 1).
func (v *Validator) ConsumeQueuedResult(ctx context.Context) (map[types.Address]types.Exposure, ComputeMode, bool, error) {
	result, _, mode, ok, err := v.store.GetQueuedResult(ctx)
	if err != nil || !ok {
		return nil, 0, false, err
	}
	return result, mode, true, nil
}

// FallbackPhragmen runs the injected on-chain election primitive against
// the current snapshot when no submission was ever accepted (spec.md
// §4.3 "On-chain fallback").
func (v *Validator) FallbackPhragmen(ctx context.Context, validatorCount, minValidatorCount int) (map[types.Address]types.Exposure, bool, error) {
	snap, ok, err := v.store.GetSnapshot(ctx)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, types.ErrSnapshotUnavailable
	}

	res, ok := v.fallback(snap.Validators, snap.Nominators, validatorCount, minValidatorCount, v.stakeOf)
	if !ok {
		return nil, false, nil
	}
	return toExposures(res), true, nil
}

func toExposures(res *PhragmenResult) map[types.Address]types.Exposure {
	out := make(map[types.Address]types.Exposure, len(res.Winners))
	for _, w := range res.Winners {
		var exp types.Exposure
		for _, e := range res.Support[w] {
			exp.Total += e.Value
			if e.Who == w {
				exp.Own += e.Value
			} else {
				exp.Others = append(exp.Others, e)
			}
		}
		out[w] = exp
	}
	return out
}
