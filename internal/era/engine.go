// Package era implements the era/session state machine: advancing eras
// under a forcing policy, closing out era rewards, opening and closing
// the election window, and maintaining the bonded-era history
// (spec.md §4.2 "EraEngine").
package era

import (
	"context"

	"github.com/ccoin/staking/internal/capability"
	"github.com/ccoin/staking/internal/election"
	"github.com/ccoin/staking/internal/exposure"
	"github.com/ccoin/staking/pkg/types"
)

// ForceEra is the forcing policy governing when new_session triggers a
// new era (spec.md §4.2).
type ForceEra uint8

const (
	NotForcing ForceEra = iota // advance only when era_length >= sessions_per_era
	ForceNew                   // advance at the next session boundary, then revert to NotForcing
	ForceAlways                // advance at every session boundary
	ForceNone                  // never advance
)

// Store persists the era/session bookkeeping: the current and active
// era indices, each era's starting session index, the forcing policy,
// the session-finality flag, and the bonded-era ring.
type Store interface {
	GetCurrentEra(ctx context.Context) (*types.EraIndex, error)
	SaveCurrentEra(ctx context.Context, era types.EraIndex) error

	GetActiveEra(ctx context.Context) (types.ActiveEraInfo, error)
	SaveActiveEra(ctx context.Context, info types.ActiveEraInfo) error

	GetErasStartSessionIndex(ctx context.Context, era types.EraIndex) (types.SessionIndex, bool, error)
	SaveErasStartSessionIndex(ctx context.Context, era types.EraIndex, session types.SessionIndex) error
	DeleteErasStartSessionIndex(ctx context.Context, era types.EraIndex) error

	GetForceEra(ctx context.Context) (ForceEra, error)
	SaveForceEra(ctx context.Context, policy ForceEra) error

	GetIsCurrentSessionFinal(ctx context.Context) (bool, error)
	SaveIsCurrentSessionFinal(ctx context.Context, final bool) error

	GetBondedEras(ctx context.Context) ([]types.BondedEra, error)
	SaveBondedEras(ctx context.Context, bonded []types.BondedEra) error
}

// ElectionCoordinator is the subset of election.Validator's surface the
// engine drives directly (spec.md §4.2 step 3, §4.3).
type ElectionCoordinator interface {
	Status() election.Status
	Open(ctx context.Context, block uint64, validators, nominators []types.Address, targetsOf func(types.Address) []types.Address) error
	Close(ctx context.Context) error
	ConsumeQueuedResult(ctx context.Context) (map[types.Address]types.Exposure, election.ComputeMode, bool, error)
	FallbackPhragmen(ctx context.Context, validatorCount, minValidatorCount int) (map[types.Address]types.Exposure, bool, error)
}

// StashSource enumerates the current validator and nominator stashes
// used to build an election snapshot (spec.md §4.2 on_initialize).
type StashSource interface {
	Validators(ctx context.Context) ([]types.Address, error)
	Nominators(ctx context.Context) ([]types.Address, error)
	TargetsOf(who types.Address) []types.Address
	PrefsOf(who types.Address) types.ValidatorPrefs
}

// SlashingDriver applies any deferred slashes queued for an era once it
// becomes active (spec.md §4.2 start_era, §4.4).
type SlashingDriver interface {
	ApplyForEra(ctx context.Context, era types.EraIndex) error
}

// HistoricalPruner drops the session-keyed historical state a pruned
// bonded era referenced (spec.md §4.2 start_era: "instructing the
// historical-session store to prune alongside").
type HistoricalPruner interface {
	PruneUpTo(ctx context.Context, era types.EraIndex)
}

// RewardRemainderSink absorbs the unpaid difference between an era's
// maximum payout and its actual payout (spec.md §4.5: "max_payout -
// total_payout is routed to the reward remainder sink").
type RewardRemainderSink interface {
	AbsorbRemainder(ctx context.Context, amount uint64)
}

// NextSessionEstimator estimates how many blocks remain until the next
// session boundary, as observed at block (spec.md §4.2 on_initialize).
// ok is false if the estimate is not yet available.
type NextSessionEstimator func(block uint64) (remaining uint64, ok bool)

// Params holds the era engine's protocol constants.
type Params struct {
	SessionsPerEra        uint32
	HistoryDepth          types.EraIndex
	BondingDuration       types.EraIndex
	ElectionLookahead     uint64
	ValidatorCount        int
	MinimumValidatorCount int
	TotalIssuance         func(ctx context.Context) (uint64, error)
}

// DefaultParams returns conventional NPoS session/era parameters.
func DefaultParams() Params {
	return Params{
		SessionsPerEra:        6,
		HistoryDepth:          types.EraIndex(types.DefaultHistoryDepth),
		BondingDuration:       28,
		ElectionLookahead:     75,
		ValidatorCount:        100,
		MinimumValidatorCount: int(types.DefaultMinimumValidatorCount),
	}
}

// Engine drives the era/session state machine (spec.md §4.2).
type Engine struct {
	store     Store
	points    PointsStore
	exposures *exposure.ExposureStore
	election  ElectionCoordinator
	stashes   StashSource
	slashing  SlashingDriver
	history   HistoricalPruner
	remainder RewardRemainderSink
	estimate  NextSessionEstimator

	caps   capability.Capabilities
	params Params
}

// New creates an Engine.
func New(store Store, points PointsStore, exposures *exposure.ExposureStore, election ElectionCoordinator, stashes StashSource, slashing SlashingDriver, history HistoricalPruner, remainder RewardRemainderSink, estimate NextSessionEstimator, caps capability.Capabilities, params Params) *Engine {
	return &Engine{
		store: store, points: points, exposures: exposures, election: election,
		stashes: stashes, slashing: slashing, history: history, remainder: remainder,
		estimate: estimate, caps: caps, params: params,
	}
}

// CurrentEra returns the latest planned era, or nil if none has been
// set yet.
func (e *Engine) CurrentEra(ctx context.Context) (*types.EraIndex, error) {
	return e.store.GetCurrentEra(ctx)
}

// ActiveEra returns the era currently in session.
func (e *Engine) ActiveEra(ctx context.Context) (types.ActiveEraInfo, error) {
	return e.store.GetActiveEra(ctx)
}

// ValidatorCount returns the currently configured desired validator set
// size.
func (e *Engine) ValidatorCount() int {
	return e.params.ValidatorCount
}

// MinimumValidatorCount returns the floor below which an election
// result is rejected.
func (e *Engine) MinimumValidatorCount() int {
	return e.params.MinimumValidatorCount
}

// ElectionLookahead returns the configured election-window lookahead in
// blocks.
func (e *Engine) ElectionLookahead() uint64 {
	return e.params.ElectionLookahead
}

// SetValidatorCount adjusts the desired validator set size under a
// privileged origin (spec.md §6 set_validator_count).
func (e *Engine) SetValidatorCount(n int) {
	e.params.ValidatorCount = n
}

// SetMinimumValidatorCount adjusts the floor below which an election
// result is rejected (spec.md §6 set_validator_count table entry covers
// this alongside the desired count).
func (e *Engine) SetMinimumValidatorCount(n int) {
	e.params.MinimumValidatorCount = n
}

// SetHistoryDepth adjusts how many past eras of exposures, prefs,
// points, and rewards are retained (spec.md §6 set_history_depth).
func (e *Engine) SetHistoryDepth(depth types.EraIndex) {
	e.params.HistoryDepth = depth
}

// SetForceEra changes the forcing policy under a privileged origin
// (spec.md §6 force_*; §4.2 forcing-policy state machine).
func (e *Engine) SetForceEra(ctx context.Context, policy ForceEra) error {
	return e.store.SaveForceEra(ctx, policy)
}

// NewSession is the session driver's entry point on every session
// rotation (spec.md §4.2 new_session).
func (e *Engine) NewSession(ctx context.Context, i types.SessionIndex) error {
	currentEra, err := e.store.GetCurrentEra(ctx)
	if err != nil {
		return err
	}
	if currentEra == nil {
		return e.newEra(ctx, i)
	}

	startSession, ok, err := e.store.GetErasStartSessionIndex(ctx, *currentEra)
	if err != nil {
		return err
	}
	var eraLength uint32
	if ok {
		eraLength = uint32(i) - uint32(startSession)
	}

	policy, err := e.store.GetForceEra(ctx)
	if err != nil {
		return err
	}

	trigger := false
	switch policy {
	case ForceAlways, ForceNew:
		trigger = true
	case ForceNone:
		trigger = false
	default: // NotForcing
		trigger = eraLength >= e.params.SessionsPerEra
	}

	if trigger {
		if err := e.newEra(ctx, i); err != nil {
			return err
		}
		if policy == ForceNew {
			return e.store.SaveForceEra(ctx, NotForcing)
		}
		return nil
	}

	if eraLength+1 >= e.params.SessionsPerEra {
		return e.store.SaveIsCurrentSessionFinal(ctx, true)
	}
	return nil
}

// StartSession promotes active_era once the next era's starting session
// has been reached (spec.md §4.2 start_session).
func (e *Engine) StartSession(ctx context.Context, i types.SessionIndex) error {
	active, err := e.store.GetActiveEra(ctx)
	if err != nil {
		return err
	}
	nextStart, ok, err := e.store.GetErasStartSessionIndex(ctx, active.Index+1)
	if err != nil {
		return err
	}
	if !ok || uint32(nextStart) > uint32(i) {
		return nil
	}
	if uint32(nextStart) < uint32(i) {
		e.caps.Logf("WARNING: session %d appears to have been skipped; starting era %d anyway", nextStart, active.Index+1)
	}
	return e.startEra(ctx)
}

// EndSession closes out the active era's reward once its final session
// has elapsed (spec.md §4.2 end_session).
func (e *Engine) EndSession(ctx context.Context, i types.SessionIndex) error {
	active, err := e.store.GetActiveEra(ctx)
	if err != nil {
		return err
	}
	nextStart, ok, err := e.store.GetErasStartSessionIndex(ctx, active.Index+1)
	if err != nil || !ok || uint32(i)+1 != uint32(nextStart) {
		return err
	}

	totalStake, ok, err := e.exposures.TotalStake(ctx, active.Index)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	var totalIssuance uint64
	if e.params.TotalIssuance != nil {
		totalIssuance, err = e.params.TotalIssuance(ctx)
		if err != nil {
			return err
		}
	}

	var durationMillis uint64
	if active.StartMoment != nil && e.caps.Clock != nil {
		now := e.caps.Clock.NowMillis()
		if now > *active.StartMoment {
			durationMillis = now - *active.StartMoment
		}
	}

	if e.caps.Curve == nil {
		return nil
	}
	payout, maxPayout := e.caps.Curve(totalStake, totalIssuance, durationMillis)
	if err := e.points.SaveValidatorReward(ctx, active.Index, payout); err != nil {
		return err
	}
	if maxPayout > payout && e.remainder != nil {
		e.remainder.AbsorbRemainder(ctx, maxPayout-payout)
	}
	e.caps.Logf("era %d reward finalized: payout=%d max=%d", active.Index, payout, maxPayout)
	return nil
}

// newEra advances current_era and runs the election (spec.md §4.2
// new_era).
func (e *Engine) newEra(ctx context.Context, i types.SessionIndex) error {
	currentEra, err := e.store.GetCurrentEra(ctx)
	if err != nil {
		return err
	}
	var next types.EraIndex
	if currentEra != nil {
		next = *currentEra + 1
	}
	if err := e.store.SaveCurrentEra(ctx, next); err != nil {
		return err
	}
	if err := e.store.SaveErasStartSessionIndex(ctx, next, i); err != nil {
		return err
	}

	if next > e.params.HistoryDepth {
		stale := next - e.params.HistoryDepth - 1
		if err := e.exposures.Prune(ctx, stale); err != nil {
			return err
		}
		if err := e.points.ClearEra(ctx, stale); err != nil {
			return err
		}
		if err := e.store.DeleteErasStartSessionIndex(ctx, stale); err != nil {
			return err
		}
	}

	result, mode, err := e.electionResult(ctx)
	if err != nil {
		return err
	}
	if result == nil {
		// Election produced nothing: the era does not roll, the current
		// set persists (spec.md §4.3 "On-chain fallback").
		if currentEra != nil {
			return e.store.SaveCurrentEra(ctx, *currentEra)
		}
		return nil
	}

	if _, err := e.exposures.RecordElectionResult(ctx, next, result, e.stashes.PrefsOf); err != nil {
		return err
	}

	if err := e.election.Close(ctx); err != nil {
		return err
	}
	e.caps.Logf("new era %d elected, mode=%d, validators=%d", next, mode, len(result))
	return nil
}

func (e *Engine) electionResult(ctx context.Context) (map[types.Address]types.Exposure, election.ComputeMode, error) {
	if result, mode, ok, err := e.election.ConsumeQueuedResult(ctx); err != nil {
		return nil, 0, err
	} else if ok {
		return result, mode, nil
	}
	result, ok, err := e.election.FallbackPhragmen(ctx, e.params.ValidatorCount, e.params.MinimumValidatorCount)
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		return nil, 0, nil
	}
	return result, election.ComputeOnChain, nil
}

// startEra promotes active_era, maintains the bonded-era ring, and
// triggers deferred slash application for the newly active era
// (spec.md §4.2 start_era).
func (e *Engine) startEra(ctx context.Context) error {
	active, err := e.store.GetActiveEra(ctx)
	if err != nil {
		return err
	}
	active.Index++
	active.StartMoment = nil // set lazily on_finalize
	if err := e.store.SaveActiveEra(ctx, active); err != nil {
		return err
	}

	bonded, err := e.store.GetBondedEras(ctx)
	if err != nil {
		return err
	}
	startSession, _, err := e.store.GetErasStartSessionIndex(ctx, active.Index)
	if err != nil {
		return err
	}
	bonded = append(bonded, types.BondedEra{Era: active.Index, FirstSessionIndex: startSession})

	for len(bonded) > int(e.params.BondingDuration)+1 {
		pruned := bonded[0]
		bonded = bonded[1:]
		if e.history != nil {
			e.history.PruneUpTo(ctx, pruned.Era)
		}
	}
	if err := e.store.SaveBondedEras(ctx, bonded); err != nil {
		return err
	}

	if e.slashing != nil {
		return e.slashing.ApplyForEra(ctx, active.Index)
	}
	return nil
}

// OnInitialize opens the election window once the current session is
// final and the estimated remaining blocks fall within the lookahead
// (spec.md §4.2 on_initialize).
func (e *Engine) OnInitialize(ctx context.Context, block uint64) error {
	final, err := e.store.GetIsCurrentSessionFinal(ctx)
	if err != nil {
		return err
	}
	if !final {
		return nil
	}
	if status := e.election.Status(); status.Open {
		return nil
	}
	if e.estimate == nil {
		return nil
	}
	remaining, ok := e.estimate(block)
	if !ok || remaining == 0 || remaining > e.params.ElectionLookahead {
		return nil
	}

	validators, err := e.stashes.Validators(ctx)
	if err != nil {
		return err
	}
	nominators, err := e.stashes.Nominators(ctx)
	if err != nil {
		return err
	}
	return e.election.Open(ctx, block, validators, nominators, e.stashes.TargetsOf)
}

// OnFinalize stamps active_era's start moment the first time it is
// observed unset (spec.md §4.2 on_finalize).
func (e *Engine) OnFinalize(ctx context.Context, block uint64) error {
	active, err := e.store.GetActiveEra(ctx)
	if err != nil {
		return err
	}
	if active.StartMoment != nil || e.caps.Clock == nil {
		return nil
	}
	now := e.caps.Clock.NowMillis()
	active.StartMoment = &now
	return e.store.SaveActiveEra(ctx, active)
}

// SlashEraSource adapts a raw Store into the shape the slashing engine
// needs: a bare EraIndex rather than the full ActiveEraInfo (spec.md
// §4.4 "EraSource"). It wraps Store directly rather than Engine since
// it needs no election/session-advance logic, only lookups.
type SlashEraSource struct {
	store Store
}

// NewSlashEraSource wraps store for use as slashing.EraSource.
func NewSlashEraSource(store Store) SlashEraSource {
	return SlashEraSource{store: store}
}

func (s SlashEraSource) ActiveEra(ctx context.Context) (types.EraIndex, error) {
	info, err := s.store.GetActiveEra(ctx)
	if err != nil {
		return 0, err
	}
	return info.Index, nil
}

func (s SlashEraSource) StartSessionIndex(ctx context.Context, era types.EraIndex) (types.SessionIndex, bool, error) {
	return s.store.GetErasStartSessionIndex(ctx, era)
}

func (s SlashEraSource) BondedEras(ctx context.Context) ([]types.BondedEra, error) {
	return s.store.GetBondedEras(ctx)
}
