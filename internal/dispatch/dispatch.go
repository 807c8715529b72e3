// Package dispatch implements the external operations surface: every
// signed- or root-origin call a host runtime forwards into the engine,
// plus the transaction-gating rule that rejects mutations to gated
// storage while an election window is open (spec.md §6 "External
// Interfaces").
//
// Grounded on the teacher's internal/consensus/consensus.go: a
// coordinator holding concrete pointers to its sibling components
// (dag *dag.DAG, minerStore MinerStore) rather than depending on a
// shared base type.
package dispatch

import (
	"context"

	"github.com/ccoin/staking/internal/capability"
	"github.com/ccoin/staking/internal/election"
	"github.com/ccoin/staking/internal/era"
	"github.com/ccoin/staking/internal/ledger"
	"github.com/ccoin/staking/internal/registry"
	"github.com/ccoin/staking/internal/slashing"
	"github.com/ccoin/staking/pkg/types"
)

// ValidatorKey resolves the authority public key at a snapshot validator
// index, used only to verify unsigned election submissions (spec.md §1:
// the signature primitive itself is out of scope).
type ValidatorKey func(index uint16) ([]byte, bool)

// Dispatch wires the ledger, registry, era engine, payout, election
// validator, and slashing engine into the operation set spec.md §6
// names, applying the §6 "Transaction gating" rule uniformly.
type Dispatch struct {
	ledger    *ledger.LedgerStore
	registry  *registry.Registry
	eraEngine *era.Engine
	payout    *era.Payout
	election  *election.Validator
	slashing  *slashing.Engine

	caps         capability.Capabilities
	validatorKey ValidatorKey
}

// New creates a Dispatch surface over the given components.
func New(
	ledgerStore *ledger.LedgerStore,
	reg *registry.Registry,
	eraEngine *era.Engine,
	payout *era.Payout,
	electionValidator *election.Validator,
	slashingEngine *slashing.Engine,
	caps capability.Capabilities,
	validatorKey ValidatorKey,
) *Dispatch {
	return &Dispatch{
		ledger: ledgerStore, registry: reg, eraEngine: eraEngine, payout: payout,
		election: electionValidator, slashing: slashingEngine,
		caps: caps, validatorKey: validatorKey,
	}
}

// gate rejects the call with ErrStaleDuringElectionWindow while the
// election window is open (spec.md §6 "Transaction gating"). Callers
// exempt from gating (set_payee, set_controller, reap_stash, the
// election-submission calls, and every governance op) never invoke it.
func (d *Dispatch) gate() error {
	if d.election.Status().Open {
		return types.ErrStaleDuringElectionWindow
	}
	return nil
}

func (d *Dispatch) currentEra(ctx context.Context) (types.EraIndex, error) {
	cur, err := d.eraEngine.CurrentEra(ctx)
	if err != nil {
		return 0, err
	}
	if cur == nil {
		return 0, nil
	}
	return *cur, nil
}

func (d *Dispatch) lastNonzeroSlash(ctx context.Context) func(types.Address) types.EraIndex {
	return func(stash types.Address) types.EraIndex {
		return d.slashing.LastNonzeroSlash(ctx, stash)
	}
}

// ---- Bonding ledger (spec.md §4.1, §6) ----

// Bond is the stash-origin bond(controller, value, payee) call.
func (d *Dispatch) Bond(ctx context.Context, stash, controller types.Address, value uint64, payee types.RewardDestination) error {
	if err := d.gate(); err != nil {
		return err
	}
	current, err := d.currentEra(ctx)
	if err != nil {
		return err
	}
	return d.ledger.Bond(ctx, stash, controller, value, payee, current)
}

// BondExtra is the stash-origin bond_extra(max_additional) call.
func (d *Dispatch) BondExtra(ctx context.Context, stash types.Address, maxAdditional uint64) error {
	if err := d.gate(); err != nil {
		return err
	}
	return d.ledger.BondExtra(ctx, stash, maxAdditional)
}

// Unbond is the controller-origin unbond(value) call.
func (d *Dispatch) Unbond(ctx context.Context, controller types.Address, value uint64) error {
	if err := d.gate(); err != nil {
		return err
	}
	current, err := d.currentEra(ctx)
	if err != nil {
		return err
	}
	return d.ledger.Unbond(ctx, controller, value, current)
}

// WithdrawUnbonded is the controller-origin withdraw_unbonded() call.
func (d *Dispatch) WithdrawUnbonded(ctx context.Context, controller types.Address) error {
	if err := d.gate(); err != nil {
		return err
	}
	current, err := d.currentEra(ctx)
	if err != nil {
		return err
	}
	return d.ledger.WithdrawUnbonded(ctx, controller, current)
}

// Rebond is the controller-origin rebond(value) call.
func (d *Dispatch) Rebond(ctx context.Context, controller types.Address, value uint64) error {
	if err := d.gate(); err != nil {
		return err
	}
	return d.ledger.Rebond(ctx, controller, value)
}

// ---- Validator / nominator registration (spec.md §6) ----

// Validate is the controller-origin validate(prefs) call.
func (d *Dispatch) Validate(ctx context.Context, controller types.Address, prefs types.ValidatorPrefs) error {
	if err := d.gate(); err != nil {
		return err
	}
	return d.registry.Validate(ctx, controller, prefs)
}

// Nominate is the controller-origin nominate(targets) call.
func (d *Dispatch) Nominate(ctx context.Context, controller types.Address, targets []types.Address) error {
	if err := d.gate(); err != nil {
		return err
	}
	current, err := d.currentEra(ctx)
	if err != nil {
		return err
	}
	return d.registry.Nominate(ctx, controller, targets, current)
}

// Chill is the controller-origin chill() call.
func (d *Dispatch) Chill(ctx context.Context, controller types.Address) error {
	if err := d.gate(); err != nil {
		return err
	}
	return d.registry.Chill(ctx, controller)
}

// ---- Allowlisted during an open election window (spec.md §6) ----

// SetPayee is the controller-origin set_payee(dest) call.
func (d *Dispatch) SetPayee(ctx context.Context, controller types.Address, dest types.RewardDestination) error {
	return d.ledger.SetPayee(ctx, controller, dest)
}

// SetController is the stash-origin set_controller(new) call.
func (d *Dispatch) SetController(ctx context.Context, stash, newController types.Address) error {
	return d.ledger.SetController(ctx, stash, newController)
}

// ReapStash is the any-origin reap_stash(stash) call.
func (d *Dispatch) ReapStash(ctx context.Context, stash types.Address) error {
	return d.ledger.ReapStash(ctx, stash)
}

// ---- Reward payout (spec.md §4.5, §6) ----

// PayoutValidator is the controller-origin payout_validator(era) call.
func (d *Dispatch) PayoutValidator(ctx context.Context, controller types.Address, rewardEra types.EraIndex) error {
	if err := d.gate(); err != nil {
		return err
	}
	return d.payout.PayoutValidator(ctx, controller, rewardEra)
}

// PayoutNominator is the controller-origin payout_nominator(era,
// [(v, idx)]) call.
func (d *Dispatch) PayoutNominator(ctx context.Context, controller types.Address, rewardEra types.EraIndex, claims []era.NominatorClaim) error {
	if err := d.gate(); err != nil {
		return err
	}
	return d.payout.PayoutNominator(ctx, controller, rewardEra, claims)
}

// ---- Election submission (spec.md §4.3, §6; allowlisted) ----

// SubmitElectionSolution is the any-signed-origin
// submit_election_solution(winners, compact, score) call.
func (d *Dispatch) SubmitElectionSolution(ctx context.Context, sub election.Submission) error {
	return d.election.Submit(ctx, sub, d.eraEngine.ValidatorCount(), d.registry.NominationsOf, d.registry.IsValidator, d.lastNonzeroSlash(ctx))
}

// SubmitElectionSolutionUnsigned is the originless
// submit_election_solution_unsigned(winners, compact, score, vidx, sig)
// call.
func (d *Dispatch) SubmitElectionSolutionUnsigned(ctx context.Context, sub election.UnsignedSubmission) (election.Priority, error) {
	current, err := d.currentEra(ctx)
	if err != nil {
		return election.Priority{}, err
	}
	return d.election.SubmitUnsigned(
		ctx, sub, d.eraEngine.ValidatorCount(), current, d.eraEngine.ElectionLookahead(),
		d.validatorKey, d.caps.SubmissionVerifier, d.registry.NominationsOf, d.registry.IsValidator, d.lastNonzeroSlash(ctx),
	)
}

// ---- Governance (spec.md §6; privileged origin, allowlisted) ----

// SetValidatorCount is the privileged set_validator_count call.
func (d *Dispatch) SetValidatorCount(desired, minimum int) {
	d.eraEngine.SetValidatorCount(desired)
	d.eraEngine.SetMinimumValidatorCount(minimum)
}

// ForceNewEra is the privileged force_new_era call: advance at the next
// session boundary, then revert to NotForcing.
func (d *Dispatch) ForceNewEra(ctx context.Context) error {
	return d.eraEngine.SetForceEra(ctx, era.ForceNew)
}

// ForceNewEraAlways is the privileged force_new_era_always call:
// advance at every session boundary.
func (d *Dispatch) ForceNewEraAlways(ctx context.Context) error {
	return d.eraEngine.SetForceEra(ctx, era.ForceAlways)
}

// ForceNone is the privileged force_none call: never advance the era.
func (d *Dispatch) ForceNone(ctx context.Context) error {
	return d.eraEngine.SetForceEra(ctx, era.ForceNone)
}

// SetInvulnerables is the privileged set_invulnerables(stashes) call.
func (d *Dispatch) SetInvulnerables(ctx context.Context, stashes []types.Address) error {
	return d.registry.SetInvulnerables(ctx, stashes)
}

// SetHistoryDepth is the privileged set_history_depth(depth) call.
func (d *Dispatch) SetHistoryDepth(depth types.EraIndex) {
	d.eraEngine.SetHistoryDepth(depth)
}

// ForceUnstake is the privileged force_unstake(stash) call.
func (d *Dispatch) ForceUnstake(ctx context.Context, stash types.Address) error {
	return d.ledger.ForceUnstake(ctx, stash)
}

// CancelDeferredSlash is the privileged cancel_deferred_slash(era,
// indices) call.
func (d *Dispatch) CancelDeferredSlash(ctx context.Context, slashEra types.EraIndex, indices []int) error {
	return d.slashing.CancelDeferredSlash(ctx, slashEra, indices)
}
