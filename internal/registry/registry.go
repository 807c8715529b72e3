// Package registry implements the validator/nominator registration sets
// and the handful of global staking parameters a privileged origin may
// adjust (spec.md §3 "ValidatorPrefs (per stash)" / "Nominations (per
// stash)", §6 "set_validator_count / ... / set_invulnerables /
// set_history_depth").
//
// Grounded on the teacher's internal/reputation/manager.go: an
// in-memory cache guarded by a RWMutex, backed by a narrow Store
// interface, with every mutation immediately persisted.
package registry

import (
	"context"
	"sync"

	"github.com/ccoin/staking/internal/ledger"
	"github.com/ccoin/staking/pkg/types"
)

// Store persists validator/nominator registration and the
// governance-adjustable parameter set.
type Store interface {
	SaveValidatorPrefs(ctx context.Context, stash types.Address, prefs types.ValidatorPrefs) error
	GetValidatorPrefs(ctx context.Context, stash types.Address) (types.ValidatorPrefs, bool, error)
	DeleteValidatorPrefs(ctx context.Context, stash types.Address) error
	ListValidators(ctx context.Context) ([]types.Address, error)

	SaveNominations(ctx context.Context, stash types.Address, nom types.Nominations) error
	GetNominations(ctx context.Context, stash types.Address) (types.Nominations, bool, error)
	DeleteNominations(ctx context.Context, stash types.Address) error
	ListNominators(ctx context.Context) ([]types.Address, error)

	SaveInvulnerables(ctx context.Context, stashes []types.Address) error
	GetInvulnerables(ctx context.Context) ([]types.Address, error)
}

// Registry is the validator/nominator registration manager. It also
// implements era.StashSource, feeding election snapshots.
type Registry struct {
	mu      sync.RWMutex
	store   Store
	ledgers *ledger.LedgerStore

	invulnerable map[types.Address]bool
}

// New creates a Registry, priming the invulnerable set from store.
func New(ctx context.Context, store Store, ledgers *ledger.LedgerStore) (*Registry, error) {
	r := &Registry{store: store, ledgers: ledgers, invulnerable: make(map[types.Address]bool)}
	stashes, err := store.GetInvulnerables(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range stashes {
		r.invulnerable[s] = true
	}
	return r, nil
}

func (r *Registry) stashOf(ctx context.Context, controller types.Address) (types.Address, error) {
	l, ok, err := r.ledgers.Get(ctx, controller)
	if err != nil {
		return types.Address{}, err
	}
	if !ok {
		return types.Address{}, types.ErrNotController
	}
	return l.Stash, nil
}

// Validate registers (or updates) controller's stash as a validator
// candidate, clearing any existing nomination (spec.md §6 validate).
func (r *Registry) Validate(ctx context.Context, controller types.Address, prefs types.ValidatorPrefs) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stash, err := r.stashOf(ctx, controller)
	if err != nil {
		return err
	}
	if err := r.store.DeleteNominations(ctx, stash); err != nil {
		return err
	}
	return r.store.SaveValidatorPrefs(ctx, stash, prefs)
}

// Nominate registers (or updates) controller's stash as a nominator of
// targets, clearing any existing validator registration (spec.md §6
// nominate).
func (r *Registry) Nominate(ctx context.Context, controller types.Address, targets []types.Address, currentEra types.EraIndex) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(targets) == 0 {
		return types.ErrEmptyTargets
	}
	if len(targets) > types.MaxNominations {
		return types.ErrInvalidNumberOfNominations
	}

	stash, err := r.stashOf(ctx, controller)
	if err != nil {
		return err
	}
	if err := r.store.DeleteValidatorPrefs(ctx, stash); err != nil {
		return err
	}
	return r.store.SaveNominations(ctx, stash, types.Nominations{Targets: targets, SubmittedIn: currentEra})
}

// Chill removes controller's stash from both the validator and
// nominator sets (spec.md §6 chill).
func (r *Registry) Chill(ctx context.Context, controller types.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stash, err := r.stashOf(ctx, controller)
	if err != nil {
		return err
	}
	if err := r.store.DeleteValidatorPrefs(ctx, stash); err != nil {
		return err
	}
	return r.store.DeleteNominations(ctx, stash)
}

// ClearStash drops stash's validator and nominator registration,
// invoked as a ledger reap hook (spec.md §4.1 reap).
func (r *Registry) ClearStash(ctx context.Context, stash types.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.DeleteValidatorPrefs(ctx, stash); err != nil {
		return err
	}
	return r.store.DeleteNominations(ctx, stash)
}

// SetInvulnerables replaces the invulnerable set under a privileged
// origin (spec.md §6 set_invulnerables).
func (r *Registry) SetInvulnerables(ctx context.Context, stashes []types.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.SaveInvulnerables(ctx, stashes); err != nil {
		return err
	}
	r.invulnerable = make(map[types.Address]bool, len(stashes))
	for _, s := range stashes {
		r.invulnerable[s] = true
	}
	return nil
}

// IsInvulnerable reports whether stash is exempt from slashing (spec.md
// §GLOSSARY "Invulnerable").
func (r *Registry) IsInvulnerable(stash types.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.invulnerable[stash]
}

// Validators implements era.StashSource.
func (r *Registry) Validators(ctx context.Context) ([]types.Address, error) {
	return r.store.ListValidators(ctx)
}

// Nominators implements era.StashSource.
func (r *Registry) Nominators(ctx context.Context) ([]types.Address, error) {
	return r.store.ListNominators(ctx)
}

// TargetsOf implements era.StashSource, used to build the self-voting
// validator / nominator election snapshot.
func (r *Registry) TargetsOf(who types.Address) []types.Address {
	nom, ok, err := r.store.GetNominations(context.Background(), who)
	if err != nil || !ok {
		return nil
	}
	return nom.Targets
}

// PrefsOf implements era.StashSource.
func (r *Registry) PrefsOf(who types.Address) types.ValidatorPrefs {
	prefs, _, err := r.store.GetValidatorPrefs(context.Background(), who)
	if err != nil {
		return types.ValidatorPrefs{}
	}
	return prefs
}

// NominationsOf adapts the registry for election.NominationsOf: the
// targets and submission era backing a nominator's last-seen vote
// (spec.md §4.3 step 4 staleness check).
func (r *Registry) NominationsOf(who types.Address) ([]types.Address, types.EraIndex, bool) {
	nom, ok, err := r.store.GetNominations(context.Background(), who)
	if err != nil || !ok {
		return nil, 0, false
	}
	return nom.Targets, nom.SubmittedIn, true
}

// IsValidator reports whether stash is a registered validator
// candidate, used by the election validator's self-vote classification
// (spec.md §4.3 step 4).
func (r *Registry) IsValidator(stash types.Address) bool {
	_, ok, err := r.store.GetValidatorPrefs(context.Background(), stash)
	return err == nil && ok
}
