// Package ledger implements the bonding ledger: per-controller bonded
// balances, time-delayed unbonding chunks, rebonding, and slash
// absorption (spec.md §4.1).
//
// Grounded on the teacher's internal/reputation/manager.go: an in-memory
// cache guarded by a RWMutex, backed by a narrow Store interface, with a
// getOrCreate helper and every mutation immediately persisted.
package ledger

import (
	"context"
	"sync"

	"github.com/ccoin/staking/internal/capability"
	"github.com/ccoin/staking/pkg/common"
	"github.com/ccoin/staking/pkg/types"
)

// Store persists ledgers, the stash<->controller pairing, and payee
// routing. Implementations back this with a keyed store (see
// internal/storage).
type Store interface {
	SaveLedger(ctx context.Context, controller types.Address, ledger *types.StakingLedger) error
	GetLedger(ctx context.Context, controller types.Address) (*types.StakingLedger, bool, error)
	DeleteLedger(ctx context.Context, controller types.Address) error

	SaveBonded(ctx context.Context, stash, controller types.Address) error
	GetBonded(ctx context.Context, stash types.Address) (types.Address, bool, error)
	DeleteBonded(ctx context.Context, stash types.Address) error

	SavePayee(ctx context.Context, stash types.Address, dest types.RewardDestination) error
	GetPayee(ctx context.Context, stash types.Address) (types.RewardDestination, bool, error)
	DeletePayee(ctx context.Context, stash types.Address) error
}

// Params holds the ledger's protocol constants, analogous to the
// teacher's Default*Config() structs.
type Params struct {
	MinimumBalance  uint64
	BondingDuration types.EraIndex
}

// DefaultParams returns the conventional NPoS bonding parameters.
func DefaultParams() Params {
	return Params{
		MinimumBalance:  1,
		BondingDuration: 28,
	}
}

// LedgerStore is the bonding ledger manager (spec.md §4.1 "LedgerStore").
type LedgerStore struct {
	mu sync.RWMutex

	store  Store
	caps   capability.Capabilities
	params Params

	cache map[types.Address]*types.StakingLedger // keyed by controller

	reapHooks []func(ctx context.Context, stash types.Address) error
}

// New creates a LedgerStore.
func New(store Store, caps capability.Capabilities, params Params) *LedgerStore {
	return &LedgerStore{
		store:  store,
		caps:   caps,
		params: params,
		cache:  make(map[types.Address]*types.StakingLedger),
	}
}

// OnReap registers a hook run whenever a stash is reaped (withdraw_unbonded
// draining the ledger to empty, a slash draining it to empty, or
// force_unstake), so the validator/nominator registry and slashing spans
// can be cleared alongside (spec.md §4.1: "reaps the stash (removes lock,
// bond mapping, payee, validator/nominator records, slashing spans,
// decrements external ref-count)").
func (s *LedgerStore) OnReap(hook func(ctx context.Context, stash types.Address) error) {
	s.reapHooks = append(s.reapHooks, hook)
}

// SetPayee changes controller's stash's payout destination (spec.md §6
// set_payee).
func (s *LedgerStore) SetPayee(ctx context.Context, controller types.Address, dest types.RewardDestination) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ledger, err := s.getLocked(ctx, controller)
	if err != nil {
		return err
	}
	return s.store.SavePayee(ctx, ledger.Stash, dest)
}

// SetController re-pairs stash to newController, moving its ledger
// (spec.md §6 set_controller).
func (s *LedgerStore) SetController(ctx context.Context, stash, newController types.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldController, ok, err := s.store.GetBonded(ctx, stash)
	if err != nil {
		return err
	}
	if !ok {
		return types.ErrNotStash
	}
	if newController == oldController {
		return nil
	}
	if _, ok, err := s.store.GetLedger(ctx, newController); err != nil {
		return err
	} else if ok {
		return types.ErrAlreadyPaired
	}

	ledger, err := s.getLocked(ctx, oldController)
	if err != nil {
		return err
	}
	if err := s.store.SaveBonded(ctx, stash, newController); err != nil {
		return err
	}
	if err := s.store.SaveLedger(ctx, newController, ledger); err != nil {
		return err
	}
	if err := s.store.DeleteLedger(ctx, oldController); err != nil {
		return err
	}
	delete(s.cache, oldController)
	s.cache[newController] = ledger
	return nil
}

// ReapStash destroys stash's ledger if, and only if, it is already
// empty (active == 0, no unlocking chunks): any origin may call this
// once withdraw_unbonded has drained the last chunk (spec.md §6
// reap_stash).
func (s *LedgerStore) ReapStash(ctx context.Context, stash types.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	controller, ok, err := s.store.GetBonded(ctx, stash)
	if err != nil {
		return err
	}
	if !ok {
		return types.ErrNotStash
	}
	ledger, err := s.getLocked(ctx, controller)
	if err != nil {
		return err
	}
	if !ledger.IsEmpty() {
		return types.ErrFundedTarget
	}
	return s.reap(ctx, ledger.Stash, controller)
}

// ForceUnstake reaps stash's ledger unconditionally, regardless of its
// active balance or pending unlocking chunks, under a privileged origin
// (spec.md §6 force_unstake).
func (s *LedgerStore) ForceUnstake(ctx context.Context, stash types.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	controller, ok, err := s.store.GetBonded(ctx, stash)
	if err != nil {
		return err
	}
	if !ok {
		return types.ErrNotStash
	}
	ledger, err := s.getLocked(ctx, controller)
	if err != nil {
		return err
	}
	return s.reap(ctx, ledger.Stash, controller)
}

// Bond creates a new ledger for stash, controlled by controller.
func (s *LedgerStore) Bond(ctx context.Context, stash, controller types.Address, value uint64, payee types.RewardDestination, currentEra types.EraIndex) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok, err := s.store.GetBonded(ctx, stash); err != nil {
		return err
	} else if ok {
		return types.ErrAlreadyBonded
	}
	if _, ok, err := s.store.GetLedger(ctx, controller); err != nil {
		return err
	} else if ok {
		return types.ErrAlreadyPaired
	}
	if value < s.params.MinimumBalance {
		return types.ErrInsufficientValue
	}

	locked := value
	if free := s.caps.Currency.FreeBalance(stash); free < locked {
		locked = free
	}

	last := currentEra
	ledger := &types.StakingLedger{
		Stash:         stash,
		Total:         value,
		Active:        value,
		Unlocking:     nil,
		LastRewardEra: &last,
	}

	if err := s.store.SaveBonded(ctx, stash, controller); err != nil {
		return err
	}
	if err := s.store.SavePayee(ctx, stash, payee); err != nil {
		return err
	}
	s.caps.Currency.SetLock(stash, locked)
	s.cache[controller] = ledger
	return s.store.SaveLedger(ctx, controller, ledger)
}

// BondExtra tops up an existing ledger's Active and Total by
// min(freeBalance-total, maxAdditional) (spec.md §4.1).
func (s *LedgerStore) BondExtra(ctx context.Context, stash types.Address, maxAdditional uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	controller, ok, err := s.store.GetBonded(ctx, stash)
	if err != nil {
		return err
	}
	if !ok {
		return types.ErrNotStash
	}
	ledger, err := s.getLocked(ctx, controller)
	if err != nil {
		return err
	}

	free := s.caps.Currency.FreeBalance(stash)
	headroom := uint64(0)
	if free > ledger.Total {
		headroom = free - ledger.Total
	}
	add := common.Min(headroom, maxAdditional)
	if add == 0 {
		return nil
	}

	ledger.Active += add
	ledger.Total += add
	s.caps.Currency.SetLock(stash, ledger.Total)
	return s.persist(ctx, controller, ledger)
}

// Unbond moves v = min(value, active) out of Active into a new chunk that
// matures at current_era + bonding_duration (spec.md §4.1).
func (s *LedgerStore) Unbond(ctx context.Context, controller types.Address, value uint64, currentEra types.EraIndex) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ledger, err := s.getLocked(ctx, controller)
	if err != nil {
		return err
	}
	if len(ledger.Unlocking) >= types.MaxUnlockingChunks {
		return types.ErrNoMoreChunks
	}

	v := common.Min(value, ledger.Active)
	if ledger.Active-v < s.params.MinimumBalance {
		// Drain to zero rather than leave dust (spec.md §4.1).
		v = ledger.Active
	}
	if v == 0 {
		return nil
	}

	ledger.Active -= v
	ledger.Unlocking = append(ledger.Unlocking, types.UnlockChunk{
		Value: v,
		Era:   currentEra + s.params.BondingDuration,
	})

	return s.persist(ctx, controller, ledger)
}

// WithdrawUnbonded drains chunks whose Era <= currentEra. If the ledger
// becomes empty, the stash is reaped (spec.md §4.1).
func (s *LedgerStore) WithdrawUnbonded(ctx context.Context, controller types.Address, currentEra types.EraIndex) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ledger, err := s.getLocked(ctx, controller)
	if err != nil {
		return err
	}

	matured, pending := ledger.ConsolidatedUnlocking(currentEra)
	if len(matured) == 0 {
		return nil
	}
	var drained uint64
	for _, c := range matured {
		drained += c.Value
	}
	ledger.Total -= drained
	ledger.Unlocking = pending

	if ledger.IsEmpty() {
		return s.reap(ctx, ledger.Stash, controller)
	}
	s.caps.Currency.SetLock(ledger.Stash, ledger.Total)
	return s.persist(ctx, controller, ledger)
}

// Rebond pulls up to value back into Active from the newest chunks first
// (LIFO), per spec.md §4.1.
func (s *LedgerStore) Rebond(ctx context.Context, controller types.Address, value uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ledger, err := s.getLocked(ctx, controller)
	if err != nil {
		return err
	}
	if len(ledger.Unlocking) == 0 {
		return types.ErrNoUnlockChunk
	}

	remaining := value
	for remaining > 0 && len(ledger.Unlocking) > 0 {
		last := len(ledger.Unlocking) - 1
		chunk := &ledger.Unlocking[last]

		if chunk.Value <= remaining {
			remaining -= chunk.Value
			ledger.Active += chunk.Value
			ledger.Unlocking = ledger.Unlocking[:last]
		} else {
			chunk.Value -= remaining
			ledger.Active += remaining
			remaining = 0
		}
	}

	return s.persist(ctx, controller, ledger)
}

// Slash debits amount from ledger, first from Active, then front-to-back
// through Unlocking, absorbing any residue that would leave a remainder
// below minimumBalance rather than leaving dust. Returns the amount
// actually removed from Total (spec.md §4.1).
func (s *LedgerStore) Slash(ctx context.Context, controller types.Address, amount uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ledger, err := s.getLocked(ctx, controller)
	if err != nil {
		return 0, err
	}

	remaining := amount
	var actuallySlashed uint64

	// Active first.
	if remaining > 0 && ledger.Active > 0 {
		take := common.Min(remaining, ledger.Active)
		if ledger.Active-take < s.params.MinimumBalance {
			take = ledger.Active
		}
		ledger.Active -= take
		actuallySlashed += take
		remaining -= common.Min(remaining, take)
	}

	// Then unlocking chunks, closest-to-unlocking (front) first.
	for i := 0; i < len(ledger.Unlocking) && remaining > 0; i++ {
		chunk := &ledger.Unlocking[i]
		take := common.Min(remaining, chunk.Value)
		if chunk.Value-take < s.params.MinimumBalance {
			take = chunk.Value
		}
		chunk.Value -= take
		actuallySlashed += take
		if remaining >= take {
			remaining -= take
		} else {
			remaining = 0
		}
	}

	// Drop any chunks drained to zero.
	kept := ledger.Unlocking[:0]
	for _, c := range ledger.Unlocking {
		if c.Value > 0 {
			kept = append(kept, c)
		}
	}
	ledger.Unlocking = kept

	ledger.Total -= actuallySlashed
	if ledger.IsEmpty() {
		return actuallySlashed, s.reap(ctx, ledger.Stash, controller)
	}
	s.caps.Currency.SetLock(ledger.Stash, ledger.Total)
	return actuallySlashed, s.persist(ctx, controller, ledger)
}

// CreditReward adds amount to the ledger per its RewardDestination
// (spec.md §4.5): Staked also bonds it into Active and Total.
func (s *LedgerStore) CreditReward(ctx context.Context, stash types.Address, amount uint64, dest types.RewardDestination, controllerOf types.Address) error {
	switch dest {
	case types.RewardDestinationStaked:
		s.mu.Lock()
		defer s.mu.Unlock()
		ledger, err := s.getLocked(ctx, controllerOf)
		if err != nil {
			return err
		}
		ledger.Active += amount
		ledger.Total += amount
		s.caps.Currency.SetLock(stash, ledger.Total)
		s.caps.Currency.Deposit(stash, amount)
		return s.persist(ctx, controllerOf, ledger)
	case types.RewardDestinationStash:
		s.caps.Currency.Deposit(stash, amount)
		return nil
	case types.RewardDestinationController:
		s.caps.Currency.Deposit(controllerOf, amount)
		return nil
	default:
		return nil
	}
}

// Persist writes ledger back to the cache and backing store as-is,
// without any mutation logic of its own (used by callers, such as the
// reward payout routines, that mutate a ledger obtained via Get
// in-place and need to flush it).
func (s *LedgerStore) Persist(ctx context.Context, controller types.Address, ledger *types.StakingLedger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persist(ctx, controller, ledger)
}

// ActiveBalanceOf returns stash's current active (slashable) balance,
// used as the election validator's stake_of source (spec.md §4.3 step
// 5 "slashable_balance_of"). Returns 0 if stash is not bonded.
func (s *LedgerStore) ActiveBalanceOf(stash types.Address) uint64 {
	ctx := context.Background()
	s.mu.RLock()
	controller, ok, err := s.store.GetBonded(ctx, stash)
	if err != nil || !ok {
		s.mu.RUnlock()
		return 0
	}
	if l, ok := s.cache[controller]; ok {
		s.mu.RUnlock()
		return l.Active
	}
	s.mu.RUnlock()
	l, ok, err := s.store.GetLedger(ctx, controller)
	if err != nil || !ok {
		return 0
	}
	return l.Active
}

// ControllerOf resolves stash's current controller, used as the
// slashing engine's controllerOf closure (spec.md §4.4: slashing debits
// apply against the controller's ledger).
func (s *LedgerStore) ControllerOf(stash types.Address) (types.Address, bool) {
	controller, ok, err := s.store.GetBonded(context.Background(), stash)
	if err != nil || !ok {
		return types.Address{}, false
	}
	return controller, true
}

// Get returns the ledger for controller.
func (s *LedgerStore) Get(ctx context.Context, controller types.Address) (*types.StakingLedger, bool, error) {
	s.mu.RLock()
	if l, ok := s.cache[controller]; ok {
		s.mu.RUnlock()
		return l, true, nil
	}
	s.mu.RUnlock()
	return s.store.GetLedger(ctx, controller)
}

func (s *LedgerStore) getLocked(ctx context.Context, controller types.Address) (*types.StakingLedger, error) {
	if l, ok := s.cache[controller]; ok {
		return l, nil
	}
	l, ok, err := s.store.GetLedger(ctx, controller)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, types.ErrNotController
	}
	s.cache[controller] = l
	return l, nil
}

func (s *LedgerStore) persist(ctx context.Context, controller types.Address, ledger *types.StakingLedger) error {
	s.cache[controller] = ledger
	return s.store.SaveLedger(ctx, controller, ledger)
}

// reap destroys the stash<->controller pairing entirely, removing the
// lock, payee, and ledger (spec.md §4.1 withdraw_unbonded / §3 "Ownership").
func (s *LedgerStore) reap(ctx context.Context, stash, controller types.Address) error {
	delete(s.cache, controller)
	s.caps.Currency.RemoveLock(stash)
	s.caps.Currency.DecrementConsumers(stash)
	if err := s.store.DeleteLedger(ctx, controller); err != nil {
		return err
	}
	if err := s.store.DeleteBonded(ctx, stash); err != nil {
		return err
	}
	if err := s.store.DeletePayee(ctx, stash); err != nil {
		return err
	}
	for _, hook := range s.reapHooks {
		if err := hook(ctx, stash); err != nil {
			return err
		}
	}
	return nil
}
