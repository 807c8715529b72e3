package registry

import (
	"context"
	"testing"

	"github.com/ccoin/staking/internal/capability"
	"github.com/ccoin/staking/internal/ledger"
	"github.com/ccoin/staking/pkg/types"
)

type mockLedgerStore struct {
	ledgers map[types.Address]*types.StakingLedger
	bonded  map[types.Address]types.Address
	payees  map[types.Address]types.RewardDestination
}

func newMockLedgerStore() *mockLedgerStore {
	return &mockLedgerStore{
		ledgers: make(map[types.Address]*types.StakingLedger),
		bonded:  make(map[types.Address]types.Address),
		payees:  make(map[types.Address]types.RewardDestination),
	}
}

func (s *mockLedgerStore) SaveLedger(ctx context.Context, c types.Address, l *types.StakingLedger) error {
	s.ledgers[c] = l
	return nil
}
func (s *mockLedgerStore) GetLedger(ctx context.Context, c types.Address) (*types.StakingLedger, bool, error) {
	l, ok := s.ledgers[c]
	return l, ok, nil
}
func (s *mockLedgerStore) DeleteLedger(ctx context.Context, c types.Address) error {
	delete(s.ledgers, c)
	return nil
}
func (s *mockLedgerStore) SaveBonded(ctx context.Context, stash, c types.Address) error {
	s.bonded[stash] = c
	return nil
}
func (s *mockLedgerStore) GetBonded(ctx context.Context, stash types.Address) (types.Address, bool, error) {
	c, ok := s.bonded[stash]
	return c, ok, nil
}
func (s *mockLedgerStore) DeleteBonded(ctx context.Context, stash types.Address) error {
	delete(s.bonded, stash)
	return nil
}
func (s *mockLedgerStore) SavePayee(ctx context.Context, stash types.Address, d types.RewardDestination) error {
	s.payees[stash] = d
	return nil
}
func (s *mockLedgerStore) GetPayee(ctx context.Context, stash types.Address) (types.RewardDestination, bool, error) {
	d, ok := s.payees[stash]
	return d, ok, nil
}
func (s *mockLedgerStore) DeletePayee(ctx context.Context, stash types.Address) error {
	delete(s.payees, stash)
	return nil
}

type mockCurrency struct{ free map[types.Address]uint64 }

func (c *mockCurrency) FreeBalance(stash types.Address) uint64     { return c.free[stash] }
func (c *mockCurrency) SetLock(types.Address, uint64)              {}
func (c *mockCurrency) RemoveLock(types.Address)                   {}
func (c *mockCurrency) Deposit(who types.Address, amount uint64)   { c.free[who] += amount }
func (c *mockCurrency) DecrementConsumers(types.Address)           {}

type mockRegistryStore struct {
	prefs         map[types.Address]types.ValidatorPrefs
	noms          map[types.Address]types.Nominations
	invulnerables []types.Address
}

func newMockRegistryStore() *mockRegistryStore {
	return &mockRegistryStore{
		prefs: make(map[types.Address]types.ValidatorPrefs),
		noms:  make(map[types.Address]types.Nominations),
	}
}

func (s *mockRegistryStore) SaveValidatorPrefs(ctx context.Context, stash types.Address, p types.ValidatorPrefs) error {
	s.prefs[stash] = p
	return nil
}
func (s *mockRegistryStore) GetValidatorPrefs(ctx context.Context, stash types.Address) (types.ValidatorPrefs, bool, error) {
	p, ok := s.prefs[stash]
	return p, ok, nil
}
func (s *mockRegistryStore) DeleteValidatorPrefs(ctx context.Context, stash types.Address) error {
	delete(s.prefs, stash)
	return nil
}
func (s *mockRegistryStore) ListValidators(ctx context.Context) ([]types.Address, error) {
	out := make([]types.Address, 0, len(s.prefs))
	for a := range s.prefs {
		out = append(out, a)
	}
	return out, nil
}
func (s *mockRegistryStore) SaveNominations(ctx context.Context, stash types.Address, n types.Nominations) error {
	s.noms[stash] = n
	return nil
}
func (s *mockRegistryStore) GetNominations(ctx context.Context, stash types.Address) (types.Nominations, bool, error) {
	n, ok := s.noms[stash]
	return n, ok, nil
}
func (s *mockRegistryStore) DeleteNominations(ctx context.Context, stash types.Address) error {
	delete(s.noms, stash)
	return nil
}
func (s *mockRegistryStore) ListNominators(ctx context.Context) ([]types.Address, error) {
	out := make([]types.Address, 0, len(s.noms))
	for a := range s.noms {
		out = append(out, a)
	}
	return out, nil
}
func (s *mockRegistryStore) SaveInvulnerables(ctx context.Context, stashes []types.Address) error {
	s.invulnerables = stashes
	return nil
}
func (s *mockRegistryStore) GetInvulnerables(ctx context.Context) ([]types.Address, error) {
	return s.invulnerables, nil
}

func addr(b byte) types.Address {
	var a types.Address
	a[0] = b
	return a
}

func newTestRegistry(t *testing.T) (*Registry, *mockRegistryStore, *ledger.LedgerStore) {
	t.Helper()
	ls := ledger.New(newMockLedgerStore(), capability.Capabilities{Currency: &mockCurrency{free: make(map[types.Address]uint64)}}, ledger.DefaultParams())
	regStore := newMockRegistryStore()
	reg, err := New(context.Background(), regStore, ls)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return reg, regStore, ls
}

func bondStash(t *testing.T, ls *ledger.LedgerStore, stash, controller types.Address) {
	t.Helper()
	if err := ls.Bond(context.Background(), stash, controller, 100, types.RewardDestinationStaked, 0); err != nil {
		t.Fatalf("Bond: %v", err)
	}
}

func TestValidateThenNominateAreMutuallyExclusive(t *testing.T) {
	reg, regStore, ls := newTestRegistry(t)
	ctx := context.Background()
	stash, controller := addr(1), addr(2)
	bondStash(t, ls, stash, controller)

	if err := reg.Validate(ctx, controller, types.ValidatorPrefs{}); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if _, ok := regStore.prefs[stash]; !ok {
		t.Fatal("expected validator prefs to be saved")
	}

	target := addr(3)
	if err := reg.Nominate(ctx, controller, []types.Address{target}, 0); err != nil {
		t.Fatalf("Nominate: %v", err)
	}
	if _, ok := regStore.prefs[stash]; ok {
		t.Error("expected validator prefs cleared by nominate")
	}
	if _, ok := regStore.noms[stash]; !ok {
		t.Error("expected nominations saved")
	}
}

func TestNominateRejectsEmptyOrTooManyTargets(t *testing.T) {
	reg, _, ls := newTestRegistry(t)
	ctx := context.Background()
	stash, controller := addr(1), addr(2)
	bondStash(t, ls, stash, controller)

	if err := reg.Nominate(ctx, controller, nil, 0); err != types.ErrEmptyTargets {
		t.Errorf("expected ErrEmptyTargets, got %v", err)
	}

	targets := make([]types.Address, types.MaxNominations+1)
	for i := range targets {
		targets[i] = addr(byte(i + 10))
	}
	if err := reg.Nominate(ctx, controller, targets, 0); err != types.ErrInvalidNumberOfNominations {
		t.Errorf("expected ErrInvalidNumberOfNominations, got %v", err)
	}
}

func TestChillClearsBoth(t *testing.T) {
	reg, regStore, ls := newTestRegistry(t)
	ctx := context.Background()
	stash, controller := addr(1), addr(2)
	bondStash(t, ls, stash, controller)

	if err := reg.Validate(ctx, controller, types.ValidatorPrefs{}); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := reg.Chill(ctx, controller); err != nil {
		t.Fatalf("Chill: %v", err)
	}
	if _, ok := regStore.prefs[stash]; ok {
		t.Error("expected prefs cleared after chill")
	}
	if _, ok := regStore.noms[stash]; ok {
		t.Error("expected nominations cleared after chill")
	}
}

func TestSetInvulnerablesAndIsInvulnerable(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	ctx := context.Background()
	a, b := addr(1), addr(2)

	if reg.IsInvulnerable(a) {
		t.Error("expected not invulnerable before set")
	}
	if err := reg.SetInvulnerables(ctx, []types.Address{a}); err != nil {
		t.Fatalf("SetInvulnerables: %v", err)
	}
	if !reg.IsInvulnerable(a) {
		t.Error("expected a invulnerable")
	}
	if reg.IsInvulnerable(b) {
		t.Error("expected b not invulnerable")
	}
}

func TestClearStashHookRemovesRegistrations(t *testing.T) {
	reg, regStore, ls := newTestRegistry(t)
	ctx := context.Background()
	stash, controller := addr(1), addr(2)
	bondStash(t, ls, stash, controller)
	if err := reg.Validate(ctx, controller, types.ValidatorPrefs{}); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if err := reg.ClearStash(ctx, stash); err != nil {
		t.Fatalf("ClearStash: %v", err)
	}
	if _, ok := regStore.prefs[stash]; ok {
		t.Error("expected prefs cleared by ClearStash")
	}
}
