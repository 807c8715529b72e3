package era

import (
	"context"
	"testing"

	"github.com/ccoin/staking/pkg/types"
)

type mockPayoutLedger struct {
	ledgers map[types.Address]*types.StakingLedger // keyed by controller
	credits map[types.Address]uint64                // keyed by stash
}

func newMockPayoutLedger() *mockPayoutLedger {
	return &mockPayoutLedger{ledgers: make(map[types.Address]*types.StakingLedger), credits: make(map[types.Address]uint64)}
}

func (m *mockPayoutLedger) Get(ctx context.Context, controller types.Address) (*types.StakingLedger, bool, error) {
	l, ok := m.ledgers[controller]
	return l, ok, nil
}
func (m *mockPayoutLedger) CreditReward(ctx context.Context, stash types.Address, amount uint64, dest types.RewardDestination, controller types.Address) error {
	m.credits[stash] += amount
	return nil
}
func (m *mockPayoutLedger) Persist(ctx context.Context, controller types.Address, l *types.StakingLedger) error {
	m.ledgers[controller] = l
	return nil
}

func newTestPayout(t *testing.T) (*Payout, *Engine, *mockPayoutLedger, *mockStore, *mockExposureStore) {
	t.Helper()
	eng, store, expStore, _, _, _ := newTestEngine()
	store.activeEra = types.ActiveEraInfo{Index: 10}

	ledger := newMockPayoutLedger()
	payee := func(ctx context.Context, stash types.Address) (types.RewardDestination, bool, error) {
		return types.RewardDestinationStaked, true, nil
	}
	p := NewPayout(eng, ledger, payee)
	return p, eng, ledger, store, expStore
}

func TestPayoutValidatorPaysShareAndMarksClaimed(t *testing.T) {
	p, eng, ledger, _, expStore := newTestPayout(t)
	ctx := context.Background()

	stash := addr(1)
	controller := addr(2)
	ledger.ledgers[controller] = &types.StakingLedger{Stash: stash, Active: 1000, Total: 1000}

	exp := types.Exposure{Total: 1000, Own: 400, Others: []types.IndividualExposure{{Who: addr(3), Value: 600}}}
	if err := expStore.SaveExposure(ctx, 9, stash, exp, exp); err != nil {
		t.Fatalf("SaveExposure: %v", err)
	}
	if err := expStore.SavePrefs(ctx, 9, stash, types.ValidatorPrefs{Commission: 0}); err != nil {
		t.Fatalf("SavePrefs: %v", err)
	}

	points := &types.EraRewardPoints{Total: 100, Individual: map[types.Address]uint32{stash: 50}}
	if err := eng.points.SavePoints(ctx, 9, points); err != nil {
		t.Fatalf("SavePoints: %v", err)
	}
	if err := eng.points.SaveValidatorReward(ctx, 9, 1000); err != nil {
		t.Fatalf("SaveValidatorReward: %v", err)
	}

	if err := p.PayoutValidator(ctx, controller, 9); err != nil {
		t.Fatalf("PayoutValidator: %v", err)
	}

	// pointShare=0.5, ownRatio=0.4, commission=0 => validatorShare=0.4
	// amount = 1000 * 0.5 * 0.4 = 200
	if ledger.credits[stash] != 200 {
		t.Errorf("expected credited 200, got %d", ledger.credits[stash])
	}
	if ledger.ledgers[controller].LastRewardEra == nil || *ledger.ledgers[controller].LastRewardEra != 9 {
		t.Error("expected last_reward_era set to 9")
	}
}

func TestPayoutValidatorRejectsDoubleClaim(t *testing.T) {
	p, _, ledger, _, expStore := newTestPayout(t)
	ctx := context.Background()

	stash := addr(1)
	controller := addr(2)
	already := types.EraIndex(9)
	ledger.ledgers[controller] = &types.StakingLedger{Stash: stash, Active: 1000, Total: 1000, LastRewardEra: &already}

	exp := types.Exposure{Total: 1000, Own: 1000}
	_ = expStore.SaveExposure(ctx, 9, stash, exp, exp)

	err := p.PayoutValidator(ctx, controller, 9)
	if err != types.ErrInvalidEraToReward {
		t.Errorf("expected ErrInvalidEraToReward, got %v", err)
	}
}

func TestPayoutValidatorRejectsEraBeyondHistoryDepth(t *testing.T) {
	p, eng, ledger, store, _ := newTestPayout(t)
	ctx := context.Background()
	eng.params.HistoryDepth = 5
	store.activeEra = types.ActiveEraInfo{Index: 20}

	controller := addr(2)
	ledger.ledgers[controller] = &types.StakingLedger{Stash: addr(1), Active: 1000, Total: 1000}

	err := p.PayoutValidator(ctx, controller, 10)
	if err != types.ErrInvalidEraToReward {
		t.Errorf("expected ErrInvalidEraToReward for stale era, got %v", err)
	}
}

func TestPayoutNominatorPaysClippedShare(t *testing.T) {
	p, eng, ledger, _, expStore := newTestPayout(t)
	ctx := context.Background()

	nominatorStash := addr(5)
	controller := addr(6)
	validator := addr(1)
	ledger.ledgers[controller] = &types.StakingLedger{Stash: nominatorStash, Active: 600, Total: 600}

	clipped := types.Exposure{Total: 1000, Own: 400, Others: []types.IndividualExposure{{Who: nominatorStash, Value: 600}}}
	if err := expStore.SaveExposure(ctx, 9, validator, clipped, clipped); err != nil {
		t.Fatalf("SaveExposure: %v", err)
	}
	if err := expStore.SavePrefs(ctx, 9, validator, types.ValidatorPrefs{Commission: 0}); err != nil {
		t.Fatalf("SavePrefs: %v", err)
	}

	points := &types.EraRewardPoints{Total: 100, Individual: map[types.Address]uint32{validator: 100}}
	if err := eng.points.SavePoints(ctx, 9, points); err != nil {
		t.Fatalf("SavePoints: %v", err)
	}
	if err := eng.points.SaveValidatorReward(ctx, 9, 1000); err != nil {
		t.Fatalf("SaveValidatorReward: %v", err)
	}

	claims := []NominatorClaim{{Validator: validator, Index: 0}}
	if err := p.PayoutNominator(ctx, controller, 9, claims); err != nil {
		t.Fatalf("PayoutNominator: %v", err)
	}

	// pointShare=1, commission=0, edgeRatio=600/1000=0.6 => 1000*1*1*0.6=600
	if ledger.credits[nominatorStash] != 600 {
		t.Errorf("expected credited 600, got %d", ledger.credits[nominatorStash])
	}
}

func TestPayoutNominatorSkipsMismatchedStashClaim(t *testing.T) {
	p, eng, ledger, _, expStore := newTestPayout(t)
	ctx := context.Background()

	controller := addr(6)
	validator := addr(1)
	ledger.ledgers[controller] = &types.StakingLedger{Stash: addr(9), Active: 100, Total: 100}

	clipped := types.Exposure{Total: 1000, Others: []types.IndividualExposure{{Who: addr(5), Value: 600}}}
	_ = expStore.SaveExposure(ctx, 9, validator, clipped, clipped)
	_ = eng.points.SavePoints(ctx, 9, &types.EraRewardPoints{Total: 10, Individual: map[types.Address]uint32{validator: 10}})
	_ = eng.points.SaveValidatorReward(ctx, 9, 1000)

	claims := []NominatorClaim{{Validator: validator, Index: 0}}
	if err := p.PayoutNominator(ctx, controller, 9, claims); err != nil {
		t.Fatalf("PayoutNominator: %v", err)
	}
	if ledger.credits[addr(9)] != 0 {
		t.Errorf("expected no credit for mismatched stash claim, got %d", ledger.credits[addr(9)])
	}
}

func TestPayoutNominatorRejectsTooManyClaims(t *testing.T) {
	p, _, ledger, _, _ := newTestPayout(t)
	ctx := context.Background()
	controller := addr(6)
	ledger.ledgers[controller] = &types.StakingLedger{Stash: addr(5), Active: 100, Total: 100}

	claims := make([]NominatorClaim, types.MaxNominations+1)
	err := p.PayoutNominator(ctx, controller, 9, claims)
	if err != types.ErrInvalidNumberOfNominations {
		t.Errorf("expected ErrInvalidNumberOfNominations, got %v", err)
	}
}
