package election

import (
	"context"
	"testing"

	"github.com/ccoin/staking/pkg/types"
)

type mockStore struct {
	snapshot      *Snapshot
	queuedResult  map[types.Address]types.Exposure
	queuedScore   Score
	queuedMode    ComputeMode
	hasQueued     bool
}

func (s *mockStore) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	s.snapshot = snap
	return nil
}
func (s *mockStore) GetSnapshot(ctx context.Context) (*Snapshot, bool, error) {
	return s.snapshot, s.snapshot != nil, nil
}
func (s *mockStore) EraseSnapshot(ctx context.Context) error {
	s.snapshot = nil
	return nil
}
func (s *mockStore) SaveQueuedResult(ctx context.Context, result map[types.Address]types.Exposure, score Score, mode ComputeMode) error {
	s.queuedResult, s.queuedScore, s.queuedMode, s.hasQueued = result, score, mode, true
	return nil
}
func (s *mockStore) GetQueuedResult(ctx context.Context) (map[types.Address]types.Exposure, Score, ComputeMode, bool, error) {
	return s.queuedResult, s.queuedScore, s.queuedMode, s.hasQueued, nil
}
func (s *mockStore) EraseQueuedResult(ctx context.Context) error {
	s.queuedResult, s.hasQueued = nil, false
	return nil
}

func addr(b byte) types.Address {
	var a types.Address
	a[0] = b
	return a
}

func flatStake(types.Address) uint64 { return 100 }

func TestOpenFreezesSnapshotWithSelfVotes(t *testing.T) {
	store := &mockStore{}
	v := New(store, nil, flatStake)
	ctx := context.Background()

	validators := []types.Address{addr(1), addr(2)}
	nominators := []types.Address{addr(3)}
	targetsOf := func(who types.Address) []types.Address { return []types.Address{addr(1)} }

	if err := v.Open(ctx, 10, validators, nominators, targetsOf); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !v.Status().Open {
		t.Fatal("expected window open")
	}
	if len(store.snapshot.Nominators) != 3 {
		t.Fatalf("expected 3 voters (2 self + 1 nominator), got %d", len(store.snapshot.Nominators))
	}

	// Reopening while already open is a no-op.
	if err := v.Open(ctx, 20, validators, nominators, targetsOf); err != nil {
		t.Fatalf("Open (reopen): %v", err)
	}
	if v.Status().Since != 10 {
		t.Errorf("expected Since to remain 10, got %d", v.Status().Since)
	}
}

func TestCloseErasesSnapshotAndQueue(t *testing.T) {
	store := &mockStore{}
	v := New(store, nil, flatStake)
	ctx := context.Background()
	_ = v.Open(ctx, 1, []types.Address{addr(1)}, nil, func(types.Address) []types.Address { return nil })

	if err := v.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if v.Status().Open {
		t.Error("expected window closed")
	}
	if store.snapshot != nil {
		t.Error("expected snapshot erased")
	}
}

func TestSubmitRejectsBeforeWindowOpen(t *testing.T) {
	store := &mockStore{}
	v := New(store, nil, flatStake)
	err := v.Submit(context.Background(), Submission{}, 2, nil, nil, nil)
	if err != types.ErrPhragmenEarlySubmission {
		t.Errorf("expected ErrPhragmenEarlySubmission, got %v", err)
	}
}

func TestSubmitAcceptsValidSelfVoteOnlySolution(t *testing.T) {
	store := &mockStore{}
	v := New(store, nil, flatStake)
	ctx := context.Background()

	validators := []types.Address{addr(1), addr(2)}
	if err := v.Open(ctx, 1, validators, nil, func(types.Address) []types.Address { return nil }); err != nil {
		t.Fatalf("Open: %v", err)
	}

	// Both validators self-vote at full weight.
	sub := Submission{
		Winners: []uint16{0, 1},
		Compact: []CompactAssignment{
			{Voter: 0, Distribution: []TargetShare{{Target: 0, Ratio: types.PerU16One}}},
			{Voter: 1, Distribution: []TargetShare{{Target: 1, Ratio: types.PerU16One}}},
		},
	}
	// claimed score must match recomputed score: each self-vote of stake
	// 100 at ratio PerU16One backs its own target with
	// floor(100 * PerU16One.ToPerbill()) = 99, so support[v] = [99], total=99.
	expectedEach := mustRatio(t, types.PerU16One, 100)
	sub.ClaimedScore = Score{expectedEach, expectedEach * 2, expectedEach * expectedEach * 2}

	isValidator := func(a types.Address) bool { return a == validators[0] || a == validators[1] }
	nominationsOf := func(types.Address) ([]types.Address, types.EraIndex, bool) { return nil, 0, false }
	lastNonzero := func(types.Address) types.EraIndex { return 0 }

	if err := v.Submit(ctx, sub, 2, nominationsOf, isValidator, lastNonzero); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !store.hasQueued {
		t.Fatal("expected a queued result")
	}
}

func mustRatio(t *testing.T, ratio types.PerU16, stake uint64) uint64 {
	t.Helper()
	v, err := ratio.ToPerbill().MulBalance(stake)
	if err != nil {
		t.Fatalf("MulBalance: %v", err)
	}
	return v
}

func TestFallbackPhragmenRequiresSnapshot(t *testing.T) {
	store := &mockStore{}
	v := New(store, func([]types.Address, []Voter, int, int, func(types.Address) uint64) (*PhragmenResult, bool) {
		return nil, false
	}, flatStake)

	_, _, err := v.FallbackPhragmen(context.Background(), 2, 1)
	if err != types.ErrSnapshotUnavailable {
		t.Errorf("expected ErrSnapshotUnavailable, got %v", err)
	}
}

func TestFallbackPhragmenUsesInjectedFunc(t *testing.T) {
	store := &mockStore{snapshot: &Snapshot{Validators: []types.Address{addr(1)}}}
	called := false
	fallback := func(candidates []types.Address, voters []Voter, validatorCount, minValidatorCount int, stakeOf func(types.Address) uint64) (*PhragmenResult, bool) {
		called = true
		return &PhragmenResult{Winners: candidates, Support: map[types.Address][]types.IndividualExposure{
			candidates[0]: {{Who: candidates[0], Value: 100}},
		}}, true
	}
	v := New(store, fallback, flatStake)

	result, ok, err := v.FallbackPhragmen(context.Background(), 1, 1)
	if err != nil || !ok {
		t.Fatalf("FallbackPhragmen: ok=%v err=%v", ok, err)
	}
	if !called {
		t.Error("expected fallback func to be invoked")
	}
	if result[addr(1)].Total != 100 {
		t.Errorf("expected total 100, got %d", result[addr(1)].Total)
	}
}

type stubVerifier struct{ ok bool }

func (s stubVerifier) Verify(payload []byte, validatorIndex uint16) bool { return s.ok }

func TestSubmitUnsignedRejectsBadSignature(t *testing.T) {
	store := &mockStore{}
	v := New(store, nil, flatStake)
	ctx := context.Background()
	_ = v.Open(ctx, 1, []types.Address{addr(1)}, nil, func(types.Address) []types.Address { return nil })

	key := func(uint16) ([]byte, bool) { return []byte("key"), true }
	_, err := v.SubmitUnsigned(ctx, UnsignedSubmission{ValidatorIndex: 0, Payload: []byte("payload")}, 1, 5, 10, key, stubVerifier{ok: false}, nil, nil, nil)
	if err != types.ErrPhragmenBogusSignature {
		t.Errorf("expected ErrPhragmenBogusSignature, got %v", err)
	}
}

func TestEraTagIsDeterministicAndDistinct(t *testing.T) {
	a := eraTag(5)
	b := eraTag(5)
	if len(a) == 0 {
		t.Fatal("expected non-empty digest")
	}
	if string(a) != string(b) {
		t.Error("expected eraTag to be deterministic for the same era")
	}
	if string(eraTag(6)) == string(a) {
		t.Error("expected different eras to produce different tags")
	}
}
