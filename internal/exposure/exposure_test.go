package exposure

import (
	"context"
	"testing"

	"github.com/ccoin/staking/pkg/types"
)

type mockStore struct {
	exposures map[types.EraIndex]map[types.Address]types.Exposure
	clipped   map[types.EraIndex]map[types.Address]types.Exposure
	prefs     map[types.EraIndex]map[types.Address]types.ValidatorPrefs
	total     map[types.EraIndex]uint64
	startIdx  map[types.EraIndex]types.SessionIndex
}

func newMockStore() *mockStore {
	return &mockStore{
		exposures: make(map[types.EraIndex]map[types.Address]types.Exposure),
		clipped:   make(map[types.EraIndex]map[types.Address]types.Exposure),
		prefs:     make(map[types.EraIndex]map[types.Address]types.ValidatorPrefs),
		total:     make(map[types.EraIndex]uint64),
		startIdx:  make(map[types.EraIndex]types.SessionIndex),
	}
}

func (s *mockStore) SaveExposure(ctx context.Context, era types.EraIndex, validator types.Address, full, clipped types.Exposure) error {
	if s.exposures[era] == nil {
		s.exposures[era] = make(map[types.Address]types.Exposure)
		s.clipped[era] = make(map[types.Address]types.Exposure)
	}
	s.exposures[era][validator] = full
	s.clipped[era][validator] = clipped
	return nil
}
func (s *mockStore) GetExposure(ctx context.Context, era types.EraIndex, validator types.Address) (types.Exposure, bool, error) {
	e, ok := s.exposures[era][validator]
	return e, ok, nil
}
func (s *mockStore) GetClippedExposure(ctx context.Context, era types.EraIndex, validator types.Address) (types.Exposure, bool, error) {
	e, ok := s.clipped[era][validator]
	return e, ok, nil
}
func (s *mockStore) SavePrefs(ctx context.Context, era types.EraIndex, validator types.Address, prefs types.ValidatorPrefs) error {
	if s.prefs[era] == nil {
		s.prefs[era] = make(map[types.Address]types.ValidatorPrefs)
	}
	s.prefs[era][validator] = prefs
	return nil
}
func (s *mockStore) GetPrefs(ctx context.Context, era types.EraIndex, validator types.Address) (types.ValidatorPrefs, bool, error) {
	p, ok := s.prefs[era][validator]
	return p, ok, nil
}
func (s *mockStore) SaveTotalStake(ctx context.Context, era types.EraIndex, total uint64) error {
	s.total[era] = total
	return nil
}
func (s *mockStore) GetTotalStake(ctx context.Context, era types.EraIndex) (uint64, bool, error) {
	t, ok := s.total[era]
	return t, ok, nil
}
func (s *mockStore) SaveStartSessionIndex(ctx context.Context, era types.EraIndex, session types.SessionIndex) error {
	s.startIdx[era] = session
	return nil
}
func (s *mockStore) GetStartSessionIndex(ctx context.Context, era types.EraIndex) (types.SessionIndex, bool, error) {
	si, ok := s.startIdx[era]
	return si, ok, nil
}
func (s *mockStore) ClearEra(ctx context.Context, era types.EraIndex) error {
	delete(s.exposures, era)
	delete(s.clipped, era)
	delete(s.prefs, era)
	delete(s.total, era)
	delete(s.startIdx, era)
	return nil
}

func addr(b byte) types.Address {
	var a types.Address
	a[0] = b
	return a
}

func TestRecordElectionResultClipsAndSumsTotalStake(t *testing.T) {
	store := newMockStore()
	es := New(store, 2)
	ctx := context.Background()

	validator := addr(1)
	full := types.Exposure{
		Total: 600,
		Own:   100,
		Others: []types.IndividualExposure{
			{Who: addr(2), Value: 300},
			{Who: addr(3), Value: 150},
			{Who: addr(4), Value: 50},
		},
	}
	result := map[types.Address]types.Exposure{validator: full}
	prefsOf := func(types.Address) types.ValidatorPrefs { return types.ValidatorPrefs{Commission: 5} }

	total, err := es.RecordElectionResult(ctx, 1, result, prefsOf)
	if err != nil {
		t.Fatalf("RecordElectionResult: %v", err)
	}
	if total != 600 {
		t.Errorf("expected total stake 600, got %d", total)
	}

	got, ok, err := es.Exposure(ctx, 1, validator)
	if err != nil || !ok {
		t.Fatalf("expected full exposure, err=%v", err)
	}
	if got.Total != 600 || len(got.Others) != 3 {
		t.Errorf("unexpected full exposure: %+v", got)
	}

	clipped, ok, err := es.ClippedExposure(ctx, 1, validator)
	if err != nil || !ok {
		t.Fatalf("expected clipped exposure, err=%v", err)
	}
	if len(clipped.Others) != 2 {
		t.Fatalf("expected 2 clipped entries, got %d", len(clipped.Others))
	}
	if clipped.Others[0].Value != 300 || clipped.Others[1].Value != 150 {
		t.Errorf("expected clipping to keep the two largest, got %+v", clipped.Others)
	}

	prefs, ok, err := es.Prefs(ctx, 1, validator)
	if err != nil || !ok || prefs.Commission != 5 {
		t.Errorf("expected snapshotted commission 5, got %+v ok=%v err=%v", prefs, ok, err)
	}

	stakeTotal, ok, err := es.TotalStake(ctx, 1)
	if err != nil || !ok || stakeTotal != 600 {
		t.Errorf("expected total stake 600, got %d ok=%v err=%v", stakeTotal, ok, err)
	}
}

func TestPruneClearsEra(t *testing.T) {
	store := newMockStore()
	es := New(store, 64)
	ctx := context.Background()

	validator := addr(1)
	result := map[types.Address]types.Exposure{validator: {Total: 10, Own: 10}}
	if _, err := es.RecordElectionResult(ctx, 1, result, func(types.Address) types.ValidatorPrefs { return types.ValidatorPrefs{} }); err != nil {
		t.Fatalf("RecordElectionResult: %v", err)
	}

	if err := es.Prune(ctx, 1); err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if _, ok, _ := es.Exposure(ctx, 1, validator); ok {
		t.Error("expected exposure to be pruned")
	}
	if _, ok, _ := es.TotalStake(ctx, 1); ok {
		t.Error("expected total stake to be pruned")
	}
}

func TestNewDefaultsMaxNominatorRewarded(t *testing.T) {
	es := New(newMockStore(), 0)
	if es.maxNominatorRewarded != types.MaxNominatorRewardedPerValidator {
		t.Errorf("expected default max nominator rewarded, got %d", es.maxNominatorRewarded)
	}
}
