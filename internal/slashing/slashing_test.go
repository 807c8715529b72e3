package slashing

import (
	"context"
	"testing"

	"github.com/ccoin/staking/internal/capability"
	"github.com/ccoin/staking/internal/exposure"
	"github.com/ccoin/staking/pkg/types"
)

type eraSlashKey struct {
	era   types.EraIndex
	stash types.Address
}

type mockStore struct {
	spans            map[types.Address]*SlashingSpans
	spanSlash        map[[32]byte]SpanSlash
	validatorSlashes map[eraSlashKey]EraSlash
	nominatorSlashes map[eraSlashKey]EraSlash
	earliest         *types.EraIndex
	unapplied        map[types.EraIndex][]UnappliedSlash
	bonded           []types.BondedEra
	activeEra        types.EraIndex
	startSessionIdx  map[types.EraIndex]types.SessionIndex
}

func newMockStore() *mockStore {
	return &mockStore{
		spans:            make(map[types.Address]*SlashingSpans),
		spanSlash:        make(map[[32]byte]SpanSlash),
		validatorSlashes: make(map[eraSlashKey]EraSlash),
		nominatorSlashes: make(map[eraSlashKey]EraSlash),
		unapplied:        make(map[types.EraIndex][]UnappliedSlash),
		startSessionIdx:  make(map[types.EraIndex]types.SessionIndex),
	}
}

func (s *mockStore) GetSpans(ctx context.Context, stash types.Address) (*SlashingSpans, bool, error) {
	sp, ok := s.spans[stash]
	return sp, ok, nil
}
func (s *mockStore) SaveSpans(ctx context.Context, stash types.Address, spans *SlashingSpans) error {
	s.spans[stash] = spans
	return nil
}
func (s *mockStore) DeleteSpans(ctx context.Context, stash types.Address) error {
	delete(s.spans, stash)
	return nil
}
func (s *mockStore) GetSpanSlash(ctx context.Context, stash types.Address, spanIndex uint32) (SpanSlash, bool, error) {
	v, ok := s.spanSlash[SpanKey(stash, spanIndex)]
	return v, ok, nil
}
func (s *mockStore) SaveSpanSlash(ctx context.Context, stash types.Address, spanIndex uint32, slash SpanSlash) error {
	s.spanSlash[SpanKey(stash, spanIndex)] = slash
	return nil
}
func (s *mockStore) GetValidatorSlashInEra(ctx context.Context, era types.EraIndex, stash types.Address) (EraSlash, bool, error) {
	v, ok := s.validatorSlashes[eraSlashKey{era, stash}]
	return v, ok, nil
}
func (s *mockStore) SaveValidatorSlashInEra(ctx context.Context, era types.EraIndex, stash types.Address, slash EraSlash) error {
	s.validatorSlashes[eraSlashKey{era, stash}] = slash
	return nil
}
func (s *mockStore) GetNominatorSlashInEra(ctx context.Context, era types.EraIndex, stash types.Address) (EraSlash, bool, error) {
	v, ok := s.nominatorSlashes[eraSlashKey{era, stash}]
	return v, ok, nil
}
func (s *mockStore) SaveNominatorSlashInEra(ctx context.Context, era types.EraIndex, stash types.Address, slash EraSlash) error {
	s.nominatorSlashes[eraSlashKey{era, stash}] = slash
	return nil
}
func (s *mockStore) GetEarliestUnappliedSlash(ctx context.Context) (*types.EraIndex, error) {
	return s.earliest, nil
}
func (s *mockStore) SaveEarliestUnappliedSlash(ctx context.Context, era types.EraIndex) error {
	s.earliest = &era
	return nil
}
func (s *mockStore) GetUnappliedSlashes(ctx context.Context, era types.EraIndex) ([]UnappliedSlash, error) {
	return s.unapplied[era], nil
}
func (s *mockStore) SaveUnappliedSlashes(ctx context.Context, era types.EraIndex, slashes []UnappliedSlash) error {
	s.unapplied[era] = slashes
	return nil
}
func (s *mockStore) DeleteUnappliedSlashes(ctx context.Context, era types.EraIndex) error {
	delete(s.unapplied, era)
	return nil
}

type mockEraSource struct {
	active   types.EraIndex
	startIdx map[types.EraIndex]types.SessionIndex
	bonded   []types.BondedEra
}

func (e *mockEraSource) ActiveEra(ctx context.Context) (types.EraIndex, error) { return e.active, nil }
func (e *mockEraSource) StartSessionIndex(ctx context.Context, era types.EraIndex) (types.SessionIndex, bool, error) {
	si, ok := e.startIdx[era]
	return si, ok, nil
}
func (e *mockEraSource) BondedEras(ctx context.Context) ([]types.BondedEra, error) {
	return e.bonded, nil
}

type mockLedger struct {
	debits map[types.Address]uint64
}

func newMockLedger() *mockLedger { return &mockLedger{debits: make(map[types.Address]uint64)} }

func (l *mockLedger) Slash(ctx context.Context, controller types.Address, amount uint64) (uint64, error) {
	l.debits[controller] += amount
	return amount, nil
}

type mockExposureStore struct {
	exposures map[types.EraIndex]map[types.Address]types.Exposure
}

func newMockExposureStore() *mockExposureStore {
	return &mockExposureStore{exposures: make(map[types.EraIndex]map[types.Address]types.Exposure)}
}
func (s *mockExposureStore) SaveExposure(ctx context.Context, era types.EraIndex, v types.Address, full, clipped types.Exposure) error {
	if s.exposures[era] == nil {
		s.exposures[era] = make(map[types.Address]types.Exposure)
	}
	s.exposures[era][v] = full
	return nil
}
func (s *mockExposureStore) GetExposure(ctx context.Context, era types.EraIndex, v types.Address) (types.Exposure, bool, error) {
	e, ok := s.exposures[era][v]
	return e, ok, nil
}
func (s *mockExposureStore) GetClippedExposure(ctx context.Context, era types.EraIndex, v types.Address) (types.Exposure, bool, error) {
	return types.Exposure{}, false, nil
}
func (s *mockExposureStore) SavePrefs(context.Context, types.EraIndex, types.Address, types.ValidatorPrefs) error {
	return nil
}
func (s *mockExposureStore) GetPrefs(context.Context, types.EraIndex, types.Address) (types.ValidatorPrefs, bool, error) {
	return types.ValidatorPrefs{}, false, nil
}
func (s *mockExposureStore) SaveTotalStake(context.Context, types.EraIndex, uint64) error { return nil }
func (s *mockExposureStore) GetTotalStake(context.Context, types.EraIndex) (uint64, bool, error) {
	return 0, false, nil
}
func (s *mockExposureStore) SaveStartSessionIndex(context.Context, types.EraIndex, types.SessionIndex) error {
	return nil
}
func (s *mockExposureStore) GetStartSessionIndex(context.Context, types.EraIndex) (types.SessionIndex, bool, error) {
	return 0, false, nil
}
func (s *mockExposureStore) ClearEra(context.Context, types.EraIndex) error { return nil }

func addr(b byte) types.Address {
	var a types.Address
	a[0] = b
	return a
}

func newTestEngine(deferDuration types.EraIndex) (*Engine, *mockStore, *mockLedger, *exposure.ExposureStore) {
	store := newMockStore()
	ledger := newMockLedger()
	exposures := exposure.New(newMockExposureStore(), 64)
	eras := &mockEraSource{active: 5, startIdx: map[types.EraIndex]types.SessionIndex{5: 50}}
	caps := capability.Capabilities{}
	eng := New(store, exposures, ledger, eras,
		func(stash types.Address) (types.Address, bool) { return stash, true },
		func(types.Address) bool { return false },
		func() bool { return false },
		caps, Params{SlashDeferDuration: deferDuration, RewardProportion: types.PerbillFromParts(100_000_000), BondingDuration: 28})
	return eng, store, ledger, exposures
}

func TestOnOffenceImmediateApplicationWhenNoDefer(t *testing.T) {
	eng, store, ledger, exposures := newTestEngine(0)
	ctx := context.Background()

	validator := addr(1)
	_, err := exposures.RecordElectionResult(ctx, 5, map[types.Address]types.Exposure{
		validator: {Total: 1000, Own: 1000},
	}, func(types.Address) types.ValidatorPrefs { return types.ValidatorPrefs{} })
	if err != nil {
		t.Fatalf("RecordElectionResult: %v", err)
	}

	err = eng.OnOffence(ctx, []OffenceDetail{{Offender: validator, Fraction: types.PerbillFromParts(100_000_000)}}, 50)
	if err != nil {
		t.Fatalf("OnOffence: %v", err)
	}
	if ledger.debits[validator] != 100 {
		t.Errorf("expected 100 slashed (10%% of 1000), got %d", ledger.debits[validator])
	}
	if len(store.unapplied[5]) != 0 {
		t.Errorf("expected no queued slashes with zero defer duration")
	}
}

func TestOnOffenceDefersWhenDurationNonzero(t *testing.T) {
	eng, store, ledger, exposures := newTestEngine(28)
	ctx := context.Background()

	validator := addr(1)
	if _, err := exposures.RecordElectionResult(ctx, 5, map[types.Address]types.Exposure{
		validator: {Total: 1000, Own: 1000},
	}, func(types.Address) types.ValidatorPrefs { return types.ValidatorPrefs{} }); err != nil {
		t.Fatalf("RecordElectionResult: %v", err)
	}

	if err := eng.OnOffence(ctx, []OffenceDetail{{Offender: validator, Fraction: types.PerbillFromParts(100_000_000)}}, 50); err != nil {
		t.Fatalf("OnOffence: %v", err)
	}
	if ledger.debits[validator] != 0 {
		t.Errorf("expected no immediate debit while deferred, got %d", ledger.debits[validator])
	}
	if len(store.unapplied[5]) != 1 {
		t.Fatalf("expected 1 queued slash, got %d", len(store.unapplied[5]))
	}

	// Era 5's queue drains once 5 < active - 28, i.e. at active era 34.
	if err := eng.ApplyForEra(ctx, 34); err != nil {
		t.Fatalf("ApplyForEra: %v", err)
	}
	if ledger.debits[validator] != 100 {
		t.Errorf("expected 100 slashed after drain, got %d", ledger.debits[validator])
	}
}

func TestOnOffenceSkipsInvulnerable(t *testing.T) {
	store := newMockStore()
	ledger := newMockLedger()
	exposures := exposure.New(newMockExposureStore(), 64)
	eras := &mockEraSource{active: 5, startIdx: map[types.EraIndex]types.SessionIndex{5: 50}}
	validator := addr(9)
	eng := New(store, exposures, ledger, eras,
		func(stash types.Address) (types.Address, bool) { return stash, true },
		func(stash types.Address) bool { return stash == validator },
		func() bool { return false },
		capability.Capabilities{}, Params{RewardProportion: types.PerbillFromParts(0)})
	ctx := context.Background()
	if _, err := exposures.RecordElectionResult(ctx, 5, map[types.Address]types.Exposure{
		validator: {Total: 1000, Own: 1000},
	}, func(types.Address) types.ValidatorPrefs { return types.ValidatorPrefs{} }); err != nil {
		t.Fatalf("RecordElectionResult: %v", err)
	}

	if err := eng.OnOffence(ctx, []OffenceDetail{{Offender: validator, Fraction: types.One()}}, 50); err != nil {
		t.Fatalf("OnOffence: %v", err)
	}
	if ledger.debits[validator] != 0 {
		t.Errorf("expected invulnerable validator to be skipped, got debit %d", ledger.debits[validator])
	}
}

func TestOnOffenceRejectedDuringElectionWindow(t *testing.T) {
	store := newMockStore()
	ledger := newMockLedger()
	exposures := exposure.New(newMockExposureStore(), 64)
	eras := &mockEraSource{active: 5}
	eng := New(store, exposures, ledger, eras,
		func(stash types.Address) (types.Address, bool) { return stash, true },
		func(types.Address) bool { return false },
		func() bool { return true },
		capability.Capabilities{}, Params{})

	err := eng.OnOffence(context.Background(), []OffenceDetail{{Offender: addr(1), Fraction: types.One()}}, 10)
	if err != types.ErrStaleDuringElectionWindow {
		t.Errorf("expected ErrStaleDuringElectionWindow, got %v", err)
	}
}

func TestSpanKeyIsDeterministicAndDistinct(t *testing.T) {
	a, b := addr(1), addr(2)
	k1 := SpanKey(a, 0)
	k2 := SpanKey(a, 0)
	if k1 != k2 {
		t.Error("expected SpanKey to be deterministic")
	}
	if SpanKey(a, 1) == k1 {
		t.Error("expected different span indices to produce different keys")
	}
	if SpanKey(b, 0) == k1 {
		t.Error("expected different stashes to produce different keys")
	}
}

func TestCancelDeferredSlashMarksCancelled(t *testing.T) {
	eng, store, _, _ := newTestEngine(28)
	ctx := context.Background()
	store.unapplied[5] = []UnappliedSlash{{Validator: addr(1)}, {Validator: addr(2)}}

	if err := eng.CancelDeferredSlash(ctx, 5, []int{1}); err != nil {
		t.Fatalf("CancelDeferredSlash: %v", err)
	}
	if !store.unapplied[5][1].Cancelled {
		t.Error("expected index 1 to be cancelled")
	}
	if store.unapplied[5][0].Cancelled {
		t.Error("expected index 0 to remain uncancelled")
	}

	if err := eng.CancelDeferredSlash(ctx, 5, []int{0, 0}); err != types.ErrDuplicateIndex {
		t.Errorf("expected ErrDuplicateIndex for repeated index, got %v", err)
	}
	if err := eng.CancelDeferredSlash(ctx, 5, []int{99}); err != types.ErrInvalidSlashIndex {
		t.Errorf("expected ErrInvalidSlashIndex for out-of-range index, got %v", err)
	}
}

func TestNominatorSharedAcrossValidatorsIsNotDoubleCharged(t *testing.T) {
	eng, _, ledger, exposures := newTestEngine(0)
	ctx := context.Background()

	validatorA, validatorB := addr(1), addr(2)
	nominator := addr(3)
	if _, err := exposures.RecordElectionResult(ctx, 5, map[types.Address]types.Exposure{
		validatorA: {Total: 1000, Own: 400, Others: []types.IndividualExposure{{Who: nominator, Value: 600}}},
		validatorB: {Total: 1600, Own: 1000, Others: []types.IndividualExposure{{Who: nominator, Value: 600}}},
	}, func(types.Address) types.ValidatorPrefs { return types.ValidatorPrefs{} }); err != nil {
		t.Fatalf("RecordElectionResult: %v", err)
	}

	// Validator A is reported first at 10%: the nominator's edge (600)
	// is charged in full (60).
	if err := eng.OnOffence(ctx, []OffenceDetail{{Offender: validatorA, Fraction: types.PerbillFromParts(100_000_000)}}, 50); err != nil {
		t.Fatalf("OnOffence A: %v", err)
	}
	if ledger.debits[nominator] != 60 {
		t.Fatalf("expected nominator charged 60 after first offence, got %d", ledger.debits[nominator])
	}

	// Validator B is reported second, in the same era, at a lower 5%:
	// the nominator's per-era watermark is already above 5%, so no
	// further debit should be applied for this edge.
	if err := eng.OnOffence(ctx, []OffenceDetail{{Offender: validatorB, Fraction: types.PerbillFromParts(50_000_000)}}, 50); err != nil {
		t.Fatalf("OnOffence B: %v", err)
	}
	if ledger.debits[nominator] != 60 {
		t.Errorf("expected nominator debit to remain 60 after a lower-fraction second offence, got %d", ledger.debits[nominator])
	}
}

func TestClearStashDeletesSpans(t *testing.T) {
	eng, store, _, _ := newTestEngine(0)
	stash := addr(1)
	store.spans[stash] = &SlashingSpans{Spans: []Span{{Index: 0}}}
	if err := eng.ClearStash(context.Background(), stash); err != nil {
		t.Fatalf("ClearStash: %v", err)
	}
	if _, ok := store.spans[stash]; ok {
		t.Error("expected spans deleted")
	}
}
