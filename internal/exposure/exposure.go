// Package exposure implements per-era, per-validator stake exposure
// storage: the full exposure and its payout-bounding clipped variant
// (spec.md §4.2 "ExposureStore").
package exposure

import (
	"context"
	"sync"

	"github.com/ccoin/staking/pkg/types"
)

// Store persists exposures, clipped exposures, and the per-era prefs
// snapshot, plus the per-era total stake and the per-era starting session
// index.
type Store interface {
	SaveExposure(ctx context.Context, era types.EraIndex, validator types.Address, full, clipped types.Exposure) error
	GetExposure(ctx context.Context, era types.EraIndex, validator types.Address) (types.Exposure, bool, error)
	GetClippedExposure(ctx context.Context, era types.EraIndex, validator types.Address) (types.Exposure, bool, error)

	SavePrefs(ctx context.Context, era types.EraIndex, validator types.Address, prefs types.ValidatorPrefs) error
	GetPrefs(ctx context.Context, era types.EraIndex, validator types.Address) (types.ValidatorPrefs, bool, error)

	SaveTotalStake(ctx context.Context, era types.EraIndex, total uint64) error
	GetTotalStake(ctx context.Context, era types.EraIndex) (uint64, bool, error)

	SaveStartSessionIndex(ctx context.Context, era types.EraIndex, session types.SessionIndex) error
	GetStartSessionIndex(ctx context.Context, era types.EraIndex) (types.SessionIndex, bool, error)

	// ClearEra bulk-deletes every exposure/clipped/prefs/reward/points/
	// total entry for era (spec.md §4.2 new_era step 2). The era's start
	// session index is removed separately by the era engine.
	ClearEra(ctx context.Context, era types.EraIndex) error
}

// ExposureStore is the per-era exposure manager.
type ExposureStore struct {
	mu                        sync.RWMutex
	store                     Store
	maxNominatorRewarded      int
}

// New creates an ExposureStore. maxNominatorRewarded bounds clipped
// exposures (spec.md §3 MAX_NOMINATOR_REWARDED_PER_VALIDATOR).
func New(store Store, maxNominatorRewarded int) *ExposureStore {
	if maxNominatorRewarded <= 0 {
		maxNominatorRewarded = types.MaxNominatorRewardedPerValidator
	}
	return &ExposureStore{store: store, maxNominatorRewarded: maxNominatorRewarded}
}

// RecordElectionResult stores the full and clipped exposure and the
// snapshotted commission for each elected validator (spec.md §4.2
// new_era step 4), accumulating total stake along the way.
func (s *ExposureStore) RecordElectionResult(ctx context.Context, era types.EraIndex, result map[types.Address]types.Exposure, prefsOf func(types.Address) types.ValidatorPrefs) (totalStake uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for validator, full := range result {
		clipped := full.Clipped(s.maxNominatorRewarded)
		if err := s.store.SaveExposure(ctx, era, validator, full, clipped); err != nil {
			return 0, err
		}
		if err := s.store.SavePrefs(ctx, era, validator, prefsOf(validator)); err != nil {
			return 0, err
		}
		totalStake += full.Total
	}
	if err := s.store.SaveTotalStake(ctx, era, totalStake); err != nil {
		return 0, err
	}
	return totalStake, nil
}

// Exposure returns the full exposure for (era, validator).
func (s *ExposureStore) Exposure(ctx context.Context, era types.EraIndex, validator types.Address) (types.Exposure, bool, error) {
	return s.store.GetExposure(ctx, era, validator)
}

// ClippedExposure returns the clipped exposure for (era, validator).
func (s *ExposureStore) ClippedExposure(ctx context.Context, era types.EraIndex, validator types.Address) (types.Exposure, bool, error) {
	return s.store.GetClippedExposure(ctx, era, validator)
}

// Prefs returns the snapshotted commission prefs for (era, validator).
func (s *ExposureStore) Prefs(ctx context.Context, era types.EraIndex, validator types.Address) (types.ValidatorPrefs, bool, error) {
	return s.store.GetPrefs(ctx, era, validator)
}

// TotalStake returns the accumulated total stake for era.
func (s *ExposureStore) TotalStake(ctx context.Context, era types.EraIndex) (uint64, bool, error) {
	return s.store.GetTotalStake(ctx, era)
}

// SaveStartSessionIndex records the first session index of era.
func (s *ExposureStore) SaveStartSessionIndex(ctx context.Context, era types.EraIndex, session types.SessionIndex) error {
	return s.store.SaveStartSessionIndex(ctx, era, session)
}

// StartSessionIndex returns the first session index of era.
func (s *ExposureStore) StartSessionIndex(ctx context.Context, era types.EraIndex) (types.SessionIndex, bool, error) {
	return s.store.GetStartSessionIndex(ctx, era)
}

// Prune erases every era-scoped entry for era, called once era falls
// outside the retained history depth (spec.md §4.2 new_era step 2).
func (s *ExposureStore) Prune(ctx context.Context, era types.EraIndex) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.ClearEra(ctx, era)
}
