package era

import (
	"context"

	"github.com/ccoin/staking/pkg/types"
)

// PointsStore persists the per-era reward-point ledger and the computed
// era payout amount (spec.md §4.5, §3 EraRewardPoints).
type PointsStore interface {
	GetPoints(ctx context.Context, era types.EraIndex) (*types.EraRewardPoints, error)
	SavePoints(ctx context.Context, era types.EraIndex, points *types.EraRewardPoints) error

	SaveValidatorReward(ctx context.Context, era types.EraIndex, amount uint64) error
	GetValidatorReward(ctx context.Context, era types.EraIndex) (uint64, bool, error)

	// ClearEra bulk-deletes the reward-point ledger and recorded payout
	// for era, called alongside exposure.Store.ClearEra (spec.md §4.2
	// new_era step 2).
	ClearEra(ctx context.Context, era types.EraIndex) error
}

// RewardByIDs credits points to each (validator, points) pair for the
// active era only (spec.md §4.5 reward_by_ids).
func (e *Engine) RewardByIDs(ctx context.Context, activeEra types.EraIndex, credits []ValidatorPoints) error {
	points, err := e.points.GetPoints(ctx, activeEra)
	if err != nil {
		return err
	}
	if points == nil {
		points = types.NewEraRewardPoints()
	}
	for _, c := range credits {
		points.Add(c.Validator, c.Points)
	}
	return e.points.SavePoints(ctx, activeEra, points)
}

// ValidatorPoints is one authorship credit (spec.md §4.5).
type ValidatorPoints struct {
	Validator types.Address
	Points    uint32
}

// RewardAuthoredBlock credits the standard authorship weights for a
// produced block and its referenced/authored uncles (spec.md §4.5):
// 20 per block produced, 2 per uncle referenced, 1 per uncle author.
func (e *Engine) RewardAuthoredBlock(ctx context.Context, activeEra types.EraIndex, author types.Address, uncleAuthors []types.Address) error {
	credits := []ValidatorPoints{{Validator: author, Points: types.PointsPerBlockAuthored}}
	for _, u := range uncleAuthors {
		credits = append(credits, ValidatorPoints{Validator: author, Points: types.PointsPerUncleReferenced})
		credits = append(credits, ValidatorPoints{Validator: u, Points: types.PointsPerUncleAuthored})
	}
	return e.RewardByIDs(ctx, activeEra, credits)
}
