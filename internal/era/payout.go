package era

import (
	"context"

	"github.com/ccoin/staking/pkg/types"
)

// NominatorClaim pairs a backed validator with the caller's index into
// that validator's clipped exposure (spec.md §4.5 payout_nominator).
type NominatorClaim struct {
	Validator types.Address
	Index     int
}

// PayoutLedger is the subset of ledger.LedgerStore the payout routines
// need: reading a ledger by controller and crediting a reward.
type PayoutLedger interface {
	Get(ctx context.Context, controller types.Address) (*types.StakingLedger, bool, error)
	CreditReward(ctx context.Context, stash types.Address, amount uint64, dest types.RewardDestination, controllerOf types.Address) error
	Persist(ctx context.Context, controller types.Address, ledger *types.StakingLedger) error
}

// PayeeOf resolves a stash's configured reward destination.
type PayeeOf func(ctx context.Context, stash types.Address) (types.RewardDestination, bool, error)

// Payout wires the per-staker reward claim against an era engine's
// exposure and points stores (spec.md §4.5 "Per-staker claim").
type Payout struct {
	engine *Engine
	ledger PayoutLedger
	payee  PayeeOf
}

// NewPayout creates a Payout helper bound to engine.
func NewPayout(engine *Engine, ledgerStore PayoutLedger, payee PayeeOf) *Payout {
	return &Payout{engine: engine, ledger: ledgerStore, payee: payee}
}

func (p *Payout) claimEra(ctx context.Context, l *types.StakingLedger, era types.EraIndex, activeEra types.EraIndex) error {
	if activeEra < era || uint64(activeEra-era) >= uint64(p.engine.params.HistoryDepth) {
		return types.ErrInvalidEraToReward
	}
	if l.HasLastRewardEra() && *l.LastRewardEra >= era {
		return types.ErrInvalidEraToReward
	}
	last := era
	l.LastRewardEra = &last
	return nil
}

func (p *Payout) eraPayoutShare(ctx context.Context, era types.EraIndex, validator types.Address) (eraPayout uint64, pointShare float64, err error) {
	points, err := p.engine.points.GetPoints(ctx, era)
	if err != nil {
		return 0, 0, err
	}
	if points == nil || points.Total == 0 {
		return 0, 0, nil
	}
	eraPayout, ok, err := p.engine.points.GetValidatorReward(ctx, era)
	if err != nil || !ok {
		return 0, 0, err
	}
	pointShare = float64(points.Individual[validator]) / float64(points.Total)
	return eraPayout, pointShare, nil
}

// PayoutValidator pays a validator's own share of an era's reward
// (spec.md §4.5 payout_validator).
func (p *Payout) PayoutValidator(ctx context.Context, controller types.Address, era types.EraIndex) error {
	l, ok, err := p.ledger.Get(ctx, controller)
	if err != nil {
		return err
	}
	if !ok {
		return types.ErrNotController
	}

	active, err := p.engine.store.GetActiveEra(ctx)
	if err != nil {
		return err
	}
	if err := p.claimEra(ctx, l, era, active.Index); err != nil {
		return err
	}

	prefs, ok, err := p.engine.exposures.Prefs(ctx, era, l.Stash)
	if err != nil {
		return err
	}
	if !ok {
		return types.ErrInvalidEraToReward
	}
	exp, ok, err := p.engine.exposures.Exposure(ctx, era, l.Stash)
	if err != nil {
		return err
	}
	if !ok || exp.Total == 0 {
		return types.ErrInvalidEraToReward
	}

	eraPayout, pointShare, err := p.eraPayoutShare(ctx, era, l.Stash)
	if err != nil {
		return err
	}
	if eraPayout == 0 || pointShare == 0 {
		return nil
	}

	ownRatio := float64(exp.Own) / float64(exp.Total)
	commission := float64(prefs.Commission) / float64(types.PerbillDenominator)
	validatorShare := commission + (1-commission)*ownRatio

	amount := uint64(float64(eraPayout) * pointShare * validatorShare)
	return p.payAndPersist(ctx, controller, l, amount)
}

// PayoutNominator pays a nominator's share of backing one or more
// validators in an era (spec.md §4.5 payout_nominator).
func (p *Payout) PayoutNominator(ctx context.Context, controller types.Address, era types.EraIndex, claims []NominatorClaim) error {
	if len(claims) > types.MaxNominations {
		return types.ErrInvalidNumberOfNominations
	}

	l, ok, err := p.ledger.Get(ctx, controller)
	if err != nil {
		return err
	}
	if !ok {
		return types.ErrNotController
	}

	active, err := p.engine.store.GetActiveEra(ctx)
	if err != nil {
		return err
	}
	if err := p.claimEra(ctx, l, era, active.Index); err != nil {
		return err
	}

	var total uint64
	for _, claim := range claims {
		clipped, ok, err := p.engine.exposures.ClippedExposure(ctx, era, claim.Validator)
		if err != nil {
			return err
		}
		if !ok || claim.Index < 0 || claim.Index >= len(clipped.Others) {
			continue
		}
		edge := clipped.Others[claim.Index]
		if edge.Who != l.Stash || clipped.Total == 0 {
			continue
		}

		prefs, ok, err := p.engine.exposures.Prefs(ctx, era, claim.Validator)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		eraPayout, pointShare, err := p.eraPayoutShare(ctx, era, claim.Validator)
		if err != nil {
			return err
		}
		if eraPayout == 0 || pointShare == 0 {
			continue
		}

		commission := float64(prefs.Commission) / float64(types.PerbillDenominator)
		edgeRatio := float64(edge.Value) / float64(clipped.Total)
		total += uint64(float64(eraPayout) * pointShare * (1 - commission) * edgeRatio)
	}

	return p.payAndPersist(ctx, controller, l, total)
}

func (p *Payout) payAndPersist(ctx context.Context, controller types.Address, l *types.StakingLedger, amount uint64) error {
	dest, ok, err := p.payee(ctx, l.Stash)
	if err != nil {
		return err
	}
	if !ok {
		dest = types.RewardDestinationStaked
	}
	stakedCreditPersisted := false
	if amount > 0 {
		// CreditReward persists the ledger itself for RewardDestinationStaked;
		// the other destinations only touch the external currency, so the
		// last_reward_era mutation below still needs an explicit flush.
		if err := p.ledger.CreditReward(ctx, l.Stash, amount, dest, controller); err != nil {
			return err
		}
		stakedCreditPersisted = dest == types.RewardDestinationStaked
	}
	if !stakedCreditPersisted {
		return p.ledger.Persist(ctx, controller, l)
	}
	return nil
}
