package election

import (
	"context"

	"github.com/ccoin/staking/pkg/types"
)

// NominationsOf resolves a nominator's current targets and the era it
// last (re)submitted them, for staleness checks against §4.4's slashing
// spans.
type NominationsOf func(who types.Address) (targets []types.Address, submittedIn types.EraIndex, ok bool)

// Submit runs the full validation pipeline against the active snapshot
// and, on success, overwrites the queued result (spec.md §4.3
// "Validation pipeline", reject on first failure).
func (v *Validator) Submit(
	ctx context.Context,
	sub Submission,
	validatorCount int,
	nominationsOf NominationsOf,
	isValidator func(types.Address) bool,
	lastNonzeroSlash func(target types.Address) types.EraIndex,
) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.status.Open {
		return types.ErrPhragmenEarlySubmission
	}
	snap, ok, err := v.store.GetSnapshot(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return types.ErrSnapshotUnavailable
	}

	_, queuedScore, _, hasQueued, err := v.store.GetQueuedResult(ctx)
	if err != nil {
		return err
	}
	if hasQueued && !sub.ClaimedScore.Better(queuedScore) {
		return types.ErrPhragmenWeakSubmission
	}

	// 1. winners length.
	want := validatorCount
	if len(snap.Validators) < want {
		want = len(snap.Validators)
	}
	if len(sub.Winners) != want {
		return types.ErrPhragmenBogusWinnerCount
	}

	// 2. resolve winners.
	winnerSet := make(map[types.Address]bool, len(sub.Winners))
	for _, idx := range sub.Winners {
		if int(idx) >= len(snap.Validators) {
			return types.ErrPhragmenBogusWinner
		}
		winnerSet[snap.Validators[idx]] = true
	}

	// 3. decompress.
	assignments := make([]Assignment, 0, len(sub.Compact))
	for _, c := range sub.Compact {
		if int(c.Voter) >= len(snap.Nominators) {
			return types.ErrPhragmenBogusCompact
		}
		voter := snap.Nominators[c.Voter]

		ratios := make([]types.PerU16, 0, len(c.Distribution))
		dist := make([]struct {
			Target types.Address
			Ratio  types.PerU16
		}, 0, len(c.Distribution))
		for _, d := range c.Distribution {
			if int(d.Target) >= len(snap.Validators) {
				return types.ErrPhragmenBogusCompact
			}
			ratios = append(ratios, d.Ratio)
			dist = append(dist, struct {
				Target types.Address
				Ratio  types.PerU16
			}{Target: snap.Validators[d.Target], Ratio: d.Ratio})
		}
		if !types.SumToOne(ratios) {
			return types.ErrPhragmenBogusCompact
		}
		assignments = append(assignments, Assignment{Who: voter.Who, Distribution: dist})
	}

	// 4. classify each voter.
	for _, a := range assignments {
		validator := isValidator(a.Who)
		targets, submittedIn, isNominator := nominationsOf(a.Who)

		switch {
		case validator && isNominator:
			return types.ErrPhragmenBogusNominator
		case validator:
			if len(a.Distribution) != 1 || a.Distribution[0].Target != a.Who || a.Distribution[0].Ratio != types.PerU16One {
				return types.ErrPhragmenBogusSelfVote
			}
		case isNominator:
			allowed := make(map[types.Address]bool, len(targets))
			for _, t := range targets {
				allowed[t] = true
			}
			for _, d := range a.Distribution {
				if !allowed[d.Target] {
					return types.ErrPhragmenBogusNomination
				}
				if submittedIn < lastNonzeroSlash(d.Target) {
					return types.ErrPhragmenBogusNomination
				}
			}
		default:
			return types.ErrPhragmenBogusNominator
		}
	}

	// 5. convert to staked amounts, build support map.
	support := make(map[types.Address][]types.IndividualExposure)
	for _, a := range assignments {
		stake := v.stakeOf(a.Who)
		for _, d := range a.Distribution {
			if !winnerSet[d.Target] {
				return types.ErrPhragmenBogusEdge
			}
			value, err := d.Ratio.ToPerbill().MulBalance(stake)
			if err != nil {
				return types.ErrPhragmenBogusCompact
			}
			support[d.Target] = append(support[d.Target], types.IndividualExposure{Who: a.Who, Value: value})
		}
	}

	// 6. re-evaluate and compare the score.
	score := scoreOf(support)
	if score != sub.ClaimedScore {
		return types.ErrPhragmenBogusScore
	}

	return v.store.SaveQueuedResult(ctx, toExposures(&PhragmenResult{
		Winners: resolveWinners(sub.Winners, snap),
		Support: support,
	}), score, sub.Mode)
}

// resolveWinners maps submitted winner indices back to addresses.
func resolveWinners(winners []uint16, snap *Snapshot) []types.Address {
	out := make([]types.Address, len(winners))
	for i, idx := range winners {
		out[i] = snap.Validators[idx]
	}
	return out
}

func scoreOf(support map[types.Address][]types.IndividualExposure) Score {
	var minSupport, totalSupport, sumSquares uint64
	first := true
	for _, edges := range support {
		var total uint64
		for _, e := range edges {
			total += e.Value
		}
		totalSupport += total
		sumSquares += total * total
		if first || total < minSupport {
			minSupport = total
			first = false
		}
	}
	return Score{minSupport, totalSupport, sumSquares}
}
