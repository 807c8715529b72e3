package slashing

import (
	"context"
	"sort"

	"github.com/ccoin/staking/internal/capability"
	"github.com/ccoin/staking/internal/exposure"
	"github.com/ccoin/staking/pkg/types"
)

// OffenceDetail is one proven offence against a validator, carrying the
// slash fraction and the reporters entitled to a bounty.
type OffenceDetail struct {
	Offender  types.Address
	Fraction  types.Perbill
	Reporters []types.Address
}

// LedgerSlasher is the subset of ledger.LedgerStore the engine debits
// against.
type LedgerSlasher interface {
	Slash(ctx context.Context, controller types.Address, amount uint64) (uint64, error)
}

// EraSource supplies the era bookkeeping the engine needs to resolve
// slash_session into a slash era and to bound the deferred drain
// (spec.md §4.4).
type EraSource interface {
	ActiveEra(ctx context.Context) (types.EraIndex, error)
	StartSessionIndex(ctx context.Context, era types.EraIndex) (types.SessionIndex, bool, error)
	BondedEras(ctx context.Context) ([]types.BondedEra, error)
}

// Params holds the slashing engine's protocol constants.
type Params struct {
	SlashDeferDuration types.EraIndex
	RewardProportion   types.Perbill
	BondingDuration    types.EraIndex
}

// Engine applies offence reports to the ledger, tracking per-span
// damage and deferring application per the bonding window (spec.md
// §4.4 "SlashingEngine").
type Engine struct {
	store     Store
	exposures *exposure.ExposureStore
	ledger    LedgerSlasher
	eras      EraSource
	caps      capability.Capabilities
	params    Params

	controllerOf   func(stash types.Address) (types.Address, bool)
	isInvulnerable func(stash types.Address) bool
	electionOpen   func() bool
}

// New creates an Engine. electionOpen reports whether the election
// window is currently open; OnOffence rejects reports while it is
// (spec.md §4.4 "can_report").
func New(store Store, exposures *exposure.ExposureStore, ledger LedgerSlasher, eras EraSource, controllerOf func(types.Address) (types.Address, bool), isInvulnerable func(types.Address) bool, electionOpen func() bool, caps capability.Capabilities, params Params) *Engine {
	return &Engine{
		store: store, exposures: exposures, ledger: ledger, eras: eras,
		controllerOf: controllerOf, isInvulnerable: isInvulnerable, electionOpen: electionOpen,
		caps: caps, params: params,
	}
}

// OnOffence admits an offence report, queuing or immediately applying
// the resulting slashes (spec.md §4.4 "on_offence").
func (e *Engine) OnOffence(ctx context.Context, offenders []OffenceDetail, slashSession types.SessionIndex) error {
	// Rejected while an election window is open so the caller retains
	// and retries the report (spec.md §4.4, §7).
	if e.electionOpen != nil && e.electionOpen() {
		if e.caps.Offences != nil {
			e.caps.Offences.RetryOffenceReport(addressesOf(offenders), slashSession)
		}
		return types.ErrStaleDuringElectionWindow
	}

	activeEra, err := e.eras.ActiveEra(ctx)
	if err != nil {
		return err
	}

	slashEra, dropped, err := e.resolveSlashEra(ctx, activeEra, slashSession)
	if err != nil {
		return err
	}
	if dropped {
		// Offence predates the bonding window; silently dropped
		// (spec.md §4.4).
		return nil
	}

	if earliest, err := e.store.GetEarliestUnappliedSlash(ctx); err != nil {
		return err
	} else if earliest == nil {
		if err := e.store.SaveEarliestUnappliedSlash(ctx, activeEra); err != nil {
			return err
		}
	}

	var queued []UnappliedSlash
	for _, offence := range offenders {
		if e.isInvulnerable != nil && e.isInvulnerable(offence.Offender) {
			continue
		}
		exp, ok, err := e.exposures.Exposure(ctx, slashEra, offence.Offender)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		candidate, ok, err := e.computeSlash(ctx, offence.Offender, offence.Fraction, slashEra, exp, offence.Reporters)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		if e.params.SlashDeferDuration == 0 {
			if err := e.applySlash(ctx, candidate); err != nil {
				return err
			}
			continue
		}
		queued = append(queued, candidate)
	}

	if len(queued) == 0 {
		return nil
	}
	existing, err := e.store.GetUnappliedSlashes(ctx, activeEra)
	if err != nil {
		return err
	}
	return e.store.SaveUnappliedSlashes(ctx, activeEra, append(existing, queued...))
}

func addressesOf(offenders []OffenceDetail) []types.Address {
	out := make([]types.Address, len(offenders))
	for i, o := range offenders {
		out[i] = o.Offender
	}
	return out
}

// resolveSlashEra maps a slash_session to the era it occurred in
// (spec.md §4.4 "Compute slash_era").
func (e *Engine) resolveSlashEra(ctx context.Context, activeEra types.EraIndex, slashSession types.SessionIndex) (types.EraIndex, bool, error) {
	activeStart, ok, err := e.eras.StartSessionIndex(ctx, activeEra)
	if err != nil {
		return 0, false, err
	}
	if ok && uint32(slashSession) >= uint32(activeStart) {
		return activeEra, false, nil
	}

	bonded, err := e.eras.BondedEras(ctx)
	if err != nil {
		return 0, false, err
	}
	for i := len(bonded) - 1; i >= 0; i-- {
		if uint32(bonded[i].FirstSessionIndex) <= uint32(slashSession) {
			return bonded[i].Era, false, nil
		}
	}
	return 0, true, nil
}

// computeSlash charges only the damage in excess of the current span's
// prior high-water-mark fraction (spec.md §4.4 "Span model").
func (e *Engine) computeSlash(ctx context.Context, stash types.Address, fraction types.Perbill, slashEra types.EraIndex, exp types.Exposure, reporters []types.Address) (UnappliedSlash, bool, error) {
	spans, ok, err := e.store.GetSpans(ctx, stash)
	if err != nil {
		return UnappliedSlash{}, false, err
	}
	if !ok || spans == nil {
		spans = &SlashingSpans{}
	}
	span := spans.CurrentSpan()

	prior, ok, err := e.store.GetSpanSlash(ctx, stash, span.Index)
	if err != nil {
		return UnappliedSlash{}, false, err
	}
	if ok && fraction <= prior.Fraction {
		return UnappliedSlash{}, false, nil
	}

	own, err := e.slashValidatorExcess(ctx, slashEra, stash, fraction, exp.Own)
	if err != nil {
		return UnappliedSlash{}, false, err
	}
	others := make([]types.IndividualExposure, 0, len(exp.Others))
	for _, o := range exp.Others {
		v, err := e.slashNominatorExcess(ctx, slashEra, o.Who, fraction, o.Value)
		if err != nil {
			return UnappliedSlash{}, false, err
		}
		if v > 0 {
			others = append(others, types.IndividualExposure{Who: o.Who, Value: v})
		}
	}

	if err := e.store.SaveSpanSlash(ctx, stash, span.Index, SpanSlash{Fraction: fraction, PaidOut: prior.PaidOut}); err != nil {
		return UnappliedSlash{}, false, err
	}
	span.LastNonzeroSlash = maxEra(span.LastNonzeroSlash, slashEra)
	if len(spans.Spans) == 0 {
		spans.Spans = []Span{span}
	} else {
		spans.Spans[len(spans.Spans)-1] = span
	}
	if err := e.store.SaveSpans(ctx, stash, spans); err != nil {
		return UnappliedSlash{}, false, err
	}

	return UnappliedSlash{
		Validator: stash,
		SpanIndex: span.Index,
		Own:       own,
		Others:    others,
		Reporters: reporters,
	}, true, nil
}

func maxEra(a, b types.EraIndex) types.EraIndex {
	if a > b {
		return a
	}
	return b
}

// slashValidatorExcess charges a validator's own stake only the amount
// beyond what `ValidatorSlashInEra[slashEra, stash]` already recorded:
// a second, lower-or-equal-fraction offence report against the same
// validator in the same era adds nothing further (spec.md §6
// "ValidatorSlashInEra[era, stash]").
func (e *Engine) slashValidatorExcess(ctx context.Context, slashEra types.EraIndex, stash types.Address, fraction types.Perbill, exposureValue uint64) (uint64, error) {
	return e.slashAccountExcess(ctx, slashEra, stash, fraction, exposureValue, e.store.GetValidatorSlashInEra, e.store.SaveValidatorSlashInEra)
}

// slashNominatorExcess charges a nominator only the amount beyond its
// own highest-seen fraction in slashEra, tracked per nominator stash
// rather than per (validator, nominator) pair: a nominator backing two
// validators both slashed in the same era is charged once, up to its
// worst fraction across the two offences (spec.md §4.4 "Slash
// application", §6 "NominatorSlashInEra[era, stash]").
func (e *Engine) slashNominatorExcess(ctx context.Context, slashEra types.EraIndex, nominator types.Address, fraction types.Perbill, exposureValue uint64) (uint64, error) {
	return e.slashAccountExcess(ctx, slashEra, nominator, fraction, exposureValue, e.store.GetNominatorSlashInEra, e.store.SaveNominatorSlashInEra)
}

func (e *Engine) slashAccountExcess(ctx context.Context, slashEra types.EraIndex, account types.Address, fraction types.Perbill, exposureValue uint64,
	get func(context.Context, types.EraIndex, types.Address) (EraSlash, bool, error),
	save func(context.Context, types.EraIndex, types.Address, EraSlash) error) (uint64, error) {

	full, err := fraction.MulBalance(exposureValue)
	if err != nil {
		return 0, err
	}
	prior, ok, err := get(ctx, slashEra, account)
	if err != nil {
		return 0, err
	}
	if ok && fraction <= prior.Fraction {
		return 0, nil
	}
	charge, recorded := full, full
	if ok {
		if full > prior.Amount {
			charge = full - prior.Amount
		} else {
			charge, recorded = 0, prior.Amount
		}
	}
	if err := save(ctx, slashEra, account, EraSlash{Fraction: fraction, Amount: recorded}); err != nil {
		return 0, err
	}
	return charge, nil
}

// applySlash debits the validator and its nominators, pays reporters
// their bounty, and routes the remainder to the external slash handler
// (spec.md §4.4 "Slash application").
func (e *Engine) applySlash(ctx context.Context, candidate UnappliedSlash) error {
	var total uint64

	if controller, ok := e.controllerOf(candidate.Validator); ok && candidate.Own > 0 {
		actual, err := e.ledger.Slash(ctx, controller, candidate.Own)
		if err != nil {
			return err
		}
		total += actual
	}
	for _, o := range candidate.Others {
		controller, ok := e.controllerOf(o.Who)
		if !ok || o.Value == 0 {
			continue
		}
		actual, err := e.ledger.Slash(ctx, controller, o.Value)
		if err != nil {
			return err
		}
		total += actual
	}
	if total == 0 {
		return nil
	}

	spanSlash, ok, err := e.store.GetSpanSlash(ctx, candidate.Validator, candidate.SpanIndex)
	if err != nil {
		return err
	}
	bounty, err := e.params.RewardProportion.MulBalance(total)
	if err != nil {
		return err
	}
	var payout uint64
	if ok && bounty > spanSlash.PaidOut {
		payout = bounty - spanSlash.PaidOut
	}

	if payout > 0 && len(candidate.Reporters) > 0 && e.caps.Currency != nil {
		share := payout / uint64(len(candidate.Reporters))
		for _, r := range candidate.Reporters {
			e.caps.Currency.Deposit(r, share)
		}
		spanSlash.PaidOut += share * uint64(len(candidate.Reporters))
		if err := e.store.SaveSpanSlash(ctx, candidate.Validator, candidate.SpanIndex, spanSlash); err != nil {
			return err
		}
	}

	remainder := total - payout
	if remainder > 0 && e.caps.Slash != nil {
		e.caps.Slash.OnSlash(candidate.Validator, remainder)
	}
	e.caps.Logf("slash applied: validator=%x total=%d reporter_payout=%d", candidate.Validator, total, payout)
	return nil
}

// ApplyForEra drains every unapplied slash older than
// active - slash_defer_duration (spec.md §4.4 "Deferred drain",
// §4.2 start_era).
func (e *Engine) ApplyForEra(ctx context.Context, active types.EraIndex) error {
	earliest, err := e.store.GetEarliestUnappliedSlash(ctx)
	if err != nil || earliest == nil {
		return err
	}

	cutoff := active
	if active > e.params.SlashDeferDuration {
		cutoff = active - e.params.SlashDeferDuration
	} else {
		cutoff = 0
	}

	next := *earliest
	for era := *earliest; era < cutoff; era++ {
		slashes, err := e.store.GetUnappliedSlashes(ctx, era)
		if err != nil {
			return err
		}
		for _, s := range slashes {
			if s.Cancelled {
				continue
			}
			if err := e.applySlash(ctx, s); err != nil {
				return err
			}
		}
		if err := e.store.DeleteUnappliedSlashes(ctx, era); err != nil {
			return err
		}
		next = era + 1
	}
	return e.store.SaveEarliestUnappliedSlash(ctx, next)
}

// LastNonzeroSlash returns stash's most recent nonzero-slash era across
// its span history, used by the election validator's nomination
// staleness check (spec.md §4.3 step 4).
func (e *Engine) LastNonzeroSlash(ctx context.Context, stash types.Address) types.EraIndex {
	spans, ok, err := e.store.GetSpans(ctx, stash)
	if err != nil || !ok || spans == nil {
		return 0
	}
	return spans.LastNonzeroSlash()
}

// ClearStash erases a reaped stash's slashing span history (spec.md
// §4.1 reap: "removes ... slashing spans").
func (e *Engine) ClearStash(ctx context.Context, stash types.Address) error {
	return e.store.DeleteSpans(ctx, stash)
}

// CancelDeferredSlash removes queued slashes by index from era's
// deferred list under a privileged origin (spec.md §4.4
// "cancel_deferred_slash"). indices must be strictly increasing and
// in-range.
func (e *Engine) CancelDeferredSlash(ctx context.Context, era types.EraIndex, indices []int) error {
	if !sort.IntsAreSorted(indices) {
		return types.ErrDuplicateIndex
	}
	for i := 1; i < len(indices); i++ {
		if indices[i] == indices[i-1] {
			return types.ErrDuplicateIndex
		}
	}

	slashes, err := e.store.GetUnappliedSlashes(ctx, era)
	if err != nil {
		return err
	}
	for _, idx := range indices {
		if idx < 0 || idx >= len(slashes) {
			return types.ErrInvalidSlashIndex
		}
		slashes[idx].Cancelled = true
	}
	return e.store.SaveUnappliedSlashes(ctx, era, slashes)
}
