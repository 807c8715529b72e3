// Package capability gathers the host-environment primitives the staking
// engine treats as external collaborators (spec.md §1, §9 design note):
// the currency/lock primitive, a monotonic clock, the session driver's
// current index, the inflation curve, the offence-report retry hook, and
// the unsigned-submission signature verifier.
//
// These are expressed as a single record of small interfaces passed into
// every component constructor, rather than as a base type other packages
// embed or extend — mirroring how the teacher's managers take a narrow
// Store interface as a constructor argument (reputation.NewManager(store),
// consensus.NewConsensus(dag, minerStore, config)) instead of inheriting
// from a shared base.
package capability

import "github.com/ccoin/staking/pkg/types"

// Currency is the external locked-balance primitive (spec.md §1: "the
// underlying currency/lock primitive" is out of scope; only its
// interface is modeled here).
type Currency interface {
	// FreeBalance returns the unlocked balance available to stash.
	FreeBalance(stash types.Address) uint64
	// SetLock rewrites the staking lock on stash to exactly amount,
	// the side effect required after every ledger mutation (spec.md §4.1).
	SetLock(stash types.Address, amount uint64)
	// RemoveLock drops the staking lock entirely (used on reap).
	RemoveLock(stash types.Address)
	// Deposit credits amount to stash's free balance (reward payout,
	// RewardDestinationStash/Controller).
	Deposit(who types.Address, amount uint64)
	// DecrementConsumers drops one external consumer reference on stash,
	// invoked when withdraw_unbonded reaps an empty ledger (spec.md §4.1).
	DecrementConsumers(stash types.Address)
}

// Clock is the external monotonic time source used only for
// reward-duration computation (spec.md §3 ActiveEraInfo.start_moment).
type Clock interface {
	// NowMillis returns the current moment in Unix milliseconds.
	NowMillis() uint64
}

// SessionIndexSource exposes the current session index, driven externally
// by the session module (spec.md §1 Out of scope).
type SessionIndexSource interface {
	CurrentSessionIndex() types.SessionIndex
}

// InflationCurve is the piecewise-linear reward curve, treated as a pure
// function out of scope per spec.md §1.
type InflationCurve func(totalStaked, totalIssuance, durationMillis uint64) (payout, maxPayout uint64)

// OffenceHandler is invoked when on_offence cannot be admitted because an
// election window is open, so the external reporting layer can retry
// (spec.md §4.4, §7).
type OffenceHandler interface {
	RetryOffenceReport(offenders []types.Address, slashSession types.SessionIndex)
}

// UnsignedSubmissionVerifier verifies the signature attached to an
// authority's unsigned election submission (spec.md §4.3.1). The
// cryptographic primitive itself is out of scope (spec.md §1); only the
// verification call shape is modeled.
type UnsignedSubmissionVerifier interface {
	Verify(payload []byte, validatorIndex uint16) bool
}

// SlashHandler receives the portion of a slashed imbalance left over
// after reporters are paid (spec.md §4.4: "route the remainder of the
// slashed imbalance to the external Slash handler").
type SlashHandler interface {
	OnSlash(stash types.Address, amount uint64)
}

// Logger is the ambient structured-logging hook (see SPEC_FULL.md Ambient
// Stack). A nil Logger is valid; Capabilities.Logf no-ops in that case.
type Logger func(format string, args ...any)

// Capabilities is the single record threaded through every component
// constructor.
type Capabilities struct {
	Currency           Currency
	Clock              Clock
	Session            SessionIndexSource
	Curve              InflationCurve
	Offences           OffenceHandler
	SubmissionVerifier UnsignedSubmissionVerifier
	Slash              SlashHandler
	Log                Logger
}

// Logf calls the configured Logger, or does nothing if none was set.
func (c Capabilities) Logf(format string, args ...any) {
	if c.Log != nil {
		c.Log(format, args...)
	}
}
