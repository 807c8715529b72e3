package election

import (
	"context"

	"github.com/ccoin/staking/internal/capability"
	"github.com/ccoin/staking/pkg/fingerprint"
	"github.com/ccoin/staking/pkg/types"
)

// UnsignedSubmission is an Authority-mode submission carrying the
// additional validator index required by spec.md §4.3.1. The signature
// payload itself is opaque to this package; it is handed whole to
// capability.UnsignedSubmissionVerifier.
type UnsignedSubmission struct {
	Submission
	ValidatorIndex uint16
	Payload        []byte
}

// Priority is the derived transaction priority/longevity/provides tuple
// a transaction pool would index an accepted unsigned submission under
// (spec.md §4.3.1: "priority is set from score[0]; longevity from
// election_lookahead; (current_era, validator_key) serves as the unique
// provides-tag").
type Priority struct {
	Priority  uint64
	Longevity uint64
	Provides  [2][]byte // (current_era, validator_key)
}

// SubmitUnsigned validates an Authority-mode submission per §4.3.1: the
// window must be Open, the claimed score must improve on the queued
// score, the payload must verify under the authority key at
// ValidatorIndex, and the remainder of the §4.3 pipeline must pass. On
// acceptance it returns the Priority a transaction pool should index the
// submission under.
func (v *Validator) SubmitUnsigned(
	ctx context.Context,
	sub UnsignedSubmission,
	validatorCount int,
	currentEra types.EraIndex,
	electionLookahead uint64,
	validatorKey func(index uint16) ([]byte, bool),
	verifier capability.UnsignedSubmissionVerifier,
	nominationsOf NominationsOf,
	isValidator func(types.Address) bool,
	lastNonzeroSlash func(target types.Address) types.EraIndex,
) (Priority, error) {
	key, ok := validatorKey(sub.ValidatorIndex)
	if !ok || verifier == nil || !verifier.Verify(sub.Payload, sub.ValidatorIndex) {
		return Priority{}, types.ErrPhragmenBogusSignature
	}

	if err := v.Submit(ctx, sub.Submission, validatorCount, nominationsOf, isValidator, lastNonzeroSlash); err != nil {
		return Priority{}, err
	}

	return Priority{
		Priority:  sub.ClaimedScore[0],
		Longevity: electionLookahead,
		Provides:  [2][]byte{eraTag(currentEra), key},
	}, nil
}

// eraTag fingerprints currentEra into the fixed-width digest the
// transaction pool indexes the first provides-tag slot under, so
// repeated submissions for the same era collide on the same tag
// regardless of the validator submitting.
func eraTag(era types.EraIndex) []byte {
	var raw [4]byte
	raw[0], raw[1], raw[2], raw[3] = byte(era>>24), byte(era>>16), byte(era>>8), byte(era)
	digest := fingerprint.Sum(raw[:])
	return digest.Bytes()
}
