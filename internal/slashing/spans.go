// Package slashing implements the per-stash slashing span ledger and the
// offence-to-ledger-debit pipeline (spec.md §4.4 "SlashingEngine").
//
// Grounded on the teacher's internal/reputation/slashing.go: a
// config/constants-driven penalty model backed by a narrow store
// interface, reworked here from a percentage-of-stake model into the
// spec's span-tracked, fraction-of-exposure model.
package slashing

import (
	"context"
	"encoding/binary"

	"golang.org/x/crypto/blake2b"

	"github.com/ccoin/staking/pkg/types"
)

// SpanKey derives the compound storage key for a (stash, span_index)
// pair: a span_slash record is always looked up by both together, never
// by stash or span_index alone, so the pair is collapsed into one
// collision-resistant key rather than carried as two indexed columns.
func SpanKey(stash types.Address, spanIndex uint32) [32]byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], spanIndex)
	return blake2b.Sum256(append(stash[:], buf[:]...))
}

// Span is a contiguous run of eras during which at most one "worst"
// slash fraction is charged against a stash (spec.md §4.4 "Span model").
type Span struct {
	Index            uint32
	Start            types.EraIndex
	LastNonzeroSlash types.EraIndex
}

// SlashingSpans is the chronological span history for one stash.
type SlashingSpans struct {
	Spans []Span
}

// CurrentSpan returns the most recent (highest-index) span, creating an
// initial span at era 0 if none exists yet.
func (s *SlashingSpans) CurrentSpan() Span {
	if len(s.Spans) == 0 {
		return Span{Index: 0}
	}
	return s.Spans[len(s.Spans)-1]
}

// LastNonzeroSlash returns the most recent era any span recorded a
// nonzero slash, used by the election validator's nomination staleness
// check (spec.md §4.3 step 4).
func (s *SlashingSpans) LastNonzeroSlash() types.EraIndex {
	var last types.EraIndex
	for _, span := range s.Spans {
		if span.LastNonzeroSlash > last {
			last = span.LastNonzeroSlash
		}
	}
	return last
}

// OpenNewSpan appends a new span starting at era, closing out the
// current one.
func (s *SlashingSpans) OpenNewSpan(era types.EraIndex) Span {
	next := Span{Index: uint32(len(s.Spans)), Start: era}
	s.Spans = append(s.Spans, next)
	return next
}

// SpanSlash is the highest slash fraction recorded in a span and the
// reporter bounty already paid out against it (spec.md §4.4
// "SpanSlash[(stash, span_index)]").
type SpanSlash struct {
	Fraction types.Perbill
	PaidOut  uint64
}

// UnappliedSlash is a computed, queued slash awaiting application at a
// deferred era (spec.md §4.4 "queue under unapplied_slashes").
type UnappliedSlash struct {
	Validator types.Address
	SpanIndex uint32
	Own       uint64
	Others    []types.IndividualExposure
	Reporters []types.Address
	Cancelled bool
}

// EraSlash is the highest fraction charged against one account within
// one era, and the amount that fraction produced, recorded under
// `ValidatorSlashInEra[era, stash]` / `NominatorSlashInEra[era, stash]`
// (spec.md §6). It lets a second offence report in the same era, for a
// different validator, charge only the excess beyond what the account
// already paid rather than the full fraction again.
type EraSlash struct {
	Fraction types.Perbill
	Amount   uint64
}

// Store persists spans, span-slash records, the per-era validator/
// nominator slash watermarks, the deferred slash queue, and the
// earliest-unapplied-slash watermark.
type Store interface {
	GetSpans(ctx context.Context, stash types.Address) (*SlashingSpans, bool, error)
	SaveSpans(ctx context.Context, stash types.Address, spans *SlashingSpans) error
	DeleteSpans(ctx context.Context, stash types.Address) error

	GetSpanSlash(ctx context.Context, stash types.Address, spanIndex uint32) (SpanSlash, bool, error)
	SaveSpanSlash(ctx context.Context, stash types.Address, spanIndex uint32, slash SpanSlash) error

	GetValidatorSlashInEra(ctx context.Context, era types.EraIndex, stash types.Address) (EraSlash, bool, error)
	SaveValidatorSlashInEra(ctx context.Context, era types.EraIndex, stash types.Address, slash EraSlash) error

	GetNominatorSlashInEra(ctx context.Context, era types.EraIndex, stash types.Address) (EraSlash, bool, error)
	SaveNominatorSlashInEra(ctx context.Context, era types.EraIndex, stash types.Address, slash EraSlash) error

	GetEarliestUnappliedSlash(ctx context.Context) (*types.EraIndex, error)
	SaveEarliestUnappliedSlash(ctx context.Context, era types.EraIndex) error

	GetUnappliedSlashes(ctx context.Context, era types.EraIndex) ([]UnappliedSlash, error)
	SaveUnappliedSlashes(ctx context.Context, era types.EraIndex, slashes []UnappliedSlash) error
	DeleteUnappliedSlashes(ctx context.Context, era types.EraIndex) error
}
