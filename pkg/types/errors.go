package types

import "errors"

// Identity errors.
var (
	ErrNotController = errors.New("not a controller")
	ErrNotStash      = errors.New("not a stash")
	ErrAlreadyBonded = errors.New("stash already bonded")
	ErrAlreadyPaired = errors.New("controller already paired")
)

// Value errors.
var (
	ErrInsufficientValue         = errors.New("value is below the minimum bond")
	ErrEmptyTargets              = errors.New("nomination targets are empty")
	ErrNoMoreChunks              = errors.New("no more unlocking chunks can be scheduled")
	ErrNoUnlockChunk             = errors.New("no unlocking chunk to rebond")
	ErrFundedTarget              = errors.New("stash is already funded")
	ErrInvalidNumberOfNominations = errors.New("invalid number of nominations")
)

// Reward claim errors.
var (
	ErrInvalidEraToReward = errors.New("invalid era to reward")
)

// Governance errors.
var (
	ErrDuplicateIndex    = errors.New("duplicate slash index")
	ErrInvalidSlashIndex = errors.New("invalid slash index")
)

// Election submission errors.
var (
	ErrPhragmenEarlySubmission = errors.New("election window is not open")
	ErrPhragmenWeakSubmission  = errors.New("submitted score is not an improvement")
	ErrSnapshotUnavailable     = errors.New("election snapshot is unavailable")
	ErrPhragmenBogusWinnerCount = errors.New("winner count does not match desired winners")
	ErrPhragmenBogusWinner     = errors.New("winner index does not resolve in the snapshot")
	ErrPhragmenBogusCompact    = errors.New("compact assignment failed to decompress")
	ErrPhragmenBogusNominator  = errors.New("voter is neither a validator nor a nominator")
	ErrPhragmenBogusNomination = errors.New("nomination target or staleness check failed")
	ErrPhragmenBogusSelfVote   = errors.New("validator self-vote is malformed")
	ErrPhragmenBogusEdge       = errors.New("assignment edge targets a non-winner")
	ErrPhragmenBogusScore      = errors.New("recomputed score does not match the claimed score")
	ErrPhragmenBogusSignature  = errors.New("unsigned submission signature does not verify")
)

// Transaction-validity gating error, surfaced while the election window is
// open against any call that would mutate gated storage (spec.md §6).
var ErrStaleDuringElectionWindow = errors.New("call rejected: election window is open")
