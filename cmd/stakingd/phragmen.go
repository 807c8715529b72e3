package main

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ccoin/staking/internal/election"
	"github.com/ccoin/staking/pkg/types"
)

// greedyPhragmen is the default on-chain fallback (spec.md §4.3 "On-chain
// fallback"): the real sequential-Phragmén apportionment is an
// out-of-scope pure function (spec.md §1); this picks the validatorCount
// candidates with the greatest total backing and assigns each voter's
// full stake to its single heaviest chosen target, which is enough to
// keep the engine live when no signed or authority solution ever lands.
func greedyPhragmen(candidates []types.Address, voters []election.Voter, validatorCount, minValidatorCount int, stakeOf func(types.Address) uint64) (*election.PhragmenResult, bool) {
	if len(candidates) < minValidatorCount {
		return nil, false
	}

	backing := make(map[types.Address]uint64, len(candidates))
	for _, c := range candidates {
		backing[c] = 0
	}
	for _, v := range voters {
		stake := stakeOf(v.Who)
		if stake == 0 || len(v.Targets) == 0 {
			continue
		}
		share := stake / uint64(len(v.Targets))
		for _, t := range v.Targets {
			if _, ok := backing[t]; ok {
				backing[t] += share
			}
		}
	}

	ranked := make([]types.Address, 0, len(candidates))
	for c := range backing {
		ranked = append(ranked, c)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if backing[ranked[i]] != backing[ranked[j]] {
			return backing[ranked[i]] > backing[ranked[j]]
		}
		return string(ranked[i].Bytes()) < string(ranked[j].Bytes())
	})
	if len(ranked) > validatorCount {
		ranked = ranked[:validatorCount]
	}
	if len(ranked) < minValidatorCount {
		return nil, false
	}

	winners := make(map[types.Address]bool, len(ranked))
	for _, w := range ranked {
		winners[w] = true
	}

	support := make(map[types.Address][]types.IndividualExposure)
	for _, v := range voters {
		stake := stakeOf(v.Who)
		if stake == 0 {
			continue
		}
		var best types.Address
		var bestBacking uint64
		found := false
		for _, t := range v.Targets {
			if !winners[t] {
				continue
			}
			if !found || backing[t] > bestBacking {
				best, bestBacking, found = t, backing[t], true
			}
		}
		if !found {
			continue
		}
		support[best] = append(support[best], types.IndividualExposure{Who: v.Who, Value: stake})
	}

	return &election.PhragmenResult{Winners: ranked, Support: support}, true
}

// memCurrency is an in-process stand-in for the external currency/lock
// primitive (spec.md §1 Out of scope), sufficient to run the engine
// without a separate balances module.
type memCurrency struct {
	mu    sync.Mutex
	free  map[types.Address]uint64
	locks map[types.Address]uint64
}

func newMemCurrency() *memCurrency {
	return &memCurrency{free: make(map[types.Address]uint64), locks: make(map[types.Address]uint64)}
}

func (c *memCurrency) FreeBalance(stash types.Address) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.free[stash]
}

func (c *memCurrency) SetLock(stash types.Address, amount uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.locks[stash] = amount
}

func (c *memCurrency) RemoveLock(stash types.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.locks, stash)
}

func (c *memCurrency) Deposit(who types.Address, amount uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.free[who] += amount
}

func (c *memCurrency) DecrementConsumers(stash types.Address) {}

// systemClock reports wall-clock time in Unix millis.
type systemClock struct{}

func (systemClock) NowMillis() uint64 {
	return uint64(time.Now().UnixMilli())
}

// sessionCounter is a free-running session index a host would otherwise
// drive externally (spec.md §1 Out of scope: "the session module").
type sessionCounter struct {
	mu  sync.Mutex
	idx types.SessionIndex
}

func (s *sessionCounter) CurrentSessionIndex() types.SessionIndex {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idx
}

func (s *sessionCounter) advance() types.SessionIndex {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idx++
	return s.idx
}

// noopHistoryPruner is the external historical-session store hook
// (spec.md §4.2 start_era); nothing in this daemon keeps session-keyed
// history outside the bonded-era ring, so pruning is a no-op log line.
type noopHistoryPruner struct {
	logf func(format string, args ...any)
}

func (p noopHistoryPruner) PruneUpTo(ctx context.Context, era types.EraIndex) {
	if p.logf != nil {
		p.logf("history: prune up to era %d (no historical-session store wired)", era)
	}
}
