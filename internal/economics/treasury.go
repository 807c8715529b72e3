// Package economics implements the reward-remainder and slash-remainder
// sink: the external collaborator that absorbs the unpaid difference
// between an era's maximum and actual payout, and the portion of a
// slash left over after reporters are paid (spec.md §4.4, §4.5).
//
// Grounded on the teacher's internal/economics/treasury.go: a
// mutex-guarded running balance backed by a narrow store interface,
// with every mutation appended to an in-memory history and immediately
// persisted.
package economics

import (
	"context"
	"sync"

	"github.com/ccoin/staking/pkg/types"
)

// TreasuryTxType classifies one balance-affecting event.
type TreasuryTxType uint8

const (
	TxTypeRewardRemainder TreasuryTxType = iota
	TxTypeSlashRemainder
)

// TreasuryTx is one recorded balance change.
type TreasuryTx struct {
	TxType TreasuryTxType
	Amount uint64
	Era    types.EraIndex
	Source types.Address // zero for reward remainder, the slashed stash otherwise
}

// Store persists the treasury's running balance.
type Store interface {
	GetBalance(ctx context.Context) (uint64, error)
	SaveBalance(ctx context.Context, balance uint64) error
}

// Treasury accumulates reward and slash remainders (spec.md §4.5:
// "max_payout - total_payout is routed to the reward remainder sink";
// §4.4: "route the remainder of the slashed imbalance to the external
// Slash handler").
type Treasury struct {
	mu sync.RWMutex

	balance uint64
	history []TreasuryTx
	store   Store

	currentEra func() types.EraIndex
}

// New creates a Treasury, loading its running balance from store if one
// is configured. currentEra resolves the era to tag reward-remainder
// entries with.
func New(store Store, currentEra func() types.EraIndex) *Treasury {
	t := &Treasury{store: store, currentEra: currentEra}
	if store != nil {
		if bal, err := store.GetBalance(context.Background()); err == nil {
			t.balance = bal
		}
	}
	return t
}

// AbsorbRemainder implements era.RewardRemainderSink.
func (t *Treasury) AbsorbRemainder(ctx context.Context, amount uint64) {
	if amount == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	var eraIdx types.EraIndex
	if t.currentEra != nil {
		eraIdx = t.currentEra()
	}
	t.balance += amount
	t.history = append(t.history, TreasuryTx{TxType: TxTypeRewardRemainder, Amount: amount, Era: eraIdx})
	if t.store != nil {
		_ = t.store.SaveBalance(ctx, t.balance)
	}
}

// OnSlash implements capability.SlashHandler.
func (t *Treasury) OnSlash(stash types.Address, amount uint64) {
	if amount == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.balance += amount
	t.history = append(t.history, TreasuryTx{TxType: TxTypeSlashRemainder, Amount: amount, Source: stash})
	if t.store != nil {
		_ = t.store.SaveBalance(context.Background(), t.balance)
	}
}

// Balance returns the treasury's current balance.
func (t *Treasury) Balance() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.balance
}

// History returns a copy of every recorded balance change, oldest first.
func (t *Treasury) History() []TreasuryTx {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]TreasuryTx, len(t.history))
	copy(out, t.history)
	return out
}
