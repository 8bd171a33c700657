// Package credit meters plugin usage against per-user balances. Deduction
// is eager: the price is taken before the handler runs and refunded if the
// handler fails or times out, so a broken handler never costs anyone.
package credit

import (
	"errors"
	"fmt"
	"sync"

	"plugbot/internal/plugin"
)

// ErrInsufficientBalance means the user cannot afford the plugin's price.
var ErrInsufficientBalance = errors.New("insufficient balance")

// Store persists balances. Implementations must tolerate unknown users by
// reporting a zero balance.
type Store interface {
	Balance(userID string) (int, error)
	SetBalance(userID string, balance int) error
}

// Ledger applies the pricing rules over a Store. Mutations for one user are
// serialized by a per-user lock; unrelated users proceed in parallel.
type Ledger struct {
	store Store

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLedger creates a Ledger over the given store.
func NewLedger(store Store) *Ledger {
	return &Ledger{store: store, locks: make(map[string]*sync.Mutex)}
}

// userLock returns the lock for a user, creating it on first use. Locks are
// never removed; the set of active users is small compared to traffic.
func (l *Ledger) userLock(userID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk, ok := l.locks[userID]
	if !ok {
		lk = &sync.Mutex{}
		l.locks[userID] = lk
	}
	return lk
}

// Authorize decides whether userID may invoke p and eagerly deducts the
// price when the invocation is payable. Rules in order: free plugins,
// admin bypass, whitelist bypass, then balance check. The returned charged
// flag tells the caller whether a Refund is owed on handler failure.
func (l *Ledger) Authorize(userID string, isAdmin, whitelisted bool, p *plugin.Plugin) (charged bool, err error) {
	if p.Price == 0 {
		return false, nil
	}
	if isAdmin && p.AdminIgnore {
		return false, nil
	}
	if whitelisted && p.WhitelistIgnore {
		return false, nil
	}

	lk := l.userLock(userID)
	lk.Lock()
	defer lk.Unlock()

	bal, err := l.store.Balance(userID)
	if err != nil {
		return false, fmt.Errorf("read balance: %w", err)
	}
	if bal < p.Price {
		return false, ErrInsufficientBalance
	}
	if err := l.store.SetBalance(userID, bal-p.Price); err != nil {
		return false, fmt.Errorf("deduct: %w", err)
	}
	return true, nil
}

// Refund returns p.Price to the user after a failed invocation. Call only
// when Authorize reported charged.
func (l *Ledger) Refund(userID string, p *plugin.Plugin) error {
	return l.Deposit(userID, p.Price)
}

// Deposit adds amount to the user's balance.
func (l *Ledger) Deposit(userID string, amount int) error {
	lk := l.userLock(userID)
	lk.Lock()
	defer lk.Unlock()

	bal, err := l.store.Balance(userID)
	if err != nil {
		return fmt.Errorf("read balance: %w", err)
	}
	return l.store.SetBalance(userID, bal+amount)
}

// Balance reads the user's current balance.
func (l *Ledger) Balance(userID string) (int, error) {
	return l.store.Balance(userID)
}
