// Package storage persists per-user ledger state. Two backends exist: a
// JSON file store for zero-dependency deployments and a SQLite store.
package storage

import "time"

// Store is the persistence surface the credit ledger and the credits
// handler rely on. Unknown users have a zero balance and a zero sign-in
// time.
type Store interface {
	Balance(userID string) (int, error)
	SetBalance(userID string, balance int) error
	LastSignIn(userID string) (time.Time, error)
	SetLastSignIn(userID string, at time.Time) error
	Close() error
}
