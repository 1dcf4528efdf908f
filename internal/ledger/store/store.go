// Package store defines the four atomic primitives the ledger composes and an
// in-memory implementation of them.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNegativeBalance is returned when the backing store holds a negative balance,
// which the processor never produces.
var ErrNegativeBalance = errors.New("stored balance is negative")

// Store is the narrow seam between the processor and the balance store. It
// exposes no read-modify-write; every method is a single atomic operation.
type Store interface {
	// GetBalance returns zero for unknown accounts.
	GetBalance(ctx context.Context, account string) (uint64, error)
	// ApplyDelta atomically adds delta (which may be negative) to the balance.
	ApplyDelta(ctx context.Context, account string, delta int64) error
	IsConsumed(ctx context.Context, transactionID string) (bool, error)
	// MarkConsumed is idempotent and never extends the TTL of an existing mark.
	MarkConsumed(ctx context.Context, transactionID string, ttl time.Duration) error
}

// Pinger is implemented by stores that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}
