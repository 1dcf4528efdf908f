package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Memory is an in-process Store. Consumed marks expire like their Redis
// counterparts.
type Memory struct {
	mu       sync.Mutex
	balances map[string]int64
	consumed map[string]time.Time
	now      func() time.Time
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty store. A nil clock defaults to time.Now.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{
		balances: make(map[string]int64),
		consumed: make(map[string]time.Time),
		now:      now,
	}
}

func (m *Memory) GetBalance(ctx context.Context, account string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	balance := m.balances[account]
	if balance < 0 {
		return 0, fmt.Errorf("account %s: %w", account, ErrNegativeBalance)
	}
	return uint64(balance), nil
}

func (m *Memory) ApplyDelta(ctx context.Context, account string, delta int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.balances[account] += delta
	return nil
}

func (m *Memory) IsConsumed(ctx context.Context, transactionID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	expiry, ok := m.consumed[transactionID]
	if !ok {
		return false, nil
	}
	if !m.now().Before(expiry) {
		delete(m.consumed, transactionID)
		return false, nil
	}
	return true, nil
}

func (m *Memory) MarkConsumed(ctx context.Context, transactionID string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl <= 0 {
		return fmt.Errorf("mark consumed: ttl must be positive, got %s", ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if expiry, ok := m.consumed[transactionID]; ok && now.Before(expiry) {
		return nil
	}
	m.consumed[transactionID] = now.Add(ttl)
	return nil
}

// Ping always succeeds.
func (m *Memory) Ping(ctx context.Context) error { return ctx.Err() }

// Seed sets a balance directly. It exists for tests and bootstrap tooling and is
// not part of the Store contract.
func (m *Memory) Seed(account string, balance uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[account] = int64(balance)
}

// Balances returns a copy of every tracked balance, including negative ones.
func (m *Memory) Balances() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.balances))
	for k, v := range m.balances {
		out[k] = v
	}
	return out
}

// ConsumedExpiry reports when the mark for transactionID lapses.
func (m *Memory) ConsumedExpiry(transactionID string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	expiry, ok := m.consumed[transactionID]
	return expiry, ok
}
