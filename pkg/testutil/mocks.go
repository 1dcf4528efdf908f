// Package testutil provides common testing utilities and mock implementations.
package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/R3E-Network/points_ledger/internal/domain/ledger"
	"github.com/R3E-Network/points_ledger/internal/ledger/store"
)

// ErrInjected is returned by FaultyStore for injected failures.
var ErrInjected = errors.New("injected store failure")

// Op names a Store primitive for fault injection.
type Op string

const (
	OpGetBalance   Op = "get_balance"
	OpApplyDelta   Op = "apply_delta"
	OpIsConsumed   Op = "is_consumed"
	OpMarkConsumed Op = "mark_consumed"
)

// Fault decides whether a call fails. Returning nil lets the call through.
type Fault func(op Op, account string, delta int64) error

// FaultyStore wraps a Store and fails calls selected by registered faults.
type FaultyStore struct {
	next store.Store

	mu     sync.Mutex
	faults []Fault
	calls  map[Op]int
	// Delay is applied before every call to widen race windows in tests.
	Delay time.Duration
}

var _ store.Store = (*FaultyStore)(nil)

// NewFaultyStore wraps next.
func NewFaultyStore(next store.Store) *FaultyStore {
	return &FaultyStore{next: next, calls: make(map[Op]int)}
}

// Inject registers a fault.
func (s *FaultyStore) Inject(f Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, f)
}

// FailOp fails every call to op.
func (s *FaultyStore) FailOp(op Op) {
	s.Inject(func(got Op, _ string, _ int64) error {
		if got == op {
			return ErrInjected
		}
		return nil
	})
}

// FailCredit fails positive ApplyDelta calls on account, the credit leg of a transfer.
func (s *FaultyStore) FailCredit(account string) {
	s.Inject(func(op Op, acct string, delta int64) error {
		if op == OpApplyDelta && acct == account && delta > 0 {
			return ErrInjected
		}
		return nil
	})
}

// Reset clears faults and counters.
func (s *FaultyStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = nil
	s.calls = make(map[Op]int)
}

// Calls reports how many times op was invoked, failed calls included.
func (s *FaultyStore) Calls(op Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// TotalCalls reports the number of calls across all primitives.
func (s *FaultyStore) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.calls {
		total += n
	}
	return total
}

func (s *FaultyStore) before(op Op, account string, delta int64) error {
	s.mu.Lock()
	s.calls[op]++
	faults := append([]Fault(nil), s.faults...)
	delay := s.Delay
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	for _, f := range faults {
		if err := f(op, account, delta); err != nil {
			return err
		}
	}
	return nil
}

func (s *FaultyStore) GetBalance(ctx context.Context, account string) (uint64, error) {
	if err := s.before(OpGetBalance, account, 0); err != nil {
		return 0, err
	}
	return s.next.GetBalance(ctx, account)
}

func (s *FaultyStore) ApplyDelta(ctx context.Context, account string, delta int64) error {
	if err := s.before(OpApplyDelta, account, delta); err != nil {
		return err
	}
	return s.next.ApplyDelta(ctx, account, delta)
}

func (s *FaultyStore) IsConsumed(ctx context.Context, transactionID string) (bool, error) {
	if err := s.before(OpIsConsumed, transactionID, 0); err != nil {
		return false, err
	}
	return s.next.IsConsumed(ctx, transactionID)
}

func (s *FaultyStore) MarkConsumed(ctx context.Context, transactionID string, ttl time.Duration) error {
	if err := s.before(OpMarkConsumed, transactionID, 0); err != nil {
		return err
	}
	return s.next.MarkConsumed(ctx, transactionID, ttl)
}

// RecordingSink collects audit records in memory.
type RecordingSink struct {
	mu      sync.Mutex
	records []ledger.AuditRecord
	// Err, when set, is returned from every Write after recording.
	Err error
}

// Write records rec.
func (s *RecordingSink) Write(_ context.Context, rec ledger.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return s.Err
}

// Record writes rec synchronously so tests can assert on it immediately.
func (s *RecordingSink) Record(rec ledger.AuditRecord) bool {
	return s.Write(context.Background(), rec) == nil
}

// Records returns a copy of everything written.
func (s *RecordingSink) Records() []ledger.AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ledger.AuditRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Outcomes returns the outcomes recorded for transactionID in order.
func (s *RecordingSink) Outcomes(transactionID string) []ledger.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ledger.Outcome
	for _, r := range s.records {
		if r.TransactionID == transactionID {
			out = append(out, r.Outcome)
		}
	}
	return out
}

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts at t.
func NewClock(t time.Time) *Clock { return &Clock{now: t} }

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
