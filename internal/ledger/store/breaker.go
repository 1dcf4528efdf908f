package store

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerConfig configures the circuit breaker in front of a Store.
type BreakerConfig struct {
	Name string
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold uint32
	// HalfOpenRequests is the number of probes allowed while half-open.
	HalfOpenRequests uint32
	// OpenTimeout is how long the circuit stays open before probing.
	OpenTimeout   time.Duration
	OnStateChange func(name string, from, to gobreaker.State)
}

// Breaker fails fast on the read primitives the processor calls before any
// mutation. ApplyDelta and MarkConsumed always reach the underlying store: a
// credit or a compensating write must never be refused by an open circuit.
type Breaker struct {
	next Store
	cb   *gobreaker.CircuitBreaker
}

var _ Store = (*Breaker)(nil)

// NewBreaker wraps next with a circuit breaker.
func NewBreaker(next Store, cfg BreakerConfig) *Breaker {
	if cfg.Name == "" {
		cfg.Name = "ledger-store"
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = 1
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 10 * time.Second
	}
	threshold := cfg.FailureThreshold

	return &Breaker{
		next: next,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        cfg.Name,
			MaxRequests: cfg.HalfOpenRequests,
			Timeout:     cfg.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			IsSuccessful: func(err error) bool {
				// Caller cancellation says nothing about store health.
				var done callerDone
				return err == nil || errors.Is(err, context.Canceled) || errors.As(err, &done)
			},
			OnStateChange: cfg.OnStateChange,
		}),
	}
}

// State exposes the current breaker state.
func (b *Breaker) State() gobreaker.State { return b.cb.State() }

// callerDone marks an error caused by the caller's own context ending, as
// opposed to a timeout inside the store.
type callerDone struct{ err error }

func (e callerDone) Error() string { return e.err.Error() }

func (e callerDone) Unwrap() error { return e.err }

func (b *Breaker) execute(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		res, err := fn()
		if err != nil && ctx.Err() != nil &&
			(errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
			return nil, callerDone{err: err}
		}
		return res, err
	})
	var done callerDone
	if errors.As(err, &done) {
		err = done.err
	}
	return res, err
}

func (b *Breaker) GetBalance(ctx context.Context, account string) (uint64, error) {
	res, err := b.execute(ctx, func() (interface{}, error) {
		return b.next.GetBalance(ctx, account)
	})
	if err != nil {
		return 0, err
	}
	return res.(uint64), nil
}

func (b *Breaker) IsConsumed(ctx context.Context, transactionID string) (bool, error) {
	res, err := b.execute(ctx, func() (interface{}, error) {
		return b.next.IsConsumed(ctx, transactionID)
	})
	if err != nil {
		return false, err
	}
	return res.(bool), nil
}

func (b *Breaker) ApplyDelta(ctx context.Context, account string, delta int64) error {
	return b.next.ApplyDelta(ctx, account, delta)
}

func (b *Breaker) MarkConsumed(ctx context.Context, transactionID string, ttl time.Duration) error {
	return b.next.MarkConsumed(ctx, transactionID, ttl)
}

// Ping forwards to the wrapped store when it supports it.
func (b *Breaker) Ping(ctx context.Context) error {
	if p, ok := b.next.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
