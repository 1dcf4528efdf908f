// Package ledger is the entry point callers use to move points. It composes
// the rule validator, the codec and the processor.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/R3E-Network/points_ledger/internal/domain/ledger"
	"github.com/R3E-Network/points_ledger/internal/ledger/codec"
	"github.com/R3E-Network/points_ledger/internal/ledger/metrics"
	"github.com/R3E-Network/points_ledger/internal/ledger/processor"
	"github.com/R3E-Network/points_ledger/internal/ledger/rules"
	"github.com/R3E-Network/points_ledger/internal/ledger/store"
	"github.com/R3E-Network/points_ledger/internal/logging"
)

// Ledger is safe for concurrent use.
type Ledger struct {
	codec     *codec.Codec
	validator *rules.Validator
	processor *processor.Processor
	store     store.Store
	limiter   *RateLimiter
	metrics   *metrics.Collector
	log       *logging.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithRateLimiter throttles submissions per source account.
func WithRateLimiter(rl *RateLimiter) Option {
	return func(l *Ledger) { l.limiter = rl }
}

// WithMetrics records rate-limit rejections.
func WithMetrics(m *metrics.Collector) Option {
	return func(l *Ledger) { l.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(log *logging.Logger) Option {
	return func(l *Ledger) {
		if log != nil {
			l.log = log
		}
	}
}

// New wires the entry point. st is only read, for Balance.
func New(c *codec.Codec, v *rules.Validator, p *processor.Processor, st store.Store, opts ...Option) (*Ledger, error) {
	if c == nil || v == nil || p == nil || st == nil {
		return nil, errors.New("ledger: codec, validator, processor and store are required")
	}
	l := &Ledger{
		codec:     c,
		validator: v,
		processor: p,
		store:     st,
		log:       logging.NewDefault("ledger"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Construct validates a request and returns the signed transaction without
// applying it. Invalid requests are rejected before anything is signed.
func (l *Ledger) Construct(kind ledger.Kind, from, to string, amount int64, reason string) (ledger.Transaction, error) {
	if err := l.checkPolicy(kind, from, to, amount); err != nil {
		return ledger.Transaction{}, err
	}
	return l.codec.Create(from, to, amount, reason, kind)
}

func (l *Ledger) checkPolicy(kind ledger.Kind, from, to string, amount int64) error {
	if err := l.validator.Validate(kind, amount); err != nil {
		return err
	}
	return l.validator.CheckAccounts(kind, from, to)
}

// ConstructAndProcess is the single entry point for moving points.
func (l *Ledger) ConstructAndProcess(ctx context.Context, kind ledger.Kind, from, to string, amount int64, reason string) (ledger.Receipt, error) {
	if err := l.admit(ctx, from, to); err != nil {
		return ledger.Receipt{}, err
	}
	tx, err := l.Construct(kind, from, to, amount, reason)
	if err != nil {
		return ledger.Receipt{}, err
	}
	return l.processor.Process(ctx, tx)
}

// ProcessSealed opens a sealed transaction received over a transport and
// processes it. The current policy applies to sealed input as it does to
// constructed input. Replaying the same blob yields ErrAlreadyConsumed.
func (l *Ledger) ProcessSealed(ctx context.Context, blob []byte) (ledger.Receipt, error) {
	tx, err := l.codec.Open(blob)
	if err != nil {
		l.log.LogSecurityEvent(ctx, "decode_error", map[string]interface{}{
			"size":  len(blob),
			"error": err.Error(),
		})
		return ledger.Receipt{}, err
	}
	if err := l.checkPolicy(tx.Kind, tx.From, tx.To, tx.Amount); err != nil {
		l.log.LogSecurityEvent(ctx, "sealed_policy_violation", map[string]interface{}{
			"transaction_id": tx.ID,
			"kind":           string(tx.Kind),
			"from":           tx.From,
			"error":          err.Error(),
		})
		return ledger.Receipt{}, err
	}
	if err := l.admit(ctx, tx.From, tx.To); err != nil {
		return ledger.Receipt{}, err
	}
	return l.processor.Process(ctx, tx)
}

// Seal encrypts tx for transport.
func (l *Ledger) Seal(tx ledger.Transaction) ([]byte, error) {
	return l.codec.Seal(tx)
}

// Balance returns the stored balance of account.
func (l *Ledger) Balance(ctx context.Context, account string) (uint64, error) {
	if account == ledger.SystemAccount {
		return 0, &ledger.RuleViolation{Bound: ledger.BoundAccount, Detail: "the system account has no balance"}
	}
	balance, err := l.store.GetBalance(ctx, account)
	if err != nil {
		return 0, &ledger.StoreError{Op: "get_balance", Retryable: true, Err: err}
	}
	return balance, nil
}

// Processor exposes the underlying processor.
func (l *Ledger) Processor() *processor.Processor { return l.processor }

// RateLimiter returns the configured limiter, or nil.
func (l *Ledger) RateLimiter() *RateLimiter { return l.limiter }

// admit applies the per-account rate limit. Awards are keyed on the recipient
// so one busy issuer does not throttle every award.
func (l *Ledger) admit(ctx context.Context, from, to string) error {
	key := from
	if from == ledger.SystemAccount {
		key = to
	}
	if l.limiter.Allow(ctx, key) {
		return nil
	}
	l.metrics.RecordRateLimited()
	return fmt.Errorf("account %s: %w", key, ledger.ErrRateLimited)
}
