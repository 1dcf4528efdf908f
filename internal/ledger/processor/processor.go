// Package processor applies signed transactions to the balance store.
//
// A call moves through verify, replay check, balance check, fraud gate, apply
// and mark-consumed. Everything before the debit honors the caller's context
// and has no side effects; from the debit on the call runs to completion or to
// a fully compensated failure.
package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/R3E-Network/points_ledger/internal/domain/ledger"
	"github.com/R3E-Network/points_ledger/internal/ledger/codec"
	"github.com/R3E-Network/points_ledger/internal/ledger/metrics"
	"github.com/R3E-Network/points_ledger/internal/ledger/store"
	"github.com/R3E-Network/points_ledger/internal/logging"
)

// Verifier checks a transaction's MAC.
type Verifier interface {
	VerifySignature(tx ledger.Transaction) bool
}

// Gate scores a transaction before any balance moves.
type Gate interface {
	Screen(ctx context.Context, tx ledger.Transaction) ledger.Verdict
}

// Observer is told about every applied transaction.
type Observer interface {
	Observe(tx ledger.Transaction)
}

// Recorder accepts audit records without blocking.
type Recorder interface {
	Record(rec ledger.AuditRecord) bool
}

// Config tunes the processor.
type Config struct {
	ReplayWindow time.Duration
	// MaxClockSkew bounds how far in the future created_at may be.
	MaxClockSkew           time.Duration
	ConsumedCacheSize      int
	CompensationAttempts   int
	CompensationBackoff    time.Duration
	CompensationMaxBackoff time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		ReplayWindow:           24 * time.Hour,
		MaxClockSkew:           30 * time.Second,
		ConsumedCacheSize:      10_000,
		CompensationAttempts:   5,
		CompensationBackoff:    10 * time.Millisecond,
		CompensationMaxBackoff: 500 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ReplayWindow <= 0 {
		c.ReplayWindow = def.ReplayWindow
	}
	if c.MaxClockSkew <= 0 {
		c.MaxClockSkew = def.MaxClockSkew
	}
	if c.ConsumedCacheSize <= 0 {
		c.ConsumedCacheSize = def.ConsumedCacheSize
	}
	if c.CompensationAttempts <= 0 {
		c.CompensationAttempts = def.CompensationAttempts
	}
	if c.CompensationBackoff <= 0 {
		c.CompensationBackoff = def.CompensationBackoff
	}
	if c.CompensationMaxBackoff < c.CompensationBackoff {
		c.CompensationMaxBackoff = c.CompensationBackoff
	}
	return c
}

// Deps are the processor's collaborators. Verifier and Store are required.
type Deps struct {
	Verifier Verifier
	Store    store.Store
	Locker   Locker
	Gate     Gate
	// Observer defaults to Gate when the gate also implements Observer.
	Observer Observer
	Audit    Recorder
	Metrics  *metrics.Collector
	Log      *logging.Logger
	Now      func() time.Time
}

// Processor is safe for concurrent use.
type Processor struct {
	verifier Verifier
	store    store.Store
	locker   Locker
	gate     Gate
	observer Observer
	audit    Recorder
	metrics  *metrics.Collector
	log      *logging.Logger
	now      func() time.Time
	cfg      Config

	// consumed remembers ids applied by this instance, including those whose
	// store mark failed.
	consumed *expirable.LRU[string, struct{}]
}

// New creates a processor.
func New(deps Deps, cfg Config) (*Processor, error) {
	if deps.Verifier == nil {
		return nil, errors.New("processor: verifier is required")
	}
	if deps.Store == nil {
		return nil, errors.New("processor: store is required")
	}
	if deps.Locker == nil {
		deps.Locker = NewKeyedMutex()
	}
	if deps.Observer == nil {
		if o, ok := deps.Gate.(Observer); ok {
			deps.Observer = o
		}
	}
	if deps.Log == nil {
		deps.Log = logging.NewDefault("processor")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	cfg = cfg.withDefaults()

	return &Processor{
		verifier: deps.Verifier,
		store:    deps.Store,
		locker:   deps.Locker,
		gate:     deps.Gate,
		observer: deps.Observer,
		audit:    deps.Audit,
		metrics:  deps.Metrics,
		log:      deps.Log,
		now:      deps.Now,
		cfg:      cfg,
		consumed: expirable.NewLRU[string, struct{}](cfg.ConsumedCacheSize, nil, cfg.consumedTTL()),
	}, nil
}

// consumedTTL covers every created_at Verify can still accept.
func (c Config) consumedTTL() time.Duration {
	return c.ReplayWindow + c.MaxClockSkew
}

// Config returns the effective configuration.
func (p *Processor) Config() Config { return p.cfg }

// Verify checks the MAC, the content hash and the replay window. It never
// touches the store.
func (p *Processor) Verify(tx ledger.Transaction) error {
	if !p.verifier.VerifySignature(tx) {
		return fmt.Errorf("transaction %s: %w", tx.ID, ledger.ErrSignatureInvalid)
	}
	if !codec.VerifyContentHash(tx) {
		return fmt.Errorf("transaction %s: content hash mismatch: %w", tx.ID, ledger.ErrSignatureInvalid)
	}

	age := p.now().Sub(tx.CreatedAt)
	if age > p.cfg.ReplayWindow {
		return fmt.Errorf("transaction %s: created %s ago, window %s: %w",
			tx.ID, age.Truncate(time.Second), p.cfg.ReplayWindow, ledger.ErrExpired)
	}
	if age < -p.cfg.MaxClockSkew {
		return fmt.Errorf("transaction %s: created %s in the future: %w",
			tx.ID, (-age).Truncate(time.Second), ledger.ErrExpired)
	}
	return nil
}

// Process verifies and applies tx exactly once.
func (p *Processor) Process(ctx context.Context, tx ledger.Transaction) (receipt ledger.Receipt, err error) {
	started := time.Now()
	defer func() {
		p.metrics.RecordTransaction(string(tx.Kind), resultLabel(receipt, err), time.Since(started))
	}()

	if err := p.Verify(tx); err != nil {
		p.log.LogSecurityEvent(ctx, string(ledger.KindOf(err)), map[string]interface{}{
			"transaction_id": tx.ID,
			"from":           tx.From,
			"error":          err.Error(),
		})
		return ledger.Receipt{}, err
	}

	unlockTx, err := p.locker.Lock(ctx, "tx:"+tx.ID)
	if err != nil {
		return ledger.Receipt{}, p.preApplyError(ctx, "lock", ledger.StageReplayCheck, err)
	}
	defer unlockTx()

	if err := p.checkReplay(ctx, tx); err != nil {
		return ledger.Receipt{}, err
	}

	if !tx.DebitsSystem() {
		unlockAccount, err := p.locker.Lock(ctx, "account:"+tx.From)
		if err != nil {
			return ledger.Receipt{}, p.preApplyError(ctx, "lock", ledger.StageBalanceCheck, err)
		}
		defer unlockAccount()

		if err := p.checkBalance(ctx, tx); err != nil {
			return ledger.Receipt{}, err
		}
	}

	if err := p.screen(ctx, tx); err != nil {
		return ledger.Receipt{}, err
	}

	// Last point at which the caller may cancel.
	if err := ctx.Err(); err != nil {
		return ledger.Receipt{}, fmt.Errorf("transaction %s: %w", tx.ID, err)
	}
	return p.apply(context.WithoutCancel(ctx), tx)
}

func (p *Processor) checkReplay(ctx context.Context, tx ledger.Transaction) error {
	if p.consumed.Contains(tx.ID) {
		return p.alreadyConsumed(ctx, tx)
	}
	consumed, err := p.store.IsConsumed(ctx, tx.ID)
	if err != nil {
		return p.preApplyError(ctx, "is_consumed", ledger.StageReplayCheck, err)
	}
	if consumed {
		p.consumed.Add(tx.ID, struct{}{})
		return p.alreadyConsumed(ctx, tx)
	}
	return nil
}

func (p *Processor) alreadyConsumed(ctx context.Context, tx ledger.Transaction) error {
	p.log.LogSecurityEvent(ctx, "replay", map[string]interface{}{
		"transaction_id": tx.ID,
		"from":           tx.From,
	})
	return fmt.Errorf("transaction %s: %w", tx.ID, ledger.ErrAlreadyConsumed)
}

func (p *Processor) checkBalance(ctx context.Context, tx ledger.Transaction) error {
	balance, err := p.store.GetBalance(ctx, tx.From)
	if err != nil {
		return p.preApplyError(ctx, "get_balance", ledger.StageBalanceCheck, err)
	}
	if balance < uint64(tx.Amount) {
		return &ledger.InsufficientFundsError{Account: tx.From, Available: balance, Requested: tx.Amount}
	}
	return nil
}

func (p *Processor) screen(ctx context.Context, tx ledger.Transaction) error {
	if p.gate == nil {
		return nil
	}
	verdict := p.gate.Screen(ctx, tx)
	p.metrics.RecordFraudVerdict(verdict.Confidence, verdict.IsFraud)
	if !verdict.IsFraud {
		return nil
	}

	p.record(tx, ledger.OutcomeFlagged)
	p.log.LogSecurityEvent(ctx, "flagged_for_review", map[string]interface{}{
		"transaction_id": tx.ID,
		"from":           tx.From,
		"amount":         tx.Amount,
		"confidence":     verdict.Confidence,
		"rules":          verdict.Triggered(),
	})
	return &ledger.FlaggedError{Verdict: verdict}
}

// apply runs detached from the caller's cancellation.
func (p *Processor) apply(ctx context.Context, tx ledger.Transaction) (ledger.Receipt, error) {
	if !tx.DebitsSystem() {
		if err := p.store.ApplyDelta(ctx, tx.From, -tx.Amount); err != nil {
			return ledger.Receipt{}, &ledger.StoreError{Op: "apply_delta", Stage: ledger.StageDebit, Retryable: true, Err: err}
		}
	}

	if !tx.CreditsSystem() {
		if err := p.store.ApplyDelta(ctx, tx.To, tx.Amount); err != nil {
			if tx.DebitsSystem() {
				return ledger.Receipt{}, &ledger.StoreError{Op: "apply_delta", Stage: ledger.StageCredit, Retryable: true, Err: err}
			}
			return ledger.Receipt{}, p.rollback(ctx, tx, err)
		}
	}

	p.consumed.Add(tx.ID, struct{}{})
	receipt := ledger.Receipt{
		TransactionID: tx.ID,
		Status:        ledger.StatusCompleted,
		AppliedAt:     p.now().UTC(),
	}
	outcome := ledger.OutcomeCompleted

	if err := p.store.MarkConsumed(ctx, tx.ID, p.cfg.consumedTTL()); err != nil {
		receipt.Status = ledger.StatusDegradedCompleted
		receipt.Warning = "applied but consumed mark not persisted: " + err.Error()
		outcome = ledger.OutcomeDegradedCompleted
		p.log.WithTransaction(tx).WithField("error", err.Error()).Warn("consumed mark failed after apply")
	}

	p.record(tx, outcome)
	if p.observer != nil {
		p.observer.Observe(tx)
	}
	p.log.WithTransaction(tx).WithField("status", receipt.Status).Info("transaction applied")
	return receipt, nil
}

// rollback reverses the debit after a failed credit.
func (p *Processor) rollback(ctx context.Context, tx ledger.Transaction, creditErr error) error {
	compErr := p.compensate(ctx, tx)
	p.metrics.RecordCompensation(compErr == nil)

	if compErr == nil {
		p.record(tx, ledger.OutcomeRolledBack)
		p.log.WithTransaction(tx).WithField("error", creditErr.Error()).Warn("credit failed, debit reversed")
		return &ledger.StoreError{Op: "apply_delta", Stage: ledger.StageCredit, Retryable: false, Err: creditErr}
	}

	p.record(tx, ledger.OutcomeInconsistent)
	p.log.WithTransaction(tx).WithFields(map[string]interface{}{
		"credit_error":     creditErr.Error(),
		"compensate_error": compErr.Error(),
	}).Error("ledger inconsistent: compensating credit failed")
	return &ledger.InconsistencyError{
		TransactionID: tx.ID,
		Account:       tx.From,
		Amount:        tx.Amount,
		CreditErr:     creditErr,
		CompensateErr: compErr,
	}
}

func (p *Processor) compensate(ctx context.Context, tx ledger.Transaction) error {
	backoff := p.cfg.CompensationBackoff
	var err error
	for attempt := 1; attempt <= p.cfg.CompensationAttempts; attempt++ {
		if err = p.store.ApplyDelta(ctx, tx.From, tx.Amount); err == nil {
			return nil
		}
		if attempt == p.cfg.CompensationAttempts {
			break
		}
		p.log.WithTransaction(tx).WithFields(map[string]interface{}{
			"attempt": attempt,
			"error":   err.Error(),
		}).Warn("compensating credit failed, retrying")
		time.Sleep(backoff)
		backoff *= 2
		if backoff > p.cfg.CompensationMaxBackoff {
			backoff = p.cfg.CompensationMaxBackoff
		}
	}
	return fmt.Errorf("compensate after %d attempts: %w", p.cfg.CompensationAttempts, err)
}

// preApplyError classifies a failure raised before any mutation.
func (p *Processor) preApplyError(ctx context.Context, op string, stage ledger.Stage, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", stage, ctxErr)
	}
	return &ledger.StoreError{Op: op, Stage: stage, Retryable: true, Err: err}
}

func (p *Processor) record(tx ledger.Transaction, outcome ledger.Outcome) {
	if p.audit == nil {
		return
	}
	p.audit.Record(ledger.NewAuditRecord(tx, outcome, p.now()))
}

func resultLabel(receipt ledger.Receipt, err error) string {
	if err == nil {
		return string(receipt.Status)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "cancelled"
	}
	return string(ledger.KindOf(err))
}
