package ledger

import (
	"errors"
	"fmt"
)

// Sentinel errors for the ledger taxonomy. Every error returned by a ledger
// component matches exactly one of these with errors.Is.
var (
	ErrRuleViolation     = errors.New("rule violation")
	ErrSignatureInvalid  = errors.New("signature invalid")
	ErrExpired           = errors.New("transaction expired")
	ErrDecode            = errors.New("decode error")
	ErrAlreadyConsumed   = errors.New("transaction already consumed")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrFlaggedForReview  = errors.New("flagged for review")
	ErrStoreFailure      = errors.New("store failure")
	ErrInconsistent      = errors.New("ledger inconsistent")
	ErrRateLimited       = errors.New("rate limited")
)

// ErrorKind is a stable, machine-readable name for an error class.
type ErrorKind string

const (
	ErrorKindNone              ErrorKind = ""
	ErrorKindRuleViolation     ErrorKind = "rule_violation"
	ErrorKindSignatureInvalid  ErrorKind = "signature_invalid"
	ErrorKindExpired           ErrorKind = "expired"
	ErrorKindDecode            ErrorKind = "decode_error"
	ErrorKindAlreadyConsumed   ErrorKind = "already_consumed"
	ErrorKindInsufficientFunds ErrorKind = "insufficient_funds"
	ErrorKindFlaggedForReview  ErrorKind = "flagged_for_review"
	ErrorKindStoreFailure      ErrorKind = "store_failure"
	ErrorKindInconsistent      ErrorKind = "inconsistent"
	ErrorKindRateLimited       ErrorKind = "rate_limited"
	ErrorKindUnknown           ErrorKind = "unknown"
)

var kindTable = []struct {
	sentinel error
	kind     ErrorKind
}{
	// Inconsistent wraps a store failure, so it must be matched first.
	{ErrInconsistent, ErrorKindInconsistent},
	{ErrRuleViolation, ErrorKindRuleViolation},
	{ErrSignatureInvalid, ErrorKindSignatureInvalid},
	{ErrExpired, ErrorKindExpired},
	{ErrDecode, ErrorKindDecode},
	{ErrAlreadyConsumed, ErrorKindAlreadyConsumed},
	{ErrInsufficientFunds, ErrorKindInsufficientFunds},
	{ErrFlaggedForReview, ErrorKindFlaggedForReview},
	{ErrStoreFailure, ErrorKindStoreFailure},
	{ErrRateLimited, ErrorKindRateLimited},
}

// KindOf classifies err. It returns ErrorKindNone for nil.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ErrorKindNone
	}
	for _, entry := range kindTable {
		if errors.Is(err, entry.sentinel) {
			return entry.kind
		}
	}
	return ErrorKindUnknown
}

// Retryable reports whether the whole operation may be resubmitted safely.
// Only store failures raised before any mutation qualify.
func Retryable(err error) bool {
	var storeErr *StoreError
	if errors.As(err, &storeErr) {
		return storeErr.Retryable
	}
	return errors.Is(err, ErrRateLimited)
}

// Bound names the policy limit a RuleViolation tripped.
type Bound string

const (
	BoundMin     Bound = "min"
	BoundMax     Bound = "max"
	BoundKind    Bound = "kind"
	BoundAccount Bound = "account"
	BoundReason  Bound = "reason"
)

// RuleViolation reports an out-of-policy request.
type RuleViolation struct {
	Kind   Kind
	Amount int64
	Bound  Bound
	Limit  int64
	Detail string
}

func (e *RuleViolation) Error() string {
	switch e.Bound {
	case BoundMin:
		return fmt.Sprintf("rule violation: %s amount %d below minimum %d", e.Kind, e.Amount, e.Limit)
	case BoundMax:
		return fmt.Sprintf("rule violation: %s amount %d above maximum %d", e.Kind, e.Amount, e.Limit)
	case BoundKind:
		return fmt.Sprintf("rule violation: unsupported kind %q", e.Kind)
	default:
		return fmt.Sprintf("rule violation: %s: %s", e.Bound, e.Detail)
	}
}

func (e *RuleViolation) Is(target error) bool { return target == ErrRuleViolation }

// DecodeError reports a sealed blob that could not be opened.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode error: %s: %v", e.Reason, e.Err)
	}
	return "decode error: " + e.Reason
}

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

func (e *DecodeError) Unwrap() error { return e.Err }

// Stage identifies where in the processing pipeline a store call failed.
type Stage string

const (
	StageReplayCheck  Stage = "replay_check"
	StageBalanceCheck Stage = "balance_check"
	StageDebit        Stage = "debit"
	StageCredit       Stage = "credit"
	StageCompensate   Stage = "compensate"
	StageMarkConsumed Stage = "mark_consumed"
)

// StoreError wraps a balance store failure.
type StoreError struct {
	Op        string
	Stage     Stage
	Retryable bool
	Err       error
}

func (e *StoreError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("store failure during %s (%s): %v", e.Stage, e.Op, e.Err)
	}
	return fmt.Sprintf("store failure (%s): %v", e.Op, e.Err)
}

func (e *StoreError) Is(target error) bool { return target == ErrStoreFailure }

func (e *StoreError) Unwrap() error { return e.Err }

// InconsistencyError is the fatal state: a debit was applied, the credit failed
// and the compensating write also failed.
type InconsistencyError struct {
	TransactionID string
	Account       string
	Amount        int64
	CreditErr     error
	CompensateErr error
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("ledger inconsistent: transaction %s debited %d from %s without credit (credit: %v; compensate: %v)",
		e.TransactionID, e.Amount, e.Account, e.CreditErr, e.CompensateErr)
}

func (e *InconsistencyError) Is(target error) bool { return target == ErrInconsistent }

func (e *InconsistencyError) Unwrap() []error { return []error{e.CreditErr, e.CompensateErr} }

// FlaggedError carries the verdict that stopped a transaction.
type FlaggedError struct {
	Verdict Verdict
}

func (e *FlaggedError) Error() string {
	return fmt.Sprintf("flagged for review: confidence %.2f", e.Verdict.Confidence)
}

func (e *FlaggedError) Is(target error) bool { return target == ErrFlaggedForReview }

// InsufficientFundsError reports a debit that would overdraw an account.
type InsufficientFundsError struct {
	Account   string
	Available uint64
	Requested int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: account %s available %d, requested %d", e.Account, e.Available, e.Requested)
}

func (e *InsufficientFundsError) Is(target error) bool { return target == ErrInsufficientFunds }
