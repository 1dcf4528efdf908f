// Package ledger holds the types shared by every ledger component: the signed
// transaction record, receipts, audit records and the error taxonomy.
package ledger

import "time"

// SystemAccount is the reserved account that mints on debit and burns on credit.
// Its balance is never tracked and it is exempt from the balance check.
const SystemAccount = "system"

// MaxReasonLength bounds the free-text reason carried by a transaction.
const MaxReasonLength = 256

// Kind classifies a balance-changing operation.
type Kind string

const (
	KindTransfer Kind = "transfer"
	KindAward    Kind = "award"
	KindSpend    Kind = "spend"
	KindStake    Kind = "stake"
	KindUnstake  Kind = "unstake"
)

// Kinds lists every supported kind in a stable order.
var Kinds = []Kind{KindTransfer, KindAward, KindSpend, KindStake, KindUnstake}

// Valid reports whether k is a supported kind.
func (k Kind) Valid() bool {
	switch k {
	case KindTransfer, KindAward, KindSpend, KindStake, KindUnstake:
		return true
	}
	return false
}

// Transaction is the unit of value movement. It is never modified after signing;
// a correction is a new transaction with a new ID and nonce.
type Transaction struct {
	ID          string    `json:"id"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Amount      int64     `json:"amount"`
	Reason      string    `json:"reason"`
	Kind        Kind      `json:"kind"`
	CreatedAt   time.Time `json:"created_at"`
	Nonce       string    `json:"nonce"`
	Signature   string    `json:"signature"`
	ContentHash string    `json:"content_hash"`
}

// DebitsSystem reports whether the transaction mints from the system account.
func (t Transaction) DebitsSystem() bool { return t.From == SystemAccount }

// CreditsSystem reports whether the transaction burns into the system account.
func (t Transaction) CreditsSystem() bool { return t.To == SystemAccount }

// Status is the terminal state reported in a receipt.
type Status string

const (
	StatusCompleted         Status = "completed"
	StatusDegradedCompleted Status = "degraded_completed"
)

// Receipt is returned to the caller for an applied transaction.
type Receipt struct {
	TransactionID string    `json:"transaction_id"`
	Status        Status    `json:"status"`
	AppliedAt     time.Time `json:"applied_at"`
	// Warning is set for degraded completions.
	Warning string `json:"warning,omitempty"`
}

// Outcome is the result recorded in the audit log.
type Outcome string

const (
	OutcomeCompleted         Outcome = "completed"
	OutcomeDegradedCompleted Outcome = "degraded_completed"
	OutcomeRolledBack        Outcome = "rolled_back"
	OutcomeInconsistent      Outcome = "inconsistent"
	OutcomeFlagged           Outcome = "flagged"
)

// AuditRecord is appended to the audit sink for every transaction that reached
// the fraud gate or the apply step.
type AuditRecord struct {
	TransactionID string    `json:"transaction_id" db:"transaction_id"`
	From          string    `json:"from" db:"from_account"`
	To            string    `json:"to" db:"to_account"`
	Amount        int64     `json:"amount" db:"amount"`
	Kind          Kind      `json:"kind" db:"kind"`
	Reason        string    `json:"reason" db:"reason"`
	Outcome       Outcome   `json:"outcome" db:"outcome"`
	Timestamp     time.Time `json:"timestamp" db:"recorded_at"`
}

// NewAuditRecord builds the audit record for tx with the given outcome.
func NewAuditRecord(tx Transaction, outcome Outcome, at time.Time) AuditRecord {
	return AuditRecord{
		TransactionID: tx.ID,
		From:          tx.From,
		To:            tx.To,
		Amount:        tx.Amount,
		Kind:          tx.Kind,
		Reason:        tx.Reason,
		Outcome:       outcome,
		Timestamp:     at.UTC(),
	}
}
