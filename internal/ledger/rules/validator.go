// Package rules enforces per-kind economic bounds before a transaction is built.
package rules

import (
	"fmt"

	"github.com/R3E-Network/points_ledger/internal/domain/ledger"
)

// Bounds is an inclusive amount range. A zero Max means unbounded.
type Bounds struct {
	Min int64 `yaml:"min"`
	Max int64 `yaml:"max"`
}

// DefaultLimits are the bounds used when no policy file is configured.
var DefaultLimits = map[ledger.Kind]Bounds{
	ledger.KindTransfer: {Min: 1, Max: 1_000_000},
	ledger.KindAward:    {Min: 1, Max: 100_000},
	ledger.KindSpend:    {Min: 1, Max: 1_000_000},
	ledger.KindStake:    {Min: 1, Max: 10_000_000},
	ledger.KindUnstake:  {Min: 1, Max: 10_000_000},
}

// Validator is stateless after construction and safe for concurrent use.
type Validator struct {
	limits map[ledger.Kind]Bounds
}

// NewValidator copies limits; kinds missing from limits are rejected.
func NewValidator(limits map[ledger.Kind]Bounds) (*Validator, error) {
	if len(limits) == 0 {
		limits = DefaultLimits
	}
	copied := make(map[ledger.Kind]Bounds, len(limits))
	for kind, b := range limits {
		if !kind.Valid() {
			return nil, fmt.Errorf("rules: unknown kind %q", kind)
		}
		if b.Max != 0 && b.Max < b.Min {
			return nil, fmt.Errorf("rules: %s max %d below min %d", kind, b.Max, b.Min)
		}
		copied[kind] = b
	}
	return &Validator{limits: copied}, nil
}

// Validate rejects amounts outside the configured range for kind. Non-positive
// amounts are always rejected regardless of the configured minimum.
func (v *Validator) Validate(kind ledger.Kind, amount int64) error {
	b, ok := v.limits[kind]
	if !ok || !kind.Valid() {
		return &ledger.RuleViolation{Kind: kind, Amount: amount, Bound: ledger.BoundKind}
	}

	min := b.Min
	if min < 1 {
		min = 1
	}
	if amount < min {
		return &ledger.RuleViolation{Kind: kind, Amount: amount, Bound: ledger.BoundMin, Limit: min}
	}
	if b.Max > 0 && amount > b.Max {
		return &ledger.RuleViolation{Kind: kind, Amount: amount, Bound: ledger.BoundMax, Limit: b.Max}
	}
	return nil
}

// CheckAccounts enforces which kinds may touch the system account. Only an award
// may originate from it, so nothing else can mint.
func (v *Validator) CheckAccounts(kind ledger.Kind, from, to string) error {
	switch {
	case from == "" || to == "":
		return &ledger.RuleViolation{Kind: kind, Bound: ledger.BoundAccount, Detail: "from and to are required"}
	case from == to:
		return &ledger.RuleViolation{Kind: kind, Bound: ledger.BoundAccount, Detail: "from and to must differ"}
	case kind == ledger.KindAward && from != ledger.SystemAccount:
		return &ledger.RuleViolation{Kind: kind, Bound: ledger.BoundAccount, Detail: "award must originate from the system account"}
	case kind != ledger.KindAward && from == ledger.SystemAccount:
		return &ledger.RuleViolation{Kind: kind, Bound: ledger.BoundAccount, Detail: "only awards may originate from the system account"}
	}
	return nil
}

// Limits returns a copy of the configured bounds.
func (v *Validator) Limits() map[ledger.Kind]Bounds {
	out := make(map[ledger.Kind]Bounds, len(v.limits))
	for k, b := range v.limits {
		out[k] = b
	}
	return out
}
