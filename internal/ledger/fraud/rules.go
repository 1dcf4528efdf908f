package fraud

import (
	"fmt"
	"time"

	"github.com/R3E-Network/points_ledger/internal/domain/ledger"
)

// Rule evaluates one independent signal. Implementations must be pure and
// safe for concurrent use.
type Rule interface {
	Name() string
	Evaluate(tx ledger.Transaction, snap Snapshot) ledger.Signal
}

// RuleFunc adapts a function into a Rule.
type RuleFunc struct {
	RuleName string
	Weight   float64
	Fn       func(tx ledger.Transaction, snap Snapshot) (bool, string)
}

func (r RuleFunc) Name() string { return r.RuleName }

func (r RuleFunc) Evaluate(tx ledger.Transaction, snap Snapshot) ledger.Signal {
	triggered, detail := r.Fn(tx, snap)
	return ledger.Signal{Rule: r.RuleName, Weight: r.Weight, Triggered: triggered, Detail: detail}
}

// LargeAmount fires when the amount exceeds Threshold.
type LargeAmount struct {
	Threshold int64
	Weight    float64
}

func (LargeAmount) Name() string { return "large_amount" }

func (r LargeAmount) Evaluate(tx ledger.Transaction, _ Snapshot) ledger.Signal {
	s := ledger.Signal{Rule: r.Name(), Weight: r.Weight}
	if r.Threshold > 0 && tx.Amount > r.Threshold {
		s.Triggered = true
		s.Detail = fmt.Sprintf("amount %d exceeds %d", tx.Amount, r.Threshold)
	}
	return s
}

// Velocity fires when the sender already made MaxCount or more transactions
// within Window.
type Velocity struct {
	Window   time.Duration
	MaxCount int
	Weight   float64
}

func (Velocity) Name() string { return "velocity" }

func (r Velocity) Evaluate(_ ledger.Transaction, snap Snapshot) ledger.Signal {
	s := ledger.Signal{Rule: r.Name(), Weight: r.Weight}
	if r.MaxCount <= 0 || r.Window <= 0 {
		return s
	}
	cutoff := snap.Now.Add(-r.Window)
	count := 0
	for _, e := range snap.Recent {
		if e.At.After(cutoff) {
			count++
		}
	}
	if count >= r.MaxCount {
		s.Triggered = true
		s.Detail = fmt.Sprintf("%d transactions within %s", count, r.Window)
	}
	return s
}

// PatternDeviation fires when the amount is more than Multiplier times the
// sender's mean over the history window. It needs MinSamples entries to judge.
type PatternDeviation struct {
	Multiplier float64
	MinSamples int
	Weight     float64
}

func (PatternDeviation) Name() string { return "pattern_deviation" }

func (r PatternDeviation) Evaluate(tx ledger.Transaction, snap Snapshot) ledger.Signal {
	s := ledger.Signal{Rule: r.Name(), Weight: r.Weight}
	minSamples := r.MinSamples
	if minSamples < 1 {
		minSamples = 1
	}
	if r.Multiplier <= 0 || len(snap.Recent) < minSamples {
		return s
	}
	var total float64
	for _, e := range snap.Recent {
		total += float64(e.Amount)
	}
	mean := total / float64(len(snap.Recent))
	if float64(tx.Amount) > mean*r.Multiplier {
		s.Triggered = true
		s.Detail = fmt.Sprintf("amount %d is over %.1fx the mean %.1f", tx.Amount, r.Multiplier, mean)
	}
	return s
}

// NewAccountLargeAmount fires when an account younger than MaxAge (or never
// seen) sends more than Threshold. The system account has no age and never
// fires.
type NewAccountLargeAmount struct {
	MaxAge    time.Duration
	Threshold int64
	Weight    float64
}

func (NewAccountLargeAmount) Name() string { return "new_account_large_amount" }

func (r NewAccountLargeAmount) Evaluate(tx ledger.Transaction, snap Snapshot) ledger.Signal {
	s := ledger.Signal{Rule: r.Name(), Weight: r.Weight}
	if tx.Amount <= r.Threshold || tx.DebitsSystem() {
		return s
	}
	if !snap.Known {
		s.Triggered = true
		s.Detail = "account has no recorded activity"
		return s
	}
	if age := snap.Now.Sub(snap.FirstSeen); age < r.MaxAge {
		s.Triggered = true
		s.Detail = fmt.Sprintf("account age %s below %s", age.Truncate(time.Second), r.MaxAge)
	}
	return s
}
