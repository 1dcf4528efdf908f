// Package fraud scores in-flight transactions against weighted heuristic rules.
//
// The verdict is advisory: the processor rejects flagged transactions before any
// balance moves, and nothing here ever reverses applied funds.
package fraud

import (
	"context"
	"fmt"
	"time"

	"github.com/R3E-Network/points_ledger/internal/domain/ledger"
)

// Policy is the configurable shape of the built-in rule set.
type Policy struct {
	Threshold     float64       `yaml:"threshold"`
	HistoryWindow time.Duration `yaml:"history_window"`

	LargeAmount struct {
		Threshold int64   `yaml:"threshold"`
		Weight    float64 `yaml:"weight"`
	} `yaml:"large_amount"`

	Velocity struct {
		Window   time.Duration `yaml:"window"`
		MaxCount int           `yaml:"max_count"`
		Weight   float64       `yaml:"weight"`
	} `yaml:"velocity"`

	PatternDeviation struct {
		Multiplier float64 `yaml:"multiplier"`
		MinSamples int     `yaml:"min_samples"`
		Weight     float64 `yaml:"weight"`
	} `yaml:"pattern_deviation"`

	NewAccount struct {
		MaxAge    time.Duration `yaml:"max_age"`
		Threshold int64         `yaml:"threshold"`
		Weight    float64       `yaml:"weight"`
	} `yaml:"new_account"`
}

// DefaultPolicy returns the weights used when no policy file is configured.
func DefaultPolicy() Policy {
	var p Policy
	p.Threshold = 0.7
	p.HistoryWindow = DefaultHistoryWindow

	p.LargeAmount.Threshold = 500_000
	p.LargeAmount.Weight = 0.4

	p.Velocity.Window = time.Minute
	p.Velocity.MaxCount = 10
	p.Velocity.Weight = 0.3

	p.PatternDeviation.Multiplier = 10
	p.PatternDeviation.MinSamples = 3
	p.PatternDeviation.Weight = 0.3

	p.NewAccount.MaxAge = 24 * time.Hour
	p.NewAccount.Threshold = 50_000
	p.NewAccount.Weight = 0.4
	return p
}

// Validate checks the policy for impossible values.
func (p Policy) Validate() error {
	if p.Threshold < 0 {
		return fmt.Errorf("fraud threshold must not be negative, got %v", p.Threshold)
	}
	for name, w := range map[string]float64{
		"large_amount":      p.LargeAmount.Weight,
		"velocity":          p.Velocity.Weight,
		"pattern_deviation": p.PatternDeviation.Weight,
		"new_account":       p.NewAccount.Weight,
	} {
		if w < 0 {
			return fmt.Errorf("fraud rule %s weight must not be negative, got %v", name, w)
		}
	}
	if p.Velocity.Window > p.HistoryWindow && p.HistoryWindow > 0 {
		return fmt.Errorf("velocity window %s exceeds history window %s", p.Velocity.Window, p.HistoryWindow)
	}
	return nil
}

// Rules builds the built-in rule set from the policy.
func (p Policy) Rules() []Rule {
	return []Rule{
		LargeAmount{Threshold: p.LargeAmount.Threshold, Weight: p.LargeAmount.Weight},
		Velocity{Window: p.Velocity.Window, MaxCount: p.Velocity.MaxCount, Weight: p.Velocity.Weight},
		PatternDeviation{Multiplier: p.PatternDeviation.Multiplier, MinSamples: p.PatternDeviation.MinSamples, Weight: p.PatternDeviation.Weight},
		NewAccountLargeAmount{MaxAge: p.NewAccount.MaxAge, Threshold: p.NewAccount.Threshold, Weight: p.NewAccount.Weight},
	}
}

// Engine sums the weights of triggered rules into a verdict.
type Engine struct {
	threshold float64
	rules     []Rule
	history   *History
	ages      AgeSource
}

// Option configures an Engine.
type Option func(*Engine)

// WithAgeSource replaces the history's first-seen times with an external source.
func WithAgeSource(src AgeSource) Option {
	return func(e *Engine) {
		if src != nil {
			e.ages = src
		}
	}
}

// NewEngine creates an engine over history with the given rules.
func NewEngine(threshold float64, history *History, rules []Rule, opts ...Option) *Engine {
	if history == nil {
		history = NewHistory(DefaultHistoryWindow, nil)
	}
	e := &Engine{
		threshold: threshold,
		rules:     append([]Rule(nil), rules...),
		history:   history,
		ages:      history,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewEngineFromPolicy builds an engine with the built-in rules.
func NewEngineFromPolicy(p Policy, now func() time.Time, opts ...Option) (*Engine, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return NewEngine(p.Threshold, NewHistory(p.HistoryWindow, now), p.Rules(), opts...), nil
}

// History returns the engine's rolling history.
func (e *Engine) History() *History { return e.history }

// Analyze scores tx against snap. IsFraud is set when the summed weight of the
// triggered rules exceeds the threshold.
func (e *Engine) Analyze(tx ledger.Transaction, snap Snapshot) ledger.Verdict {
	var sum float64
	signals := make([]ledger.Signal, 0, len(e.rules))
	for _, rule := range e.rules {
		s := rule.Evaluate(tx, snap)
		if s.Rule == "" {
			s.Rule = rule.Name()
		}
		if s.Triggered {
			sum += s.Weight
		}
		signals = append(signals, s)
	}

	confidence := sum
	if confidence > 1 {
		confidence = 1
	}
	return ledger.Verdict{
		IsFraud:    sum > e.threshold,
		Confidence: confidence,
		Signals:    signals,
	}
}

// Screen analyzes tx against the sender's current history.
func (e *Engine) Screen(_ context.Context, tx ledger.Transaction) ledger.Verdict {
	snap := e.history.Snapshot(tx.From)
	if e.ages != e.history {
		snap.FirstSeen, snap.Known = e.ages.FirstSeen(tx.From)
	}
	return e.Analyze(tx, snap)
}

// Observe records an applied transaction into the history.
func (e *Engine) Observe(tx ledger.Transaction) {
	e.history.Record(tx)
}
