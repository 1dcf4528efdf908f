package fraud

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/points_ledger/internal/domain/ledger"
	"github.com/R3E-Network/points_ledger/pkg/testutil"
)

type fixedAges map[string]time.Time

func (f fixedAges) FirstSeen(account string) (time.Time, bool) {
	t, ok := f[account]
	return t, ok
}

func matureSnapshot(now time.Time, amounts ...int64) Snapshot {
	snap := Snapshot{Account: "alice", Now: now, FirstSeen: now.Add(-30 * 24 * time.Hour), Known: true}
	for i, a := range amounts {
		snap.Recent = append(snap.Recent, Entry{Amount: a, At: now.Add(-time.Duration(len(amounts)-i) * time.Hour)})
	}
	return snap
}

func TestRules(t *testing.T) {
	p := DefaultPolicy()
	now := epoch

	burst := matureSnapshot(now)
	for i := 0; i < 10; i++ {
		burst.Recent = append(burst.Recent, Entry{Amount: 100, At: now.Add(-time.Duration(i) * time.Second)})
	}

	tests := []struct {
		name   string
		rule   Rule
		amount int64
		snap   Snapshot
		want   bool
	}{
		{"large amount over threshold", LargeAmount{Threshold: 500_000, Weight: 0.4}, 500_001, matureSnapshot(now), true},
		{"large amount at threshold", LargeAmount{Threshold: 500_000, Weight: 0.4}, 500_000, matureSnapshot(now), false},
		{"velocity burst", p.Rules()[1], 10, burst, true},
		{"velocity below limit", p.Rules()[1], 10, matureSnapshot(now, 1, 2, 3), false},
		{"deviation over mean", p.Rules()[2], 1001, matureSnapshot(now, 100, 100, 100), true},
		{"deviation at multiplier", p.Rules()[2], 1000, matureSnapshot(now, 100, 100, 100), false},
		{"deviation needs samples", p.Rules()[2], 1_000_000, matureSnapshot(now, 1, 1), false},
		{"new account unknown", p.Rules()[3], 50_001, Snapshot{Now: now}, true},
		{"new account young", p.Rules()[3], 50_001, Snapshot{Now: now, Known: true, FirstSeen: now.Add(-time.Hour)}, true},
		{"new account mature", p.Rules()[3], 50_001, matureSnapshot(now), false},
		{"new account small amount", p.Rules()[3], 50_000, Snapshot{Now: now}, false},
	}

	award := ledger.Transaction{ID: "tx", From: ledger.SystemAccount, To: "alice", Amount: 50_001, Kind: ledger.KindAward}
	s := p.Rules()[3].Evaluate(award, Snapshot{Now: now})
	assert.False(t, s.Triggered, "the system account has no age")

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.rule.Evaluate(transfer("alice", "bob", tt.amount), tt.snap)
			assert.Equal(t, tt.rule.Name(), s.Rule)
			assert.Equal(t, tt.want, s.Triggered)
			if tt.want {
				assert.NotEmpty(t, s.Detail)
			}
		})
	}
}

func TestEngine_Analyze(t *testing.T) {
	e := NewEngine(0.7, nil, DefaultPolicy().Rules())
	now := epoch

	t.Run("clean", func(t *testing.T) {
		v := e.Analyze(transfer("alice", "bob", 100), matureSnapshot(now, 100, 120, 90))
		assert.False(t, v.IsFraud)
		assert.Zero(t, v.Confidence)
		assert.Len(t, v.Signals, 4)
		assert.Empty(t, v.Triggered())
	})

	t.Run("single signal stays below threshold", func(t *testing.T) {
		v := e.Analyze(transfer("alice", "bob", 600_000), matureSnapshot(now))
		assert.False(t, v.IsFraud)
		assert.InDelta(t, 0.4, v.Confidence, 1e-9)
		assert.Equal(t, []string{"large_amount"}, v.Triggered())
	})

	t.Run("new account with large amount", func(t *testing.T) {
		v := e.Analyze(transfer("alice", "bob", 600_000), Snapshot{Now: now})
		assert.True(t, v.IsFraud)
		assert.InDelta(t, 0.8, v.Confidence, 1e-9)
		assert.ElementsMatch(t, []string{"large_amount", "new_account_large_amount"}, v.Triggered())
	})

	t.Run("confidence is capped", func(t *testing.T) {
		snap := Snapshot{Now: now}
		for i := 0; i < 10; i++ {
			snap.Recent = append(snap.Recent, Entry{Amount: 10, At: now.Add(-time.Second)})
		}
		v := e.Analyze(transfer("alice", "bob", 600_000), snap)
		assert.True(t, v.IsFraud)
		assert.Equal(t, 1.0, v.Confidence)
		assert.Len(t, v.Triggered(), 4)
	})
}

func TestEngine_ThresholdIsExclusive(t *testing.T) {
	always := RuleFunc{RuleName: "always", Weight: 0.5, Fn: func(ledger.Transaction, Snapshot) (bool, string) { return true, "" }}
	e := NewEngine(0.5, nil, []Rule{always})
	v := e.Analyze(transfer("a", "b", 1), Snapshot{})
	assert.False(t, v.IsFraud)
	assert.Equal(t, 0.5, v.Confidence)

	e = NewEngine(0.49, nil, []Rule{always})
	assert.True(t, e.Analyze(transfer("a", "b", 1), Snapshot{}).IsFraud)
}

func TestEngine_ScreenAndObserve(t *testing.T) {
	clock := testutil.NewClock(epoch)
	e, err := NewEngineFromPolicy(DefaultPolicy(), clock.Now)
	require.NoError(t, err)
	ctx := context.Background()

	v := e.Screen(ctx, transfer("alice", "bob", 100))
	assert.False(t, v.IsFraud)

	for i := 0; i < 10; i++ {
		e.Observe(transfer("alice", "bob", 100))
	}
	clock.Advance(10 * time.Second)

	v = e.Screen(ctx, transfer("alice", "bob", 100_000))
	assert.True(t, v.IsFraud, "velocity, deviation and new account all fire")
	assert.ElementsMatch(t, []string{"velocity", "pattern_deviation", "new_account_large_amount"}, v.Triggered())

	clock.Advance(25 * time.Hour)
	v = e.Screen(ctx, transfer("alice", "bob", 100_000))
	assert.False(t, v.IsFraud, "history evicted and account matured")
	assert.Empty(t, v.Triggered())
}

func TestEngine_ScreenAwardFromSystemAccount(t *testing.T) {
	clock := testutil.NewClock(epoch)
	e, err := NewEngineFromPolicy(DefaultPolicy(), clock.Now)
	require.NoError(t, err)
	ctx := context.Background()

	award := func(to string, amount int64) ledger.Transaction {
		return ledger.Transaction{ID: "tx-" + to, From: ledger.SystemAccount, To: to, Amount: amount, Kind: ledger.KindAward}
	}
	for _, to := range []string{"a", "b", "c", "d", "e"} {
		e.Observe(award(to, 100))
	}

	v := e.Screen(ctx, award("f", 60_000))
	assert.False(t, v.IsFraud)
	assert.Zero(t, v.Confidence)
	assert.Empty(t, v.Triggered())

	// An award above the large-amount threshold carries only that signal.
	v = e.Screen(ctx, award("g", 600_000))
	assert.False(t, v.IsFraud)
	assert.Equal(t, []string{"large_amount"}, v.Triggered())
}

func TestEngine_WithAgeSource(t *testing.T) {
	clock := testutil.NewClock(epoch)
	ages := fixedAges{"alice": epoch.Add(-365 * 24 * time.Hour)}
	e, err := NewEngineFromPolicy(DefaultPolicy(), clock.Now, WithAgeSource(ages))
	require.NoError(t, err)

	v := e.Screen(context.Background(), transfer("alice", "bob", 600_000))
	assert.Equal(t, []string{"large_amount"}, v.Triggered())

	v = e.Screen(context.Background(), transfer("mallory", "bob", 600_000))
	assert.True(t, v.IsFraud)
}

func TestPolicy_Validate(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate())

	p := DefaultPolicy()
	p.Threshold = -1
	assert.Error(t, p.Validate())

	p = DefaultPolicy()
	p.Velocity.Weight = -0.1
	assert.Error(t, p.Validate())

	p = DefaultPolicy()
	p.Velocity.Window = 48 * time.Hour
	assert.Error(t, p.Validate())

	_, err := NewEngineFromPolicy(p, nil)
	assert.Error(t, err)
}
