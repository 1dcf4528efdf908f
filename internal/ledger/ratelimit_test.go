package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/points_ledger/internal/logging"
	"github.com/R3E-Network/points_ledger/pkg/testutil"
)

func TestRateLimiter_PerAccount(t *testing.T) {
	base, hook := test.NewNullLogger()
	clock := testutil.NewClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	rl := NewRateLimiter(1, 2, logging.FromLogrus("ledger", base))
	rl.now = clock.Now
	ctx := context.Background()

	assert.True(t, rl.Allow(ctx, "alice"))
	assert.True(t, rl.Allow(ctx, "alice"))
	assert.False(t, rl.Allow(ctx, "alice"))
	assert.True(t, rl.Allow(ctx, "bob"))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "rate_limit_exceeded", entry.Data["security_event"])
	assert.Equal(t, "alice", entry.Data["account"])

	clock.Advance(time.Second)
	assert.True(t, rl.Allow(ctx, "alice"), "tokens refill")
}

func TestRateLimiter_Cleanup(t *testing.T) {
	clock := testutil.NewClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	rl := NewRateLimiter(10, 10, logging.Discard())
	rl.now = clock.Now
	ctx := context.Background()

	rl.Allow(ctx, "alice")
	clock.Advance(DefaultLimiterIdle / 2)
	rl.Allow(ctx, "bob")
	assert.Equal(t, 2, rl.Len())

	clock.Advance(DefaultLimiterIdle/2 + time.Second)
	assert.Equal(t, 1, rl.Cleanup())
	assert.Equal(t, 1, rl.Len())
}

func TestRateLimiter_Disabled(t *testing.T) {
	rl := NewRateLimiter(0, 10, nil)
	assert.Nil(t, rl)
	assert.True(t, rl.Allow(context.Background(), "anyone"))
	assert.Zero(t, rl.Cleanup())
	assert.Zero(t, rl.Len())
}
