// Package redisstore implements the ledger store primitives and distributed
// per-key locks on Redis.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/R3E-Network/points_ledger/internal/ledger/store"
)

const defaultPrefix = "ledger"

// Store keeps balances as integer counters and consumed transaction IDs as keys
// with an expiry.
type Store struct {
	client redis.UniversalClient
	prefix string
}

var _ store.Store = (*Store)(nil)

// New wraps an existing client. An empty prefix defaults to "ledger".
func New(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

// Dial parses a redis:// URL, connects and verifies connectivity.
func Dial(ctx context.Context, url, prefix string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return New(client, prefix), nil
}

// Client exposes the underlying client so locks can share the connection pool.
func (s *Store) Client() redis.UniversalClient { return s.client }

func (s *Store) balanceKey(account string) string {
	return s.prefix + ":balance:" + account
}

func (s *Store) consumedKey(transactionID string) string {
	return s.prefix + ":consumed:" + transactionID
}

func (s *Store) GetBalance(ctx context.Context, account string) (uint64, error) {
	v, err := s.client.Get(ctx, s.balanceKey(account)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get balance %s: %w", account, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("account %s: %w", account, store.ErrNegativeBalance)
	}
	return uint64(v), nil
}

// ApplyDelta issues a single INCRBY.
func (s *Store) ApplyDelta(ctx context.Context, account string, delta int64) error {
	if err := s.client.IncrBy(ctx, s.balanceKey(account), delta).Err(); err != nil {
		return fmt.Errorf("apply delta %s: %w", account, err)
	}
	return nil
}

func (s *Store) IsConsumed(ctx context.Context, transactionID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.consumedKey(transactionID)).Result()
	if err != nil {
		return false, fmt.Errorf("is consumed %s: %w", transactionID, err)
	}
	return n > 0, nil
}

// MarkConsumed uses SET NX so an existing mark keeps its original expiry.
func (s *Store) MarkConsumed(ctx context.Context, transactionID string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("mark consumed: ttl must be positive, got %s", ttl)
	}
	stamp := time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.client.SetNX(ctx, s.consumedKey(transactionID), stamp, ttl).Err(); err != nil {
		return fmt.Errorf("mark consumed %s: %w", transactionID, err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client.
func (s *Store) Close() error {
	return s.client.Close()
}
