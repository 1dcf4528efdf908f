package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"
)

// LockOptions configures distributed lock behavior.
type LockOptions struct {
	// Expiry must outlast a full process call, apply and compensation included.
	Expiry     time.Duration
	Tries      int
	RetryDelay time.Duration
}

// DefaultLockOptions suits sub-second ledger operations.
func DefaultLockOptions() LockOptions {
	return LockOptions{
		Expiry:     30 * time.Second,
		Tries:      64,
		RetryDelay: 25 * time.Millisecond,
	}
}

// Locker serializes critical sections across ledger instances using the RedLock
// algorithm against a single Redis deployment.
type Locker struct {
	rs     *redsync.Redsync
	prefix string
	opts   LockOptions
}

// NewLocker builds a locker sharing client's pool.
func NewLocker(client redis.UniversalClient, prefix string, opts LockOptions) *Locker {
	if prefix == "" {
		prefix = defaultPrefix
	}
	def := DefaultLockOptions()
	if opts.Expiry <= 0 {
		opts.Expiry = def.Expiry
	}
	if opts.Tries <= 0 {
		opts.Tries = def.Tries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = def.RetryDelay
	}
	return &Locker{
		rs:     redsync.New(goredis.NewPool(client)),
		prefix: prefix,
		opts:   opts,
	}
}

// Lock blocks until key is held, the tries are exhausted or ctx is done.
// The returned function releases the lock; it is safe to call once.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	if key == "" {
		return nil, errors.New("lock key cannot be empty")
	}
	mutex := l.rs.NewMutex(l.prefix+":lock:"+key,
		redsync.WithExpiry(l.opts.Expiry),
		redsync.WithTries(l.opts.Tries),
		redsync.WithRetryDelay(l.opts.RetryDelay),
	)
	if err := mutex.LockContext(ctx); err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	return func() {
		// Release must happen even when the caller's context is already done.
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _ = mutex.UnlockContext(unlockCtx)
	}, nil
}
