package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sony/gobreaker"

	"github.com/R3E-Network/points_ledger/internal/config"
	"github.com/R3E-Network/points_ledger/internal/ledger"
	"github.com/R3E-Network/points_ledger/internal/ledger/audit"
	"github.com/R3E-Network/points_ledger/internal/ledger/fraud"
	"github.com/R3E-Network/points_ledger/internal/ledger/metrics"
	"github.com/R3E-Network/points_ledger/internal/ledger/processor"
	"github.com/R3E-Network/points_ledger/internal/ledger/store"
	"github.com/R3E-Network/points_ledger/internal/ledger/store/redisstore"
	"github.com/R3E-Network/points_ledger/internal/logging"
)

// storeBackend bundles the balance store with the locker that matches it.
type storeBackend struct {
	store  store.Store
	locker processor.Locker
	pinger store.Pinger
	close  func()
}

func openStore(ctx context.Context, cfg *config.Config, collector *metrics.Collector, log *logging.Logger) (*storeBackend, error) {
	var (
		raw    store.Store
		locker processor.Locker
		closer = func() {}
	)
	switch cfg.StoreBackend {
	case config.BackendRedis:
		rs, err := redisstore.Dial(ctx, cfg.RedisURL, cfg.RedisPrefix)
		if err != nil {
			return nil, err
		}
		raw = rs
		locker = redisstore.NewLocker(rs.Client(), cfg.RedisPrefix, redisstore.DefaultLockOptions())
		closer = func() {
			if err := rs.Close(); err != nil {
				log.Entry().WithError(err).Warn("Failed to close redis client")
			}
		}
	case config.BackendMemory:
		raw = store.NewMemory(time.Now)
		locker = processor.NewKeyedMutex()
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	breaker := store.NewBreaker(raw, store.BreakerConfig{
		Name:             "ledger-store",
		FailureThreshold: uint32(cfg.BreakerFailures),
		OpenTimeout:      cfg.BreakerTimeout,
		OnStateChange:    breakerObserver(collector, log),
	})
	return &storeBackend{store: breaker, locker: locker, pinger: breaker, close: closer}, nil
}

func breakerObserver(collector *metrics.Collector, log *logging.Logger) func(string, gobreaker.State, gobreaker.State) {
	return func(name string, from, to gobreaker.State) {
		collector.SetBreakerState(name, float64(to))
		log.WithFields(map[string]interface{}{
			"breaker": name,
			"from":    from.String(),
			"to":      to.String(),
		}).Warn("Store circuit breaker changed state")
	}
}

// openAudit builds the sink chain. With no sink configured, records go to
// stdout as JSON lines.
func openAudit(ctx context.Context, cfg *config.Config, collector *metrics.Collector, log *logging.Logger) (*audit.Logger, func(), error) {
	var (
		sinks   audit.MultiSink
		closers []func() error
	)
	if cfg.DatabaseURL != "" {
		pg, err := audit.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, pg)
		closers = append(closers, pg.Close)
	}
	if cfg.AuditFile != "" {
		fs, err := audit.NewFileSink(cfg.AuditFile)
		if err != nil {
			for _, c := range closers {
				_ = c()
			}
			return nil, nil, err
		}
		sinks = append(sinks, fs)
		closers = append(closers, fs.Close)
	}
	if len(sinks) == 0 {
		log.Entry().Warn("No audit sink configured, writing audit records to stdout")
		sinks = append(sinks, audit.NewWriterSink(os.Stdout))
	}

	logger := audit.NewLogger(sinks, audit.Options{
		Buffer:  cfg.AuditBuffer,
		Timeout: cfg.AuditTimeout,
		Metrics: collector,
		Log:     log,
	})
	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				log.Entry().WithError(err).Warn("Failed to close audit sink")
			}
		}
	}
	return logger, closeAll, nil
}

func housekeeping(history *fraud.History, limiter *ledger.RateLimiter, log *logging.Logger) func() {
	return func() {
		pruned := history.Prune()
		idle := limiter.Cleanup()
		log.WithFields(map[string]interface{}{
			"history_pruned":   pruned,
			"limiters_removed": idle,
			"history_accounts": history.Len(),
			"known_accounts":   history.Accounts(),
		}).Debug("Housekeeping done")
	}
}
