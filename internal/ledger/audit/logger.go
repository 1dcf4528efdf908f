// Package audit delivers ledger audit records to append-only sinks without
// blocking the processing path.
package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/R3E-Network/points_ledger/internal/domain/ledger"
	"github.com/R3E-Network/points_ledger/internal/ledger/metrics"
	"github.com/R3E-Network/points_ledger/internal/logging"
)

const (
	DefaultBuffer  = 1024
	DefaultTimeout = 5 * time.Second
)

// Sink persists audit records. Implementations must be safe for concurrent use.
type Sink interface {
	Write(ctx context.Context, rec ledger.AuditRecord) error
}

// Options configures a Logger.
type Options struct {
	Buffer  int
	Timeout time.Duration
	Metrics *metrics.Collector
	Log     *logging.Logger
}

// Logger queues records and writes them to a sink from a single goroutine.
type Logger struct {
	sink    Sink
	timeout time.Duration
	metrics *metrics.Collector
	log     *logging.Logger

	queue   chan ledger.AuditRecord
	mu      sync.RWMutex
	once    sync.Once
	stopped atomic.Bool
	dropped atomic.Uint64
	written atomic.Uint64

	wg sync.WaitGroup
}

// NewLogger creates a logger for sink. Call Start before recording.
func NewLogger(sink Sink, opts Options) *Logger {
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Log == nil {
		opts.Log = logging.NewDefault("audit")
	}
	return &Logger{
		sink:    sink,
		timeout: opts.Timeout,
		metrics: opts.Metrics,
		log:     opts.Log,
		queue:   make(chan ledger.AuditRecord, opts.Buffer),
	}
}

// Start launches the writer goroutine. It is safe to call more than once.
func (l *Logger) Start() {
	if l == nil {
		return
	}
	l.once.Do(func() {
		l.wg.Add(1)
		go l.run()
	})
}

// Stop closes the queue and waits for queued records to drain or ctx to end.
func (l *Logger) Stop(ctx context.Context) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	if !l.stopped.CompareAndSwap(false, true) {
		l.mu.Unlock()
		return nil
	}
	close(l.queue)
	l.mu.Unlock()

	l.Start()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("audit stop: %w", ctx.Err())
	}
}

// Record enqueues rec. It never blocks; records are dropped when the queue is
// full or the logger is stopped.
func (l *Logger) Record(rec ledger.AuditRecord) bool {
	if l == nil {
		return false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.stopped.Load() {
		l.drop(rec)
		return false
	}

	select {
	case l.queue <- rec:
		return true
	default:
		l.drop(rec)
		return false
	}
}

// Dropped returns the number of records lost.
func (l *Logger) Dropped() uint64 {
	if l == nil {
		return 0
	}
	return l.dropped.Load()
}

// Written returns the number of records the sink accepted.
func (l *Logger) Written() uint64 {
	if l == nil {
		return 0
	}
	return l.written.Load()
}

func (l *Logger) drop(rec ledger.AuditRecord) {
	l.dropped.Add(1)
	l.metrics.RecordAuditDropped()
	l.log.WithFields(map[string]interface{}{
		"transaction_id": rec.TransactionID,
		"outcome":        rec.Outcome,
	}).Warn("audit record dropped")
}

func (l *Logger) run() {
	defer l.wg.Done()

	for rec := range l.queue {
		if l.sink == nil {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
		err := l.sink.Write(ctx, rec)
		cancel()

		l.metrics.RecordAuditWrite(err)
		if err != nil {
			l.log.WithFields(map[string]interface{}{
				"transaction_id": rec.TransactionID,
				"outcome":        rec.Outcome,
				"error":          err.Error(),
			}).Error("audit write failed")
			continue
		}
		l.written.Add(1)
	}
}

// MultiSink writes every record to each sink in order.
type MultiSink []Sink

func (m MultiSink) Write(ctx context.Context, rec ledger.AuditRecord) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Write(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
