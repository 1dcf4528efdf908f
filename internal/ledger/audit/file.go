package audit

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/R3E-Network/points_ledger/internal/domain/ledger"
)

// FileSink appends audit records as JSON lines.
type FileSink struct {
	mu     sync.Mutex
	out    zerolog.Logger
	closer io.Closer
}

// NewFileSink opens path for appending.
func NewFileSink(path string) (*FileSink, error) {
	if path == "" {
		return nil, fmt.Errorf("audit file path is empty")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	s := NewWriterSink(f)
	s.closer = f
	return s, nil
}

// NewWriterSink writes JSON lines to w.
func NewWriterSink(w io.Writer) *FileSink {
	return &FileSink{out: zerolog.New(w)}
}

func (s *FileSink) Write(ctx context.Context, rec ledger.AuditRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out.Log().
		Str("transaction_id", rec.TransactionID).
		Str("from", rec.From).
		Str("to", rec.To).
		Int64("amount", rec.Amount).
		Str("kind", string(rec.Kind)).
		Str("reason", rec.Reason).
		Str("outcome", string(rec.Outcome)).
		Str("timestamp", rec.Timestamp.UTC().Format(time.RFC3339Nano)).
		Send()
	return nil
}

// Close closes the underlying file, if any.
func (s *FileSink) Close() error {
	if s == nil || s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
