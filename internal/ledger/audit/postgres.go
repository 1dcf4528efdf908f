package audit

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/R3E-Network/points_ledger/internal/domain/ledger"
)

// PostgresSink appends audit records to the ledger_audit table.
type PostgresSink struct {
	db *sqlx.DB
}

// NewPostgresSink wraps an open database handle.
func NewPostgresSink(db *sqlx.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

// OpenPostgres connects to dsn, applies migrations and returns a sink.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresSink, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect audit database: %w", err)
	}
	if err := Apply(ctx, db.DB); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewPostgresSink(db), nil
}

func (s *PostgresSink) Write(ctx context.Context, rec ledger.AuditRecord) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO ledger_audit (transaction_id, from_account, to_account, amount, kind, reason, outcome, recorded_at)
		VALUES (:transaction_id, :from_account, :to_account, :amount, :kind, :reason, :outcome, :recorded_at)
	`, rec)
	if err != nil {
		return fmt.Errorf("insert audit record %s: %w", rec.TransactionID, err)
	}
	return nil
}

// ByTransaction returns every record for id, oldest first.
func (s *PostgresSink) ByTransaction(ctx context.Context, id string) ([]ledger.AuditRecord, error) {
	var recs []ledger.AuditRecord
	err := s.db.SelectContext(ctx, &recs, `
		SELECT transaction_id, from_account, to_account, amount, kind, reason, outcome, recorded_at
		FROM ledger_audit
		WHERE transaction_id = $1
		ORDER BY recorded_at, id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query audit records %s: %w", id, err)
	}
	return recs, nil
}

// Ping checks database connectivity.
func (s *PostgresSink) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database handle.
func (s *PostgresSink) Close() error {
	return s.db.Close()
}
