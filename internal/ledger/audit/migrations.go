package audit

import (
	"context"
	"database/sql"
	"fmt"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS ledger_audit (
		id BIGSERIAL PRIMARY KEY,
		transaction_id UUID NOT NULL,
		from_account TEXT NOT NULL,
		to_account TEXT NOT NULL,
		amount BIGINT NOT NULL CHECK (amount > 0),
		kind TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		outcome TEXT NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ledger_audit_transaction_idx ON ledger_audit (transaction_id)`,
	`CREATE INDEX IF NOT EXISTS ledger_audit_recorded_idx ON ledger_audit (recorded_at)`,
	`CREATE OR REPLACE RULE ledger_audit_no_update AS ON UPDATE TO ledger_audit DO INSTEAD NOTHING`,
	`CREATE OR REPLACE RULE ledger_audit_no_delete AS ON DELETE TO ledger_audit DO INSTEAD NOTHING`,
}

// Apply runs the audit schema migrations. Every statement is idempotent.
func Apply(ctx context.Context, db *sql.DB) error {
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply audit migration %d: %w", i+1, err)
		}
	}
	return nil
}
