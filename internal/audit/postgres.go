package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRecorder persists audit entries to the audit_logs table. Insert
// failures are logged and swallowed so the ledger operation that produced the
// entry is never rolled back by its audit trail.
type PostgresRecorder struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresRecorder constructs a Postgres-backed recorder.
func NewPostgresRecorder(db *pgxpool.Pool, logger *slog.Logger) *PostgresRecorder {
	return &PostgresRecorder{db: db, logger: logger}
}

// Record inserts the entry, logging on failure.
func (r *PostgresRecorder) Record(ctx context.Context, entry Entry) {
	_, err := r.db.Exec(ctx, `INSERT INTO audit_logs
        (id, action, transaction_id, wallet_id, amount, status, description, created_at)
        VALUES ($1, $2, $3, NULLIF($4, '')::uuid, $5, $6, $7, $8)`,
		uuid.New(), entry.Action, entry.TransactionID, entry.WalletID,
		entry.Amount.String(), entry.Status, entry.Description, time.Now().UTC())
	if err != nil {
		r.logger.Error("audit record failed",
			slog.String("action", entry.Action),
			slog.String("transaction_id", entry.TransactionID),
			slog.Any("error", err),
		)
	}
}
