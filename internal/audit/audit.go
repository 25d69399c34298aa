// Package audit writes compliance records for ledger activity. Recording is
// fire-and-forget: a failing sink is logged and never aborts the operation
// that produced the entry.
package audit

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"
)

// Entry is a single audit event tied to a business transaction.
type Entry struct {
	Action        string
	TransactionID string
	WalletID      string
	Amount        decimal.Decimal
	Status        string
	Description   string
}

// Recorder accepts audit entries.
type Recorder interface {
	Record(ctx context.Context, entry Entry)
}

// LogRecorder emits audit entries as structured log lines.
type LogRecorder struct {
	logger *slog.Logger
}

// NewLogRecorder constructs a log-backed recorder.
func NewLogRecorder(logger *slog.Logger) *LogRecorder {
	return &LogRecorder{logger: logger}
}

// Record writes the entry to the logger.
func (r *LogRecorder) Record(_ context.Context, entry Entry) {
	if r == nil || r.logger == nil {
		return
	}
	r.logger.Info("audit",
		slog.String("action", entry.Action),
		slog.String("transaction_id", entry.TransactionID),
		slog.String("wallet_id", entry.WalletID),
		slog.String("amount", entry.Amount.String()),
		slog.String("status", entry.Status),
		slog.String("description", entry.Description),
	)
}
