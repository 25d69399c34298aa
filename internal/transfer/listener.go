package transfer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pesaflow/pesaflow/internal/audit"
	"github.com/pesaflow/pesaflow/internal/event"
	"github.com/pesaflow/pesaflow/internal/notification"
	"github.com/pesaflow/pesaflow/internal/transaction"
	"github.com/pesaflow/pesaflow/internal/wallet"
)

// OutcomeListener consumes terminal transfer events, records them for
// compliance and notifies the sender's owner. It never fails a delivery:
// notification and audit are best-effort side channels.
type OutcomeListener struct {
	records  transaction.Repository
	wallets  wallet.Repository
	auditor  audit.Recorder
	notifier notification.Notifier
	logger   *slog.Logger
}

// NewOutcomeListener builds the terminal-event consumer.
func NewOutcomeListener(records transaction.Repository, wallets wallet.Repository, auditor audit.Recorder, notifier notification.Notifier, logger *slog.Logger) *OutcomeListener {
	return &OutcomeListener{records: records, wallets: wallets, auditor: auditor, notifier: notifier, logger: logger}
}

// Register subscribes the listener to all terminal topics.
func (l *OutcomeListener) Register(bus event.Bus) {
	bus.Subscribe(event.TopicTransferSucceeded, l.handleSuccess)
	bus.Subscribe(event.TopicTransferFailed, l.handleFailed)
	bus.Subscribe(event.TopicTransferRolledBack, l.handleRollback)
}

func (l *OutcomeListener) handleSuccess(ctx context.Context, delivery event.Envelope) error {
	outcome, ok := delivery.Payload.(event.TransferOutcome)
	if !ok {
		return nil
	}

	record, found := l.load(ctx, outcome.TransactionID)
	if found {
		l.auditor.Record(ctx, audit.Entry{
			Action:        "TRANSFER_NOTIFIED",
			TransactionID: record.TransactionID,
			WalletID:      record.FromWalletID,
			Amount:        record.Amount,
			Status:        string(record.TransferStatus),
			Description:   "transfer completed",
		})
		l.notifySender(ctx, record, notification.KindTransferSuccess,
			fmt.Sprintf("Transfer of %s completed", record.Amount))
	}
	return nil
}

func (l *OutcomeListener) handleFailed(ctx context.Context, delivery event.Envelope) error {
	outcome, ok := delivery.Payload.(event.TransferOutcome)
	if !ok {
		return nil
	}

	record, found := l.load(ctx, outcome.TransactionID)
	reason := outcome.Reason
	if found && record.CancelReason != "" {
		reason = record.CancelReason
	}

	l.auditor.Record(ctx, audit.Entry{
		Action:        "TRANSFER_FAILED_NOTIFIED",
		TransactionID: outcome.TransactionID,
		Description:   reason,
	})
	if found {
		l.notifySender(ctx, record, notification.KindTransferFailed,
			fmt.Sprintf("Transfer %s failed: %s", outcome.TransactionID, reason))
	}
	return nil
}

func (l *OutcomeListener) handleRollback(ctx context.Context, delivery event.Envelope) error {
	outcome, ok := delivery.Payload.(event.TransferOutcome)
	if !ok {
		return nil
	}

	record, found := l.load(ctx, outcome.TransactionID)
	if found {
		l.auditor.Record(ctx, audit.Entry{
			Action:        "TRANSFER_ROLLBACK",
			TransactionID: record.TransactionID,
			WalletID:      record.FromWalletID,
			Amount:        record.Amount,
			Status:        string(record.TransferStatus),
			Description:   record.CancelReason,
		})
		l.notifySender(ctx, record, notification.KindTransferRollback,
			fmt.Sprintf("Transfer %s was rolled back: %s", outcome.TransactionID, outcome.Reason))
	}
	return nil
}

func (l *OutcomeListener) load(ctx context.Context, transactionID string) (transaction.Record, bool) {
	record, err := l.records.Get(ctx, transactionID)
	if err != nil {
		l.logger.Warn("outcome for unknown transaction", slog.String("transaction_id", transactionID), slog.Any("error", err))
		return transaction.Record{}, false
	}
	return record, true
}

func (l *OutcomeListener) notifySender(ctx context.Context, record transaction.Record, kind, body string) {
	if record.FromWalletID == "" {
		return
	}
	sender, err := l.wallets.Get(ctx, record.FromWalletID)
	if err != nil {
		l.logger.Warn("sender wallet lookup failed", slog.String("wallet_id", record.FromWalletID), slog.Any("error", err))
		return
	}
	if err := l.notifier.Send(ctx, notification.Message{Kind: kind, Destination: sender.OwnerID, Body: body}); err != nil {
		l.logger.Warn("notification failed", slog.String("owner_id", sender.OwnerID), slog.Any("error", err))
	}
}
