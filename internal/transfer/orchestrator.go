package transfer

import (
	"context"
	"errors"
	"log/slog"

	"github.com/pesaflow/pesaflow/internal/event"
	"github.com/pesaflow/pesaflow/internal/ledger"
	"github.com/pesaflow/pesaflow/internal/lock"
	"github.com/pesaflow/pesaflow/internal/transaction"
	"github.com/pesaflow/pesaflow/internal/wallet"
)

// Orchestrator drives a transfer intent through the ledger:
// freeze on the sender, credit on the receiver, then settle — or the
// compensating cancel on failure. Every ledger step is idempotent on the
// transaction id, so a redelivered intent resumes from persisted state.
type Orchestrator struct {
	engine  *ledger.Engine
	records transaction.Repository
	bus     event.Bus
	logger  *slog.Logger
}

// NewOrchestrator builds the saga orchestrator.
func NewOrchestrator(engine *ledger.Engine, records transaction.Repository, bus event.Bus, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{engine: engine, records: records, bus: bus, logger: logger}
}

// Register subscribes the orchestrator to transfer intents.
func (o *Orchestrator) Register(bus event.Bus) {
	bus.Subscribe(event.TopicTransferRequested, o.HandleIntent)
}

// HandleIntent processes one transfer-intent delivery. Returning an error
// asks the bus for redelivery; retryable failures (lock lease timeouts) are
// the only case that does so. Every other path ends in a published outcome.
func (o *Orchestrator) HandleIntent(ctx context.Context, delivery event.Envelope) error {
	intent, ok := delivery.Payload.(event.TransferRequested)
	if !ok {
		o.logger.Error("malformed transfer intent dropped", slog.String("key", delivery.Key))
		return nil
	}

	txnID := intent.TransactionID
	logger := o.logger.With(slog.String("transaction_id", txnID))

	// A redelivered intent whose record is already terminal only needs its
	// outcome republished. One with a partially applied compensation resumes
	// the rollback instead of moving forward.
	if record, err := o.records.Get(ctx, txnID); err == nil {
		if record.Terminal() {
			return o.publishTerminal(ctx, record, logger)
		}
		if record.CreditReversed {
			return o.rollback(ctx, txnID, "resuming interrupted rollback", logger)
		}
	}

	if err := o.engine.TransferOut(ctx, intent.FromWalletID, intent.Amount, txnID); err != nil {
		switch {
		case retryable(err):
			return err
		case errors.Is(err, wallet.ErrInsufficientBalance) || errors.Is(err, ledger.ErrInvalidAmount):
			// Nothing was mutated; no compensation needed.
			return o.fail(ctx, txnID, err.Error(), logger)
		default:
			return o.rollback(ctx, txnID, "freeze failed: "+err.Error(), logger)
		}
	}

	if err := o.engine.TransferIn(ctx, intent.ToWalletID, intent.Amount, txnID); err != nil {
		if retryable(err) {
			return err
		}
		return o.rollback(ctx, txnID, "credit failed: "+err.Error(), logger)
	}

	if err := o.engine.ConfirmTransfer(ctx, txnID); err != nil {
		switch {
		case retryable(err):
			return err
		case errors.Is(err, ledger.ErrInvalidState):
			// Protocol violation: needs manual investigation, not blind
			// compensation.
			logger.Error("confirm rejected by state machine", slog.Any("error", err))
			return o.publishOutcome(ctx, event.TopicTransferFailed, txnID, err.Error(), logger)
		default:
			return o.rollback(ctx, txnID, "confirm failed: "+err.Error(), logger)
		}
	}

	logger.Info("transfer settled")
	return o.publishOutcome(ctx, event.TopicTransferSucceeded, txnID, "", logger)
}

// fail marks the intent FAILED and publishes the failed outcome.
func (o *Orchestrator) fail(ctx context.Context, txnID, reason string, logger *slog.Logger) error {
	if err := o.engine.FailTransfer(ctx, txnID, reason); err != nil {
		if retryable(err) {
			return err
		}
		logger.Error("marking transfer failed", slog.Any("error", err))
	}
	logger.Warn("transfer failed", slog.String("reason", reason))
	return o.publishOutcome(ctx, event.TopicTransferFailed, txnID, reason, logger)
}

// rollback compensates whatever was applied and publishes the rollback
// outcome. Any cancellation failure defers to redelivery: compensation is
// resumable, so retrying is always safer than abandoning it half-applied.
func (o *Orchestrator) rollback(ctx context.Context, txnID, reason string, logger *slog.Logger) error {
	if err := o.engine.CancelTransfer(ctx, txnID, reason); err != nil {
		logger.Error("compensation failed, awaiting redelivery", slog.String("reason", reason), slog.Any("error", err))
		return err
	}
	logger.Warn("transfer rolled back", slog.String("reason", reason))
	return o.publishOutcome(ctx, event.TopicTransferRolledBack, txnID, reason, logger)
}

func (o *Orchestrator) publishTerminal(ctx context.Context, record transaction.Record, logger *slog.Logger) error {
	switch record.TransferStatus {
	case transaction.TransferSuccess:
		return o.publishOutcome(ctx, event.TopicTransferSucceeded, record.TransactionID, "", logger)
	case transaction.TransferCancelled:
		return o.publishOutcome(ctx, event.TopicTransferRolledBack, record.TransactionID, record.CancelReason, logger)
	default:
		return o.publishOutcome(ctx, event.TopicTransferFailed, record.TransactionID, record.CancelReason, logger)
	}
}

func (o *Orchestrator) publishOutcome(ctx context.Context, topic, txnID, reason string, logger *slog.Logger) error {
	err := o.bus.Publish(ctx, topic, txnID, event.TransferOutcome{TransactionID: txnID, Reason: reason})
	if err != nil {
		logger.Error("publishing outcome", slog.String("topic", topic), slog.Any("error", err))
		return err
	}
	return nil
}

func retryable(err error) bool {
	return errors.Is(err, lock.ErrAcquireTimeout)
}
