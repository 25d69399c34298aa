// Package ledger is the wallet balance engine. Every operation acquires the
// relevant resource lock internally, commits its balance mutation and its
// saga-record mutation as one atomic unit, and is idempotent on the business
// transaction id so redelivered events never double-apply.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pesaflow/pesaflow/internal/audit"
	"github.com/pesaflow/pesaflow/internal/lock"
	"github.com/pesaflow/pesaflow/internal/transaction"
	"github.com/pesaflow/pesaflow/internal/wallet"
)

var (
	// ErrInvalidAmount rejects non-positive amounts before any lock is taken.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInvalidState indicates a protocol violation, e.g. confirming a
	// transfer that is not frozen with a completed credit. Not retryable.
	ErrInvalidState = errors.New("transfer not in a confirmable state")
)

const (
	walletLockPrefix = "wallet:"
	txnLockPrefix    = "transaction:"
)

// Engine sequences balance and record mutations under per-resource locks.
// Multi-wallet operations touch one wallet at a time; the record carries the
// progress markers that make a resumed confirm or cancel skip the steps that
// already committed.
type Engine struct {
	locks   lock.Manager
	wallets wallet.Repository
	records transaction.Repository
	store   Store
	auditor audit.Recorder
	logger  *slog.Logger
	lease   time.Duration
}

// NewEngine builds a ledger engine. A non-positive lease falls back to the
// lock package default.
func NewEngine(locks lock.Manager, wallets wallet.Repository, records transaction.Repository, store Store, auditor audit.Recorder, logger *slog.Logger, lease time.Duration) *Engine {
	if lease <= 0 {
		lease = lock.DefaultLease
	}
	return &Engine{locks: locks, wallets: wallets, records: records, store: store, auditor: auditor, logger: logger, lease: lease}
}

// TopUp deposits amount into the wallet as a single-phase operation. A record
// already existing for transactionID makes the call a no-op.
func (e *Engine) TopUp(ctx context.Context, walletID string, amount decimal.Decimal, transactionID string) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}

	return e.withLock(ctx, walletLockPrefix+walletID, func(ctx context.Context) error {
		if _, err := e.records.Get(ctx, transactionID); err == nil {
			return nil
		} else if !errors.Is(err, transaction.ErrNotFound) {
			return err
		}

		w, err := e.wallets.Get(ctx, walletID)
		if err != nil {
			return err
		}
		w.Deposit(amount)

		now := time.Now().UTC()
		record := transaction.Record{
			ID:             uuid.NewString(),
			TransactionID:  transactionID,
			ToWalletID:     walletID,
			Amount:         amount,
			TransferStatus: transaction.TransferSuccess,
			CreditStatus:   transaction.CreditSuccess,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := e.store.Commit(ctx, Unit{Wallets: []wallet.Wallet{w}, Insert: &record}); err != nil {
			return err
		}

		e.auditor.Record(ctx, audit.Entry{
			Action:        "TOP_UP",
			TransactionID: transactionID,
			WalletID:      walletID,
			Amount:        amount,
			Status:        string(record.TransferStatus),
			Description:   "wallet top up",
		})
		return nil
	})
}

// TransferOut is the freeze step: it reserves amount on the sender without
// deducting it. Idempotent once the record has moved past PENDING.
func (e *Engine) TransferOut(ctx context.Context, walletID string, amount decimal.Decimal, transactionID string) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}

	return e.withLock(ctx, walletLockPrefix+walletID, func(ctx context.Context) error {
		record, err := e.records.Get(ctx, transactionID)
		found := err == nil
		if err != nil && !errors.Is(err, transaction.ErrNotFound) {
			return err
		}
		if found && record.TransferStatus != transaction.TransferPending {
			return nil
		}

		w, err := e.wallets.Get(ctx, walletID)
		if err != nil {
			return err
		}
		if err := w.Freeze(amount); err != nil {
			return err
		}

		unit := Unit{Wallets: []wallet.Wallet{w}}
		if found {
			if err := record.MarkFrozen(); err != nil {
				return err
			}
			unit.Update = &record
		} else {
			// Intent creation normally persists the PENDING record first;
			// direct ledger callers get one created here.
			now := time.Now().UTC()
			record = transaction.Record{
				ID:             uuid.NewString(),
				TransactionID:  transactionID,
				FromWalletID:   walletID,
				Amount:         amount,
				TransferStatus: transaction.TransferFrozen,
				CreditStatus:   transaction.CreditPending,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			unit.Insert = &record
		}
		if err := e.store.Commit(ctx, unit); err != nil {
			return err
		}

		e.auditor.Record(ctx, audit.Entry{
			Action:        "BALANCE_FROZEN",
			TransactionID: transactionID,
			WalletID:      walletID,
			Amount:        amount,
			Status:        string(record.TransferStatus),
			Description:   "froze amount in sender wallet",
		})
		return nil
	})
}

// TransferIn is the credit step: it raises the receiver's unreleased balance.
// Idempotent once the credit axis reads SUCCESS.
func (e *Engine) TransferIn(ctx context.Context, walletID string, amount decimal.Decimal, transactionID string) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}

	return e.withLock(ctx, walletLockPrefix+walletID, func(ctx context.Context) error {
		record, err := e.records.Get(ctx, transactionID)
		if err != nil {
			return err
		}
		if record.Terminal() || record.CreditStatus == transaction.CreditSuccess {
			return nil
		}

		w, err := e.wallets.Get(ctx, walletID)
		if err != nil {
			return err
		}
		w.AddUnreleased(amount)

		if err := record.MarkCredited(walletID); err != nil {
			return err
		}
		if err := e.store.Commit(ctx, Unit{Wallets: []wallet.Wallet{w}, Update: &record}); err != nil {
			return err
		}

		e.auditor.Record(ctx, audit.Entry{
			Action:        "BALANCE_CREDITED",
			TransactionID: transactionID,
			WalletID:      walletID,
			Amount:        amount,
			Status:        string(record.CreditStatus),
			Description:   "credited receiver wallet (unreleased)",
		})
		return nil
	})
}

// ConfirmTransfer settles a transfer whose freeze and credit both completed:
// the held amount leaves the sender and the unreleased credit becomes
// spendable. Requires FROZEN with a successful, unreversed credit; anything
// else is an internal-consistency failure. Serialized against CancelTransfer
// by the transaction lock. The two wallet writes commit separately, each
// atomically with the record, so a failure between them is resumable: the
// DebitSettled marker makes a redelivered confirm skip straight to the
// receiver step.
func (e *Engine) ConfirmTransfer(ctx context.Context, transactionID string) error {
	return e.withLock(ctx, txnLockPrefix+transactionID, func(ctx context.Context) error {
		record, err := e.records.Get(ctx, transactionID)
		if err != nil {
			return err
		}
		if record.TransferStatus == transaction.TransferSuccess {
			return nil
		}
		if record.TransferStatus != transaction.TransferFrozen ||
			record.CreditStatus != transaction.CreditSuccess || record.CreditReversed {
			return fmt.Errorf("confirm %s: transfer=%s credit=%s reversed=%t: %w",
				transactionID, record.TransferStatus, record.CreditStatus, record.CreditReversed, ErrInvalidState)
		}

		if !record.DebitSettled {
			err = e.withLock(ctx, walletLockPrefix+record.FromWalletID, func(ctx context.Context) error {
				sender, err := e.wallets.Get(ctx, record.FromWalletID)
				if err != nil {
					return err
				}
				if err := sender.SettleDebit(record.Amount); err != nil {
					return err
				}
				record.MarkDebitSettled()
				return e.store.Commit(ctx, Unit{Wallets: []wallet.Wallet{sender}, Update: &record})
			})
			if err != nil {
				return err
			}
		}

		err = e.withLock(ctx, walletLockPrefix+record.ToWalletID, func(ctx context.Context) error {
			receiver, err := e.wallets.Get(ctx, record.ToWalletID)
			if err != nil {
				return err
			}
			if err := receiver.SettleCredit(record.Amount); err != nil {
				return err
			}
			if err := record.MarkSettled(); err != nil {
				return err
			}
			return e.store.Commit(ctx, Unit{Wallets: []wallet.Wallet{receiver}, Update: &record})
		})
		if err != nil {
			return err
		}

		e.auditor.Record(ctx, audit.Entry{
			Action:        "TRANSFER_SUCCESS",
			TransactionID: transactionID,
			WalletID:      record.FromWalletID,
			Amount:        record.Amount,
			Status:        string(record.TransferStatus),
			Description:   "transfer settled",
		})
		return nil
	})
}

// CancelTransfer compensates a partially applied transfer. It reverses only
// what the record shows as applied, is idempotent, and is a no-op when no
// record exists or the record is already terminal. Like confirm it commits
// one wallet at a time together with the record, using the CreditReversed
// marker to resume after a mid-cancel failure.
func (e *Engine) CancelTransfer(ctx context.Context, transactionID, reason string) error {
	return e.withLock(ctx, txnLockPrefix+transactionID, func(ctx context.Context) error {
		record, err := e.records.Get(ctx, transactionID)
		if err != nil {
			if errors.Is(err, transaction.ErrNotFound) {
				// Failure happened before the record was persisted.
				return nil
			}
			return err
		}
		if record.Terminal() {
			return nil
		}

		if record.CreditStatus == transaction.CreditSuccess && !record.CreditReversed && record.ToWalletID != "" {
			err = e.withLock(ctx, walletLockPrefix+record.ToWalletID, func(ctx context.Context) error {
				receiver, err := e.wallets.Get(ctx, record.ToWalletID)
				if err != nil {
					return err
				}
				if err := receiver.ReverseCredit(record.Amount); err != nil {
					return err
				}
				record.MarkCreditReversed()
				return e.store.Commit(ctx, Unit{Wallets: []wallet.Wallet{receiver}, Update: &record})
			})
			if err != nil {
				return err
			}
		}

		finalize := func(ctx context.Context, wallets []wallet.Wallet) error {
			if err := record.MarkCancelled(reason); err != nil {
				return err
			}
			return e.store.Commit(ctx, Unit{Wallets: wallets, Update: &record})
		}

		if record.FromWalletID != "" && (record.DebitSettled || record.TransferStatus == transaction.TransferFrozen) {
			err = e.withLock(ctx, walletLockPrefix+record.FromWalletID, func(ctx context.Context) error {
				sender, err := e.wallets.Get(ctx, record.FromWalletID)
				if err != nil {
					return err
				}
				if record.DebitSettled {
					// The hold already became a debit; refund it.
					sender.Deposit(record.Amount)
				} else if err := sender.Unfreeze(record.Amount); err != nil {
					return err
				}
				return finalize(ctx, []wallet.Wallet{sender})
			})
		} else {
			err = finalize(ctx, nil)
		}
		if err != nil {
			return err
		}

		e.auditor.Record(ctx, audit.Entry{
			Action:        "TRANSFER_CANCELLED",
			TransactionID: transactionID,
			WalletID:      record.FromWalletID,
			Amount:        record.Amount,
			Status:        string(record.TransferStatus),
			Description:   reason,
		})
		return nil
	})
}

// FailTransfer marks an intent as FAILED after a validation failure where
// nothing was mutated. No-op for missing or terminal records.
func (e *Engine) FailTransfer(ctx context.Context, transactionID, reason string) error {
	return e.withLock(ctx, txnLockPrefix+transactionID, func(ctx context.Context) error {
		record, err := e.records.Get(ctx, transactionID)
		if err != nil {
			if errors.Is(err, transaction.ErrNotFound) {
				return nil
			}
			return err
		}
		if record.Terminal() {
			return nil
		}

		if err := record.MarkFailed(reason); err != nil {
			return err
		}
		if err := e.records.Update(ctx, record); err != nil {
			return err
		}

		e.auditor.Record(ctx, audit.Entry{
			Action:        "TRANSFER_FAILED",
			TransactionID: transactionID,
			WalletID:      record.FromWalletID,
			Amount:        record.Amount,
			Status:        string(record.TransferStatus),
			Description:   reason,
		})
		return nil
	})
}

// withLock runs fn while holding the lease on key. The lock is released on
// every exit path; release failures are logged, not propagated, since the
// lease expires on its own.
func (e *Engine) withLock(ctx context.Context, key string, fn func(context.Context) error) error {
	held, err := e.locks.Acquire(ctx, key, e.lease)
	if err != nil {
		return fmt.Errorf("lock %s: %w", key, err)
	}
	defer func() {
		if err := held.Release(ctx); err != nil {
			e.logger.Warn("lock release failed", slog.String("key", key), slog.Any("error", err))
		}
	}()

	return fn(ctx)
}
