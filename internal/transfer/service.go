// Package transfer exposes the transfer intent surface and the saga
// orchestration that drives an intent through freeze, credit and settle — or
// the compensating cancel — on top of the ledger engine.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pesaflow/pesaflow/internal/audit"
	"github.com/pesaflow/pesaflow/internal/event"
	"github.com/pesaflow/pesaflow/internal/ledger"
	"github.com/pesaflow/pesaflow/internal/transaction"
	"github.com/pesaflow/pesaflow/internal/wallet"
)

// ErrSameWallet rejects transfers where sender and receiver are one wallet.
var ErrSameWallet = errors.New("cannot transfer to the same wallet")

// systemWalletLabel stands in for an absent counterparty in summaries, e.g.
// the source side of a top up.
const systemWalletLabel = "SYSTEM"

// Service creates transfer intents and serves transaction queries.
type Service struct {
	wallets wallet.Repository
	records transaction.Repository
	bus     event.Bus
	auditor audit.Recorder
}

// NewService builds the intent service.
func NewService(wallets wallet.Repository, records transaction.Repository, bus event.Bus, auditor audit.Recorder) *Service {
	return &Service{wallets: wallets, records: records, bus: bus, auditor: auditor}
}

// CreateIntent persists the PENDING saga record and publishes the intent
// event, returning the business transaction id. The transfer itself completes
// asynchronously; callers observe the outcome via events or status queries.
func (s *Service) CreateIntent(ctx context.Context, fromWalletID, toWalletID string, amount decimal.Decimal) (string, error) {
	if !amount.IsPositive() {
		return "", ledger.ErrInvalidAmount
	}
	if fromWalletID == toWalletID {
		return "", ErrSameWallet
	}

	if _, err := s.wallets.Get(ctx, fromWalletID); err != nil {
		return "", fmt.Errorf("sender: %w", err)
	}
	if _, err := s.wallets.Get(ctx, toWalletID); err != nil {
		return "", fmt.Errorf("receiver: %w", err)
	}

	transactionID := uuid.NewString()
	now := time.Now().UTC()
	record := transaction.Record{
		ID:             uuid.NewString(),
		TransactionID:  transactionID,
		FromWalletID:   fromWalletID,
		ToWalletID:     toWalletID,
		Amount:         amount,
		TransferStatus: transaction.TransferPending,
		CreditStatus:   transaction.CreditPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.records.Create(ctx, record); err != nil {
		return "", err
	}

	s.auditor.Record(ctx, audit.Entry{
		Action:        "TRANSFER_INITIATED",
		TransactionID: transactionID,
		WalletID:      fromWalletID,
		Amount:        amount,
		Status:        string(record.TransferStatus),
		Description:   "transfer intent created",
	})

	err := s.bus.Publish(ctx, event.TopicTransferRequested, transactionID, event.TransferRequested{
		TransactionID: transactionID,
		FromWalletID:  fromWalletID,
		ToWalletID:    toWalletID,
		Amount:        amount,
	})
	if err != nil {
		// Without the intent event no orchestrator will ever drive this
		// record; close it out rather than leave a dangling PENDING row.
		if markErr := record.MarkFailed("intent publish failed"); markErr == nil {
			if updateErr := s.records.Update(ctx, record); updateErr == nil {
				s.auditor.Record(ctx, audit.Entry{
					Action:        "TRANSFER_FAILED",
					TransactionID: transactionID,
					WalletID:      fromWalletID,
					Amount:        amount,
					Status:        string(record.TransferStatus),
					Description:   "intent publish failed",
				})
			}
		}
		return "", err
	}

	return transactionID, nil
}

// Summary is the query view of a saga record.
type Summary struct {
	TransactionID  string          `json:"transactionId"`
	FromWalletID   string          `json:"fromWalletId"`
	ToWalletID     string          `json:"toWalletId"`
	Amount         decimal.Decimal `json:"amount"`
	TransferStatus string          `json:"transferStatus"`
	CreditStatus   string          `json:"creditStatus"`
	CancelReason   string          `json:"cancelReason,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// History returns the wallet's transaction summaries, most recent first.
func (s *Service) History(ctx context.Context, walletID string) ([]Summary, error) {
	if _, err := s.wallets.Get(ctx, walletID); err != nil {
		return nil, err
	}

	records, err := s.records.ListByWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}

	summaries := make([]Summary, 0, len(records))
	for _, record := range records {
		summaries = append(summaries, toSummary(record))
	}
	return summaries, nil
}

// Details returns the summary for a single business transaction id.
func (s *Service) Details(ctx context.Context, transactionID string) (Summary, error) {
	record, err := s.records.Get(ctx, transactionID)
	if err != nil {
		return Summary{}, err
	}
	return toSummary(record), nil
}

func toSummary(record transaction.Record) Summary {
	from := record.FromWalletID
	if from == "" {
		from = systemWalletLabel
	}
	to := record.ToWalletID
	if to == "" {
		to = systemWalletLabel
	}
	return Summary{
		TransactionID:  record.TransactionID,
		FromWalletID:   from,
		ToWalletID:     to,
		Amount:         record.Amount,
		TransferStatus: string(record.TransferStatus),
		CreditStatus:   string(record.CreditStatus),
		CancelReason:   record.CancelReason,
		CreatedAt:      record.CreatedAt,
		UpdatedAt:      record.UpdatedAt,
	}
}
