// Package transaction holds the per-transfer saga record and its status
// machine. The record's business id doubles as the idempotency key for every
// ledger operation.
package transaction

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound indicates no record exists for the transaction id.
	ErrNotFound = errors.New("transaction not found")

	// ErrDuplicate indicates a record already exists for the transaction id.
	ErrDuplicate = errors.New("transaction already exists")

	// ErrInvalidTransition indicates an illegal status change was attempted.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// TransferStatus tracks the sender-side saga axis.
type TransferStatus string

const (
	TransferPending   TransferStatus = "PENDING"
	TransferFrozen    TransferStatus = "FROZEN"
	TransferSuccess   TransferStatus = "SUCCESS"
	TransferFailed    TransferStatus = "FAILED"
	TransferCancelled TransferStatus = "CANCELLED"
)

// CreditStatus tracks the receiver-side axis independently.
type CreditStatus string

const (
	CreditPending CreditStatus = "PENDING"
	CreditSuccess CreditStatus = "SUCCESS"
	CreditFailed  CreditStatus = "FAILED"
)

var transferTransitions = map[TransferStatus][]TransferStatus{
	TransferPending: {TransferFrozen, TransferFailed, TransferCancelled},
	TransferFrozen:  {TransferSuccess, TransferCancelled},
}

var creditTransitions = map[CreditStatus][]CreditStatus{
	CreditPending: {CreditSuccess, CreditFailed},
}

// CanTransitionTo reports whether the transfer axis may move to next.
func (s TransferStatus) CanTransitionTo(next TransferStatus) bool {
	for _, allowed := range transferTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// CanTransitionTo reports whether the credit axis may move to next.
func (s CreditStatus) CanTransitionTo(next CreditStatus) bool {
	for _, allowed := range creditTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Record is the saga state for a single transfer, keyed by the
// caller-supplied business transaction id. Records are never deleted.
type Record struct {
	ID             string
	TransactionID  string
	FromWalletID   string // empty for pure deposits
	ToWalletID     string
	Amount         decimal.Decimal
	TransferStatus TransferStatus
	CreditStatus   CreditStatus
	// DebitSettled marks that the sender's hold was converted into a debit
	// during settlement. It lets a redelivered confirm resume at the
	// receiver step instead of double-applying the debit.
	DebitSettled bool
	// CreditReversed marks that the receiver's credit was compensated, so a
	// redelivered cancel resumes at the sender step.
	CreditReversed bool
	CancelReason   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Terminal reports whether the record accepts no further transfer mutations.
func (r *Record) Terminal() bool {
	switch r.TransferStatus {
	case TransferSuccess, TransferFailed, TransferCancelled:
		return true
	}
	return false
}

// MarkFrozen moves the transfer axis PENDING -> FROZEN after funds were held.
func (r *Record) MarkFrozen() error {
	return r.setTransferStatus(TransferFrozen)
}

// MarkCredited records the receiver credit and completes the credit axis.
func (r *Record) MarkCredited(toWalletID string) error {
	if !r.CreditStatus.CanTransitionTo(CreditSuccess) {
		return fmt.Errorf("credit %s -> %s: %w", r.CreditStatus, CreditSuccess, ErrInvalidTransition)
	}
	r.ToWalletID = toWalletID
	r.CreditStatus = CreditSuccess
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkDebitSettled records that the sender's hold became a debit. The
// transfer axis stays FROZEN until the receiver side settles too.
func (r *Record) MarkDebitSettled() {
	r.DebitSettled = true
	r.UpdatedAt = time.Now().UTC()
}

// MarkCreditReversed records that the receiver's credit was compensated.
func (r *Record) MarkCreditReversed() {
	r.CreditReversed = true
	r.UpdatedAt = time.Now().UTC()
}

// MarkSettled finalizes a confirmed transfer.
func (r *Record) MarkSettled() error {
	return r.setTransferStatus(TransferSuccess)
}

// MarkCancelled records the compensating rollback with its reason.
func (r *Record) MarkCancelled(reason string) error {
	if err := r.setTransferStatus(TransferCancelled); err != nil {
		return err
	}
	r.CancelReason = reason
	return nil
}

// MarkFailed records a validation failure where nothing was mutated.
func (r *Record) MarkFailed(reason string) error {
	if err := r.setTransferStatus(TransferFailed); err != nil {
		return err
	}
	r.CancelReason = reason
	return nil
}

func (r *Record) setTransferStatus(next TransferStatus) error {
	if !r.TransferStatus.CanTransitionTo(next) {
		return fmt.Errorf("transfer %s -> %s: %w", r.TransferStatus, next, ErrInvalidTransition)
	}
	r.TransferStatus = next
	r.UpdatedAt = time.Now().UTC()
	return nil
}
