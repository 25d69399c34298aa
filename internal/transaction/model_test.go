package transaction

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func pendingRecord() Record {
	return Record{
		ID:             "r1",
		TransactionID:  "txn-1",
		FromWalletID:   "w1",
		ToWalletID:     "w2",
		Amount:         decimal.NewFromInt(50),
		TransferStatus: TransferPending,
		CreditStatus:   CreditPending,
	}
}

func TestHappyPathTransitions(t *testing.T) {
	record := pendingRecord()

	require.NoError(t, record.MarkFrozen())
	require.Equal(t, TransferFrozen, record.TransferStatus)

	require.NoError(t, record.MarkCredited("w2"))
	require.Equal(t, CreditSuccess, record.CreditStatus)

	require.NoError(t, record.MarkSettled())
	require.True(t, record.Terminal())
}

func TestSettleRequiresFrozen(t *testing.T) {
	record := pendingRecord()
	require.ErrorIs(t, record.MarkSettled(), ErrInvalidTransition)
}

func TestTerminalRecordsRejectMutation(t *testing.T) {
	record := pendingRecord()
	require.NoError(t, record.MarkFrozen())
	require.NoError(t, record.MarkCancelled("receiver unavailable"))

	require.ErrorIs(t, record.MarkFrozen(), ErrInvalidTransition)
	require.ErrorIs(t, record.MarkSettled(), ErrInvalidTransition)
	require.ErrorIs(t, record.MarkCancelled("again"), ErrInvalidTransition)
	require.Equal(t, "receiver unavailable", record.CancelReason)
}

func TestCreditStatusIsIndependentAxis(t *testing.T) {
	record := pendingRecord()
	require.NoError(t, record.MarkCredited("w2"))
	// Crediting twice is an illegal transition; the ledger treats the first
	// success as the idempotency marker instead.
	require.ErrorIs(t, record.MarkCredited("w2"), ErrInvalidTransition)
	require.Equal(t, TransferPending, record.TransferStatus)
}

func TestFailedRecordsReason(t *testing.T) {
	record := pendingRecord()
	require.NoError(t, record.MarkFailed("insufficient balance"))
	require.Equal(t, TransferFailed, record.TransferStatus)
	require.Equal(t, "insufficient balance", record.CancelReason)
	require.True(t, record.Terminal())
}
