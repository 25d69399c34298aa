package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/pesaflow/pesaflow/internal/audit"
	"github.com/pesaflow/pesaflow/internal/lock"
	"github.com/pesaflow/pesaflow/internal/logging"
	"github.com/pesaflow/pesaflow/internal/transaction"
	"github.com/pesaflow/pesaflow/internal/wallet"
)

type testEnv struct {
	engine  *Engine
	wallets wallet.Repository
	records transaction.Repository
	store   *flakyStore
}

// flakyStore fails the n-th commit once, simulating a storage outage in the
// middle of a multi-step operation.
type flakyStore struct {
	inner  Store
	failOn int
	calls  int
}

func (s *flakyStore) Commit(ctx context.Context, unit Unit) error {
	s.calls++
	if s.calls == s.failOn {
		return errors.New("storage unavailable")
	}
	return s.inner.Commit(ctx, unit)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	wallets := wallet.NewMemoryRepository()
	records := transaction.NewMemoryRepository()
	store := &flakyStore{inner: NewMemoryStore(wallets, records)}
	logger := logging.Discard()
	engine := NewEngine(lock.NewLocalManager(), wallets, records, store, audit.NewLogRecorder(logger), logger, time.Second)
	return &testEnv{engine: engine, wallets: wallets, records: records, store: store}
}

func (env *testEnv) newWallet(t *testing.T, id string, balance int64) {
	t.Helper()
	now := time.Now().UTC()
	w := wallet.Wallet{
		ID:        id,
		OwnerID:   "owner-" + id,
		Currency:  "KES",
		Balance:   decimal.NewFromInt(balance),
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, env.wallets.Create(context.Background(), w))
}

func (env *testEnv) wallet(t *testing.T, id string) wallet.Wallet {
	t.Helper()
	w, err := env.wallets.Get(context.Background(), id)
	require.NoError(t, err)
	return w
}

func (env *testEnv) intent(t *testing.T, from, to string, amount int64, txnID string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, env.records.Create(context.Background(), transaction.Record{
		ID:             "rec-" + txnID,
		TransactionID:  txnID,
		FromWalletID:   from,
		ToWalletID:     to,
		Amount:         decimal.NewFromInt(amount),
		TransferStatus: transaction.TransferPending,
		CreditStatus:   transaction.CreditPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}))
}

func requireAmount(t *testing.T, want int64, got decimal.Decimal) {
	t.Helper()
	require.True(t, decimal.NewFromInt(want).Equal(got), "want %d, got %s", want, got)
}

func TestTopUpIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.newWallet(t, "a", 0)

	amount := decimal.NewFromInt(100)
	require.NoError(t, env.engine.TopUp(ctx, "a", amount, "t1"))
	require.NoError(t, env.engine.TopUp(ctx, "a", amount, "t1"))

	requireAmount(t, 100, env.wallet(t, "a").Balance)

	record, err := env.records.Get(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, transaction.TransferSuccess, record.TransferStatus)
	require.Equal(t, transaction.CreditSuccess, record.CreditStatus)
	require.Empty(t, record.FromWalletID)
}

func TestTopUpRejectsNonPositiveAmount(t *testing.T) {
	env := newTestEnv(t)
	env.newWallet(t, "a", 0)

	err := env.engine.TopUp(context.Background(), "a", decimal.Zero, "t1")
	require.ErrorIs(t, err, ErrInvalidAmount)

	err = env.engine.TopUp(context.Background(), "a", decimal.NewFromInt(-5), "t2")
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestTransferHappyPath(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.newWallet(t, "a", 0)
	env.newWallet(t, "b", 0)

	require.NoError(t, env.engine.TopUp(ctx, "a", decimal.NewFromInt(100), "t1"))
	requireAmount(t, 100, env.wallet(t, "a").Balance)

	env.intent(t, "a", "b", 50, "t2")
	amount := decimal.NewFromInt(50)

	require.NoError(t, env.engine.TransferOut(ctx, "a", amount, "t2"))
	a := env.wallet(t, "a")
	requireAmount(t, 100, a.Balance)
	requireAmount(t, 50, a.FrozenBalance)

	require.NoError(t, env.engine.TransferIn(ctx, "b", amount, "t2"))
	b := env.wallet(t, "b")
	requireAmount(t, 0, b.Balance)
	requireAmount(t, 50, b.UnreleasedBalance)

	require.NoError(t, env.engine.ConfirmTransfer(ctx, "t2"))

	a, b = env.wallet(t, "a"), env.wallet(t, "b")
	requireAmount(t, 50, a.Balance)
	requireAmount(t, 0, a.FrozenBalance)
	requireAmount(t, 50, b.Balance)
	requireAmount(t, 0, b.UnreleasedBalance)

	record, err := env.records.Get(ctx, "t2")
	require.NoError(t, err)
	require.Equal(t, transaction.TransferSuccess, record.TransferStatus)
}

func TestTransferStepsAreIdempotentOnRedelivery(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.newWallet(t, "a", 100)
	env.newWallet(t, "b", 0)
	env.intent(t, "a", "b", 40, "t1")
	amount := decimal.NewFromInt(40)

	require.NoError(t, env.engine.TransferOut(ctx, "a", amount, "t1"))
	require.NoError(t, env.engine.TransferOut(ctx, "a", amount, "t1"))
	requireAmount(t, 40, env.wallet(t, "a").FrozenBalance)

	require.NoError(t, env.engine.TransferIn(ctx, "b", amount, "t1"))
	require.NoError(t, env.engine.TransferIn(ctx, "b", amount, "t1"))
	requireAmount(t, 40, env.wallet(t, "b").UnreleasedBalance)

	require.NoError(t, env.engine.ConfirmTransfer(ctx, "t1"))
	require.NoError(t, env.engine.ConfirmTransfer(ctx, "t1"))

	a, b := env.wallet(t, "a"), env.wallet(t, "b")
	requireAmount(t, 60, a.Balance)
	requireAmount(t, 0, a.FrozenBalance)
	requireAmount(t, 40, b.Balance)
	requireAmount(t, 0, b.UnreleasedBalance)
}

func TestTransferOutInsufficientBalance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.newWallet(t, "a", 30)
	env.intent(t, "a", "b", 50, "t1")

	err := env.engine.TransferOut(ctx, "a", decimal.NewFromInt(50), "t1")
	require.ErrorIs(t, err, wallet.ErrInsufficientBalance)

	a := env.wallet(t, "a")
	requireAmount(t, 30, a.Balance)
	requireAmount(t, 0, a.FrozenBalance)
}

func TestFrozenFundsAreNotSpendable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.newWallet(t, "a", 100)
	env.intent(t, "a", "b", 80, "t1")
	env.intent(t, "a", "b", 30, "t2")

	require.NoError(t, env.engine.TransferOut(ctx, "a", decimal.NewFromInt(80), "t1"))

	// 20 available even though balance still reads 100.
	err := env.engine.TransferOut(ctx, "a", decimal.NewFromInt(30), "t2")
	require.ErrorIs(t, err, wallet.ErrInsufficientBalance)
}

func TestConcurrentFreezesRespectAvailableBalance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.newWallet(t, "a", 100)
	env.intent(t, "a", "b", 60, "x")
	env.intent(t, "a", "b", 60, "y")

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, txnID := range []string{"x", "y"} {
		wg.Add(1)
		go func(i int, txnID string) {
			defer wg.Done()
			results[i] = env.engine.TransferOut(ctx, "a", decimal.NewFromInt(60), txnID)
		}(i, txnID)
	}
	wg.Wait()

	var failures int
	for _, err := range results {
		if err != nil {
			require.ErrorIs(t, err, wallet.ErrInsufficientBalance)
			failures++
		}
	}
	require.Equal(t, 1, failures, "exactly one of the two freezes must fail")
	requireAmount(t, 60, env.wallet(t, "a").FrozenBalance)
}

func TestCancelAfterFreezeRestoresSender(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.newWallet(t, "a", 100)
	env.intent(t, "a", "b", 50, "t3")

	require.NoError(t, env.engine.TransferOut(ctx, "a", decimal.NewFromInt(50), "t3"))
	require.NoError(t, env.engine.CancelTransfer(ctx, "t3", "receiver unavailable"))

	a := env.wallet(t, "a")
	requireAmount(t, 100, a.Balance)
	requireAmount(t, 0, a.FrozenBalance)

	record, err := env.records.Get(ctx, "t3")
	require.NoError(t, err)
	require.Equal(t, transaction.TransferCancelled, record.TransferStatus)
	require.Equal(t, "receiver unavailable", record.CancelReason)
}

func TestCancelAfterCreditReversesReceiver(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.newWallet(t, "a", 100)
	env.newWallet(t, "b", 0)
	env.intent(t, "a", "b", 50, "t1")
	amount := decimal.NewFromInt(50)

	require.NoError(t, env.engine.TransferOut(ctx, "a", amount, "t1"))
	require.NoError(t, env.engine.TransferIn(ctx, "b", amount, "t1"))
	require.NoError(t, env.engine.CancelTransfer(ctx, "t1", "confirm failed"))

	a, b := env.wallet(t, "a"), env.wallet(t, "b")
	requireAmount(t, 100, a.Balance)
	requireAmount(t, 0, a.FrozenBalance)
	requireAmount(t, 0, b.Balance)
	requireAmount(t, 0, b.UnreleasedBalance)
}

func TestCancelWithoutRecordIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.engine.CancelTransfer(context.Background(), "missing", "whatever"))
}

func TestCancelAfterConfirmIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.newWallet(t, "a", 100)
	env.newWallet(t, "b", 0)
	env.intent(t, "a", "b", 50, "t1")
	amount := decimal.NewFromInt(50)

	require.NoError(t, env.engine.TransferOut(ctx, "a", amount, "t1"))
	require.NoError(t, env.engine.TransferIn(ctx, "b", amount, "t1"))
	require.NoError(t, env.engine.ConfirmTransfer(ctx, "t1"))

	// The transaction lock serializes confirm and cancel; the loser no-ops.
	require.NoError(t, env.engine.CancelTransfer(ctx, "t1", "late cancel"))

	b := env.wallet(t, "b")
	requireAmount(t, 50, b.Balance)

	record, err := env.records.Get(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, transaction.TransferSuccess, record.TransferStatus)
}

func TestConfirmWithoutCreditIsInvalidState(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.newWallet(t, "a", 100)
	env.intent(t, "a", "b", 50, "t1")

	require.NoError(t, env.engine.TransferOut(ctx, "a", decimal.NewFromInt(50), "t1"))

	err := env.engine.ConfirmTransfer(ctx, "t1")
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestConfirmPendingIsInvalidState(t *testing.T) {
	env := newTestEnv(t)
	env.intent(t, "a", "b", 50, "t1")

	err := env.engine.ConfirmTransfer(context.Background(), "t1")
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestBalancesNeverGoNegative(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.newWallet(t, "a", 10)
	env.newWallet(t, "b", 0)
	env.intent(t, "a", "b", 10, "t1")
	amount := decimal.NewFromInt(10)

	require.NoError(t, env.engine.TransferOut(ctx, "a", amount, "t1"))
	require.NoError(t, env.engine.TransferIn(ctx, "b", amount, "t1"))
	require.NoError(t, env.engine.ConfirmTransfer(ctx, "t1"))

	for _, id := range []string{"a", "b"} {
		w := env.wallet(t, id)
		require.False(t, w.Balance.IsNegative())
		require.False(t, w.FrozenBalance.IsNegative())
		require.False(t, w.UnreleasedBalance.IsNegative())
	}
}

func TestFailTransferRecordsReason(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.intent(t, "a", "b", 50, "t1")

	require.NoError(t, env.engine.FailTransfer(ctx, "t1", "insufficient balance"))
	// Terminal records ignore repeated failure marking.
	require.NoError(t, env.engine.FailTransfer(ctx, "t1", "other reason"))

	record, err := env.records.Get(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, transaction.TransferFailed, record.TransferStatus)
	require.Equal(t, "insufficient balance", record.CancelReason)
}

func TestTransferToUnknownWallet(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.newWallet(t, "a", 100)
	env.intent(t, "a", "ghost", 50, "t1")

	require.NoError(t, env.engine.TransferOut(ctx, "a", decimal.NewFromInt(50), "t1"))

	err := env.engine.TransferIn(ctx, "ghost", decimal.NewFromInt(50), "t1")
	require.ErrorIs(t, err, wallet.ErrNotFound)

	// Compensation restores the sender's hold.
	require.NoError(t, env.engine.CancelTransfer(ctx, "t1", "receiver not found"))
	requireAmount(t, 0, env.wallet(t, "a").FrozenBalance)
	requireAmount(t, 100, env.wallet(t, "a").Balance)
}

func TestConfirmResumesAfterReceiverWriteFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.newWallet(t, "a", 100)
	env.newWallet(t, "b", 0)
	env.intent(t, "a", "b", 50, "t1")
	amount := decimal.NewFromInt(50)

	require.NoError(t, env.engine.TransferOut(ctx, "a", amount, "t1"))
	require.NoError(t, env.engine.TransferIn(ctx, "b", amount, "t1"))

	// Commits so far: freeze, credit. Fail the receiver-side settle commit.
	env.store.failOn = env.store.calls + 2
	require.Error(t, env.engine.ConfirmTransfer(ctx, "t1"))

	// Sender side committed atomically with the progress marker.
	a := env.wallet(t, "a")
	requireAmount(t, 50, a.Balance)
	requireAmount(t, 0, a.FrozenBalance)
	record, err := env.records.Get(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, transaction.TransferFrozen, record.TransferStatus)
	require.True(t, record.DebitSettled)
	requireAmount(t, 50, env.wallet(t, "b").UnreleasedBalance)

	// The redelivered confirm skips the debit and finishes the settlement.
	require.NoError(t, env.engine.ConfirmTransfer(ctx, "t1"))

	a, b := env.wallet(t, "a"), env.wallet(t, "b")
	requireAmount(t, 50, a.Balance)
	requireAmount(t, 50, b.Balance)
	requireAmount(t, 0, b.UnreleasedBalance)

	record, err = env.records.Get(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, transaction.TransferSuccess, record.TransferStatus)
}

func TestCancelRefundsSettledDebit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.newWallet(t, "a", 100)
	env.newWallet(t, "b", 0)
	env.intent(t, "a", "b", 50, "t1")
	amount := decimal.NewFromInt(50)

	require.NoError(t, env.engine.TransferOut(ctx, "a", amount, "t1"))
	require.NoError(t, env.engine.TransferIn(ctx, "b", amount, "t1"))

	env.store.failOn = env.store.calls + 2
	require.Error(t, env.engine.ConfirmTransfer(ctx, "t1"))

	// The debit already left the sender; cancelling must refund it, not
	// unfreeze it.
	require.NoError(t, env.engine.CancelTransfer(ctx, "t1", "settlement aborted"))

	a, b := env.wallet(t, "a"), env.wallet(t, "b")
	requireAmount(t, 100, a.Balance)
	requireAmount(t, 0, a.FrozenBalance)
	requireAmount(t, 0, b.Balance)
	requireAmount(t, 0, b.UnreleasedBalance)

	record, err := env.records.Get(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, transaction.TransferCancelled, record.TransferStatus)
}

func TestCancelResumesAfterPartialCompensation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.newWallet(t, "a", 100)
	env.newWallet(t, "b", 0)
	env.intent(t, "a", "b", 50, "t1")
	amount := decimal.NewFromInt(50)

	require.NoError(t, env.engine.TransferOut(ctx, "a", amount, "t1"))
	require.NoError(t, env.engine.TransferIn(ctx, "b", amount, "t1"))

	// The credit reversal commits, then the sender-side commit fails.
	env.store.failOn = env.store.calls + 2
	require.Error(t, env.engine.CancelTransfer(ctx, "t1", "receiver rejected"))

	record, err := env.records.Get(ctx, "t1")
	require.NoError(t, err)
	require.False(t, record.Terminal())
	require.True(t, record.CreditReversed)
	requireAmount(t, 0, env.wallet(t, "b").UnreleasedBalance)

	// The redelivered cancel skips the reversal and releases the hold.
	require.NoError(t, env.engine.CancelTransfer(ctx, "t1", "receiver rejected"))

	a := env.wallet(t, "a")
	requireAmount(t, 100, a.Balance)
	requireAmount(t, 0, a.FrozenBalance)

	record, err = env.records.Get(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, transaction.TransferCancelled, record.TransferStatus)
}

func TestConcurrentConfirmAndCancelYieldOneOutcome(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.newWallet(t, "a", 100)
	env.newWallet(t, "b", 0)
	env.intent(t, "a", "b", 50, "t1")
	amount := decimal.NewFromInt(50)

	require.NoError(t, env.engine.TransferOut(ctx, "a", amount, "t1"))
	require.NoError(t, env.engine.TransferIn(ctx, "b", amount, "t1"))

	var wg sync.WaitGroup
	var confirmErr, cancelErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		confirmErr = env.engine.ConfirmTransfer(ctx, "t1")
	}()
	go func() {
		defer wg.Done()
		cancelErr = env.engine.CancelTransfer(ctx, "t1", "raced")
	}()
	wg.Wait()

	// Cancel always returns cleanly: it either wins or no-ops on the settled
	// record. Confirm either wins or is rejected because the cancel reversed
	// the credit first.
	require.NoError(t, cancelErr)
	if confirmErr != nil {
		require.ErrorIs(t, confirmErr, ErrInvalidState)
	}

	record, err := env.records.Get(ctx, "t1")
	require.NoError(t, err)
	a, b := env.wallet(t, "a"), env.wallet(t, "b")
	requireAmount(t, 0, a.FrozenBalance)
	requireAmount(t, 0, b.UnreleasedBalance)

	switch record.TransferStatus {
	case transaction.TransferSuccess:
		require.NoError(t, confirmErr)
		requireAmount(t, 50, a.Balance)
		requireAmount(t, 50, b.Balance)
	case transaction.TransferCancelled:
		requireAmount(t, 100, a.Balance)
		requireAmount(t, 0, b.Balance)
	default:
		t.Fatalf("record not terminal after the race: %s", record.TransferStatus)
	}
}
