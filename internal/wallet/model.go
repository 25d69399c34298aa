package wallet

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound indicates the wallet does not exist.
	ErrNotFound = errors.New("wallet not found")

	// ErrExists indicates the owner already has a wallet.
	ErrExists = errors.New("wallet already exists")

	// ErrInsufficientBalance occurs when the spendable balance cannot cover a
	// requested freeze.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrNegativeBalance indicates a mutation that would drive a balance
	// field below zero. All wallet fields are non-negative at all times.
	ErrNegativeBalance = errors.New("balance would go negative")
)

// Wallet is a stored-value account. Balance is settled and spendable,
// FrozenBalance is the sender-side hold of in-flight transfers, and
// UnreleasedBalance is receiver-side credit not yet spendable. Only ledger
// operations mutate these fields, always under the wallet's lock.
type Wallet struct {
	ID                string
	OwnerID           string
	Currency          string
	Balance           decimal.Decimal
	FrozenBalance     decimal.Decimal
	UnreleasedBalance decimal.Decimal
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Available is the spendable portion: settled balance minus in-flight holds.
func (w *Wallet) Available() decimal.Decimal {
	return w.Balance.Sub(w.FrozenBalance)
}

// Deposit adds settled funds.
func (w *Wallet) Deposit(amount decimal.Decimal) {
	w.Balance = w.Balance.Add(amount)
	w.touch()
}

// Freeze holds amount for an outgoing transfer without deducting it.
func (w *Wallet) Freeze(amount decimal.Decimal) error {
	if w.Available().LessThan(amount) {
		return ErrInsufficientBalance
	}
	w.FrozenBalance = w.FrozenBalance.Add(amount)
	w.touch()
	return nil
}

// Unfreeze releases a hold back to the spendable balance.
func (w *Wallet) Unfreeze(amount decimal.Decimal) error {
	if w.FrozenBalance.LessThan(amount) {
		return ErrNegativeBalance
	}
	w.FrozenBalance = w.FrozenBalance.Sub(amount)
	w.touch()
	return nil
}

// AddUnreleased credits incoming funds that are not yet spendable.
func (w *Wallet) AddUnreleased(amount decimal.Decimal) {
	w.UnreleasedBalance = w.UnreleasedBalance.Add(amount)
	w.touch()
}

// SettleDebit finalizes an outgoing transfer: the held amount leaves both the
// hold and the settled balance.
func (w *Wallet) SettleDebit(amount decimal.Decimal) error {
	if w.FrozenBalance.LessThan(amount) || w.Balance.LessThan(amount) {
		return ErrNegativeBalance
	}
	w.FrozenBalance = w.FrozenBalance.Sub(amount)
	w.Balance = w.Balance.Sub(amount)
	w.touch()
	return nil
}

// SettleCredit releases unreleased funds into the spendable balance.
func (w *Wallet) SettleCredit(amount decimal.Decimal) error {
	if w.UnreleasedBalance.LessThan(amount) {
		return ErrNegativeBalance
	}
	w.UnreleasedBalance = w.UnreleasedBalance.Sub(amount)
	w.Balance = w.Balance.Add(amount)
	w.touch()
	return nil
}

// ReverseCredit undoes an incoming credit during compensation. If the credit
// was still unreleased it is removed from the unreleased balance; if it had
// already been settled the amount is clawed back from the spendable balance.
func (w *Wallet) ReverseCredit(amount decimal.Decimal) error {
	if w.UnreleasedBalance.GreaterThanOrEqual(amount) {
		w.UnreleasedBalance = w.UnreleasedBalance.Sub(amount)
		w.touch()
		return nil
	}
	if w.Balance.LessThan(amount) {
		return ErrNegativeBalance
	}
	w.Balance = w.Balance.Sub(amount)
	w.touch()
	return nil
}

func (w *Wallet) touch() {
	w.UpdatedAt = time.Now().UTC()
}

// Balance is a point-in-time view of a wallet's funds.
type Balance struct {
	WalletID          string
	Balance           decimal.Decimal
	FrozenBalance     decimal.Decimal
	UnreleasedBalance decimal.Decimal
	AsOf              time.Time
}
