package ledger

import (
	"context"

	"github.com/pesaflow/pesaflow/internal/transaction"
	"github.com/pesaflow/pesaflow/internal/wallet"
)

// Unit is one atomic ledger mutation: the wallet saves plus at most one
// record insert or update, committed together or not at all.
type Unit struct {
	Wallets []wallet.Wallet
	Insert  *transaction.Record
	Update  *transaction.Record
}

// Store commits units. An error means nothing in the unit was applied.
type Store interface {
	Commit(ctx context.Context, unit Unit) error
}

// memoryStore commits against the in-memory repositories. It validates every
// write first; in-memory writes cannot fail after validation, and the engine's
// locks keep other writers out, so the sequential applies behave atomically.
type memoryStore struct {
	wallets wallet.Repository
	records transaction.Repository
}

// NewMemoryStore builds a store over in-memory repositories for tests and dev
// mode.
func NewMemoryStore(wallets wallet.Repository, records transaction.Repository) Store {
	return &memoryStore{wallets: wallets, records: records}
}

func (s *memoryStore) Commit(ctx context.Context, unit Unit) error {
	for _, w := range unit.Wallets {
		if _, err := s.wallets.Get(ctx, w.ID); err != nil {
			return err
		}
	}
	if unit.Update != nil {
		if _, err := s.records.Get(ctx, unit.Update.TransactionID); err != nil {
			return err
		}
	}

	for _, w := range unit.Wallets {
		if err := s.wallets.Save(ctx, w); err != nil {
			return err
		}
	}
	if unit.Insert != nil {
		if err := s.records.Create(ctx, *unit.Insert); err != nil {
			return err
		}
	}
	if unit.Update != nil {
		if err := s.records.Update(ctx, *unit.Update); err != nil {
			return err
		}
	}
	return nil
}
