package ledger

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pesaflow/pesaflow/internal/transaction"
	"github.com/pesaflow/pesaflow/internal/wallet"
)

// PostgresStore commits units inside a single database transaction.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore builds a Postgres-backed store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Commit applies the unit's writes in one transaction.
func (s *PostgresStore) Commit(ctx context.Context, unit Unit) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	wallets := wallet.NewPostgresRepository(tx)
	records := transaction.NewPostgresRepository(tx)

	for _, w := range unit.Wallets {
		if err := wallets.Save(ctx, w); err != nil {
			return err
		}
	}
	if unit.Insert != nil {
		if err := records.Create(ctx, *unit.Insert); err != nil {
			return err
		}
	}
	if unit.Update != nil {
		if err := records.Update(ctx, *unit.Update); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}
