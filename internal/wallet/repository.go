package wallet

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// DB is the query surface shared by *pgxpool.Pool and pgx.Tx, so a repository
// can run inside a caller-owned transaction.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists wallet rows. Balance mutations flow through Save and
// are only ever issued by the ledger while holding the wallet's lock.
type Repository interface {
	Create(ctx context.Context, wallet Wallet) error
	Get(ctx context.Context, id string) (Wallet, error)
	GetByOwner(ctx context.Context, ownerID string) (Wallet, error)
	Save(ctx context.Context, wallet Wallet) error
}

// PostgresRepository stores wallets in PostgreSQL.
type PostgresRepository struct {
	db DB
}

// NewPostgresRepository builds a repository backed by PostgreSQL. db may be a
// pool or an open transaction.
func NewPostgresRepository(db DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a wallet row with zeroed balances.
func (r *PostgresRepository) Create(ctx context.Context, wallet Wallet) error {
	walletID, err := uuid.Parse(wallet.ID)
	if err != nil {
		return err
	}
	ownerID, err := uuid.Parse(wallet.OwnerID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO wallets
        (id, owner_id, currency, balance, frozen_balance, unreleased_balance, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		walletID, ownerID, wallet.Currency,
		wallet.Balance.String(), wallet.FrozenBalance.String(), wallet.UnreleasedBalance.String(),
		wallet.CreatedAt.UTC(), wallet.UpdatedAt.UTC())
	return err
}

// Get fetches a wallet by identifier.
func (r *PostgresRepository) Get(ctx context.Context, id string) (Wallet, error) {
	walletUUID, err := uuid.Parse(id)
	if err != nil {
		return Wallet{}, ErrNotFound
	}
	row := r.db.QueryRow(ctx, `SELECT id, owner_id, currency, balance::text, frozen_balance::text,
        unreleased_balance::text, created_at, updated_at FROM wallets WHERE id = $1`, walletUUID)
	return scanWallet(row)
}

// GetByOwner fetches the wallet provisioned for an owner.
func (r *PostgresRepository) GetByOwner(ctx context.Context, ownerID string) (Wallet, error) {
	ownerUUID, err := uuid.Parse(ownerID)
	if err != nil {
		return Wallet{}, ErrNotFound
	}
	row := r.db.QueryRow(ctx, `SELECT id, owner_id, currency, balance::text, frozen_balance::text,
        unreleased_balance::text, created_at, updated_at FROM wallets WHERE owner_id = $1`, ownerUUID)
	return scanWallet(row)
}

// Save rewrites the wallet's balance columns in a single statement.
func (r *PostgresRepository) Save(ctx context.Context, wallet Wallet) error {
	tag, err := r.db.Exec(ctx, `UPDATE wallets
        SET balance = $2, frozen_balance = $3, unreleased_balance = $4, updated_at = $5
        WHERE id = $1`,
		wallet.ID, wallet.Balance.String(), wallet.FrozenBalance.String(),
		wallet.UnreleasedBalance.String(), wallet.UpdatedAt.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanWallet(row pgx.Row) (Wallet, error) {
	var (
		w                           Wallet
		id, ownerID                 uuid.UUID
		balance, frozen, unreleased string
		createdAt, updatedAt        time.Time
	)
	err := row.Scan(&id, &ownerID, &w.Currency, &balance, &frozen, &unreleased, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, ErrNotFound
		}
		return Wallet{}, err
	}

	w.ID = id.String()
	w.OwnerID = ownerID.String()
	if w.Balance, err = decimal.NewFromString(balance); err != nil {
		return Wallet{}, err
	}
	if w.FrozenBalance, err = decimal.NewFromString(frozen); err != nil {
		return Wallet{}, err
	}
	if w.UnreleasedBalance, err = decimal.NewFromString(unreleased); err != nil {
		return Wallet{}, err
	}
	w.CreatedAt = createdAt.UTC()
	w.UpdatedAt = updatedAt.UTC()
	return w, nil
}
