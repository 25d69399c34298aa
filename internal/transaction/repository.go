package transaction

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

// Repository persists saga records. The ledger engine is the only writer and
// always calls it while holding the relevant lock.
type Repository interface {
	Create(ctx context.Context, record Record) error
	Get(ctx context.Context, transactionID string) (Record, error)
	Update(ctx context.Context, record Record) error
	// ListByWallet returns records touching the wallet, most recent first.
	ListByWallet(ctx context.Context, walletID string) ([]Record, error)
}

// PostgresRepository stores records in PostgreSQL.
type PostgresRepository struct {
	db DB
}

// NewPostgresRepository builds a repository backed by PostgreSQL. db may be a
// pool or an open transaction.
func NewPostgresRepository(db DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new saga record. A unique index on transaction_id surfaces
// duplicates as ErrDuplicate.
func (r *PostgresRepository) Create(ctx context.Context, record Record) error {
	_, err := r.db.Exec(ctx, `INSERT INTO transactions
        (id, transaction_id, from_wallet_id, to_wallet_id, amount, transfer_status, credit_status,
         debit_settled, credit_reversed, cancel_reason, created_at, updated_at)
        VALUES ($1, $2, NULLIF($3, '')::uuid, NULLIF($4, '')::uuid, $5, $6, $7, $8, $9, NULLIF($10, ''), $11, $12)`,
		record.ID, record.TransactionID, record.FromWalletID, record.ToWalletID,
		record.Amount.String(), string(record.TransferStatus), string(record.CreditStatus),
		record.DebitSettled, record.CreditReversed,
		record.CancelReason, record.CreatedAt.UTC(), record.UpdatedAt.UTC())
	if err != nil && isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// Get fetches the record for the business transaction id.
func (r *PostgresRepository) Get(ctx context.Context, transactionID string) (Record, error) {
	row := r.db.QueryRow(ctx, `SELECT id, transaction_id, COALESCE(from_wallet_id::text, ''), COALESCE(to_wallet_id::text, ''),
        amount::text, transfer_status, credit_status, debit_settled, credit_reversed,
        COALESCE(cancel_reason, ''), created_at, updated_at
        FROM transactions WHERE transaction_id = $1`, transactionID)
	return scanRecord(row)
}

// Update rewrites the mutable columns of an existing record.
func (r *PostgresRepository) Update(ctx context.Context, record Record) error {
	tag, err := r.db.Exec(ctx, `UPDATE transactions
        SET to_wallet_id = NULLIF($2, '')::uuid, transfer_status = $3, credit_status = $4,
            debit_settled = $5, credit_reversed = $6, cancel_reason = NULLIF($7, ''), updated_at = $8
        WHERE transaction_id = $1`,
		record.TransactionID, record.ToWalletID, string(record.TransferStatus),
		string(record.CreditStatus), record.DebitSettled, record.CreditReversed,
		record.CancelReason, record.UpdatedAt.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByWallet returns the wallet's transaction history, most recent first.
func (r *PostgresRepository) ListByWallet(ctx context.Context, walletID string) ([]Record, error) {
	walletUUID, err := uuid.Parse(walletID)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.Query(ctx, `SELECT id, transaction_id, COALESCE(from_wallet_id::text, ''), COALESCE(to_wallet_id::text, ''),
        amount::text, transfer_status, credit_status, debit_settled, credit_reversed,
        COALESCE(cancel_reason, ''), created_at, updated_at
        FROM transactions WHERE from_wallet_id = $1 OR to_wallet_id = $1
        ORDER BY created_at DESC`, walletUUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		record               Record
		amount               string
		transferStatus       string
		creditStatus         string
		createdAt, updatedAt time.Time
	)
	err := row.Scan(&record.ID, &record.TransactionID, &record.FromWalletID, &record.ToWalletID,
		&amount, &transferStatus, &creditStatus, &record.DebitSettled, &record.CreditReversed,
		&record.CancelReason, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}

	record.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return Record{}, err
	}
	record.TransferStatus = TransferStatus(transferStatus)
	record.CreditStatus = CreditStatus(creditStatus)
	record.CreatedAt = createdAt.UTC()
	record.UpdatedAt = updatedAt.UTC()
	return record, nil
}

func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	return errors.As(err, &pgErr) && pgErr.SQLState() == "23505"
}
