package wallet

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const defaultCurrency = "KES"

// Service exposes wallet provisioning and balance queries. Balance mutations
// go through the ledger engine, never through this service.
type Service struct {
	repo Repository
}

// NewService builds a wallet service instance.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// CreateInput captures data required to provision a wallet.
type CreateInput struct {
	OwnerID  string
	Currency string
}

// Create provisions a wallet with zeroed balances. Each owner gets exactly
// one wallet.
func (s *Service) Create(ctx context.Context, input CreateInput) (Wallet, error) {
	if _, err := uuid.Parse(input.OwnerID); err != nil {
		return Wallet{}, err
	}

	currency := input.Currency
	if currency == "" {
		currency = defaultCurrency
	}

	now := time.Now().UTC()
	w := Wallet{
		ID:        uuid.NewString(),
		OwnerID:   input.OwnerID,
		Currency:  currency,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Create(ctx, w); err != nil {
		return Wallet{}, err
	}

	return w, nil
}

// Get retrieves wallet metadata.
func (s *Service) Get(ctx context.Context, id string) (Wallet, error) {
	return s.repo.Get(ctx, id)
}

// GetByOwner retrieves the wallet provisioned for an owner.
func (s *Service) GetByOwner(ctx context.Context, ownerID string) (Wallet, error) {
	return s.repo.GetByOwner(ctx, ownerID)
}

// Balance returns the wallet's current balance view.
func (s *Service) Balance(ctx context.Context, id string) (Balance, error) {
	w, err := s.repo.Get(ctx, id)
	if err != nil {
		return Balance{}, err
	}
	return Balance{
		WalletID:          w.ID,
		Balance:           w.Balance,
		FrozenBalance:     w.FrozenBalance,
		UnreleasedBalance: w.UnreleasedBalance,
		AsOf:              time.Now().UTC(),
	}, nil
}
