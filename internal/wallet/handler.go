package wallet

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pesaflow/pesaflow/internal/lock"
)

// Funder performs single-phase deposits. Implemented by the ledger engine.
type Funder interface {
	TopUp(ctx context.Context, walletID string, amount decimal.Decimal, transactionID string) error
}

// Handler exposes wallet endpoints.
type Handler struct {
	svc    *Service
	funder Funder
}

// NewHandler builds a wallet handler.
func NewHandler(svc *Service, funder Funder) *Handler {
	return &Handler{svc: svc, funder: funder}
}

type createRequest struct {
	OwnerID  string `json:"ownerId"`
	Currency string `json:"currency"`
}

// Create provisions a wallet for an owner.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.OwnerID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "ownerId is required")
	}

	w, err := h.svc.Create(c.UserContext(), CreateInput{OwnerID: req.OwnerID, Currency: req.Currency})
	if err != nil {
		if errors.Is(err, ErrExists) {
			return fiber.NewError(fiber.StatusConflict, "owner already has a wallet")
		}
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"walletId": w.ID,
		"ownerId":  w.OwnerID,
		"currency": w.Currency,
	})
}

// Balance returns the wallet's balance view.
func (h *Handler) Balance(c *fiber.Ctx) error {
	balance, err := h.svc.Balance(c.UserContext(), c.Params("walletId"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "wallet not found")
		}
		return err
	}

	return c.JSON(fiber.Map{
		"walletId":          balance.WalletID,
		"balance":           balance.Balance,
		"frozenBalance":     balance.FrozenBalance,
		"unreleasedBalance": balance.UnreleasedBalance,
		"asOf":              balance.AsOf,
	})
}

type topUpRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// TopUp deposits funds into the wallet under a fresh idempotency key.
func (h *Handler) TopUp(c *fiber.Ctx) error {
	var req topUpRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if !req.Amount.IsPositive() {
		return fiber.NewError(fiber.StatusBadRequest, "amount must be positive")
	}

	walletID := c.Params("walletId")
	transactionID := uuid.NewString()

	if err := h.funder.TopUp(c.UserContext(), walletID, req.Amount, transactionID); err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			return fiber.NewError(fiber.StatusNotFound, "wallet not found")
		case errors.Is(err, lock.ErrAcquireTimeout):
			return fiber.NewError(fiber.StatusServiceUnavailable, "wallet busy, retry later")
		default:
			return err
		}
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"transactionId": transactionID})
}
