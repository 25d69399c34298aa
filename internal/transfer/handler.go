package transfer

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/pesaflow/pesaflow/internal/ledger"
	"github.com/pesaflow/pesaflow/internal/transaction"
	"github.com/pesaflow/pesaflow/internal/wallet"
)

// Handler exposes transfer intent creation and transaction queries.
type Handler struct {
	svc *Service
}

// NewHandler builds a transfer handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type transferRequest struct {
	FromWalletID string          `json:"fromWalletId"`
	ToWalletID   string          `json:"toWalletId"`
	Amount       decimal.Decimal `json:"amount"`
}

// Create accepts a transfer intent. The response only acknowledges the
// intent; the outcome arrives asynchronously.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.FromWalletID == "" || req.ToWalletID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "fromWalletId and toWalletId are required")
	}

	transactionID, err := h.svc.CreateIntent(c.UserContext(), req.FromWalletID, req.ToWalletID, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ErrSameWallet):
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		case errors.Is(err, wallet.ErrNotFound):
			return fiber.NewError(fiber.StatusNotFound, err.Error())
		default:
			return err
		}
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"message":       "transfer initiated",
		"transactionId": transactionID,
	})
}

// History lists the wallet's transactions, most recent first.
func (h *Handler) History(c *fiber.Ctx) error {
	summaries, err := h.svc.History(c.UserContext(), c.Params("walletId"))
	if err != nil {
		if errors.Is(err, wallet.ErrNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "wallet not found")
		}
		return err
	}
	return c.JSON(fiber.Map{"transactions": summaries})
}

// Details returns a single transaction summary.
func (h *Handler) Details(c *fiber.Ctx) error {
	summary, err := h.svc.Details(c.UserContext(), c.Params("transactionId"))
	if err != nil {
		if errors.Is(err, transaction.ErrNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "transaction not found")
		}
		return err
	}
	return c.JSON(summary)
}
