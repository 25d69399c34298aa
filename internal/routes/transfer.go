package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/pesaflow/pesaflow/internal/transfer"
)

// RegisterTransferRoutes wires the transfer intent and transaction query
// endpoints.
func RegisterTransferRoutes(r fiber.Router, h *transfer.Handler) {
	r.Post("/transfers", h.Create)
	r.Get("/wallets/:walletId/transactions", h.History)
	r.Get("/transactions/:transactionId", h.Details)
}
