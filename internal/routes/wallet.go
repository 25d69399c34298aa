package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/pesaflow/pesaflow/internal/wallet"
)

// RegisterWalletRoutes wires wallet provisioning, balance and funding
// endpoints.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler) {
	r.Post("/wallets", h.Create)
	r.Get("/wallets/:walletId/balance", h.Balance)
	r.Post("/wallets/:walletId/topup", h.TopUp)
}
