// Package routes wires middlewares, services and HTTP endpoints onto the
// Fiber application.
package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/pesaflow/pesaflow/internal/audit"
	"github.com/pesaflow/pesaflow/internal/config"
	"github.com/pesaflow/pesaflow/internal/event"
	"github.com/pesaflow/pesaflow/internal/ledger"
	"github.com/pesaflow/pesaflow/internal/lock"
	"github.com/pesaflow/pesaflow/internal/middleware"
	"github.com/pesaflow/pesaflow/internal/notification"
	"github.com/pesaflow/pesaflow/internal/transaction"
	"github.com/pesaflow/pesaflow/internal/transfer"
	"github.com/pesaflow/pesaflow/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes. DB and Cache
// may be nil in development, selecting in-memory backends.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Bus    event.Bus
	Hub    *notification.Hub
	Logger *slog.Logger
}

// Setup configures middlewares, builds the service graph and registers all
// application routes and event subscribers.
func Setup(app *fiber.App, d Deps) error {
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.RequestLog(d.Logger))
	if d.Cache != nil {
		app.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}

	RegisterHealthRoutes(app, d)

	var locks lock.Manager
	if d.Cache != nil {
		locks = lock.NewRedisManager(d.Cache)
	} else {
		locks = lock.NewLocalManager()
	}

	var (
		wallets wallet.Repository
		records transaction.Repository
		store   ledger.Store
		auditor audit.Recorder
	)
	if d.DB != nil {
		wallets = wallet.NewPostgresRepository(d.DB)
		records = transaction.NewPostgresRepository(d.DB)
		store = ledger.NewPostgresStore(d.DB)
		auditor = audit.NewPostgresRecorder(d.DB, d.Logger)
	} else {
		wallets = wallet.NewMemoryRepository()
		records = transaction.NewMemoryRepository()
		store = ledger.NewMemoryStore(wallets, records)
		auditor = audit.NewLogRecorder(d.Logger)
	}

	engine := ledger.NewEngine(locks, wallets, records, store, auditor, d.Logger, d.Cfg.LockLease)

	walletSvc := wallet.NewService(wallets)
	walletHandler := wallet.NewHandler(walletSvc, engine)

	transferSvc := transfer.NewService(wallets, records, d.Bus, auditor)
	transferHandler := transfer.NewHandler(transferSvc)

	transfer.NewOrchestrator(engine, records, d.Bus, d.Logger).Register(d.Bus)

	var notifier notification.Notifier
	if d.Hub != nil {
		notifier = notification.NewHubNotifier(d.Hub)
	} else {
		notifier = notification.NewLoggerNotifier(d.Logger)
	}
	transfer.NewOutcomeListener(records, wallets, auditor, notifier, d.Logger).Register(d.Bus)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	RegisterWalletRoutes(api, walletHandler)
	RegisterTransferRoutes(api, transferHandler)

	return nil
}
