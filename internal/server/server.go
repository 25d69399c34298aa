// Package server assembles the Fiber application together with the in-process
// event bus and notification hub, and owns their lifecycle.
package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/pesaflow/pesaflow/internal/config"
	"github.com/pesaflow/pesaflow/internal/event"
	"github.com/pesaflow/pesaflow/internal/notification"
	"github.com/pesaflow/pesaflow/internal/routes"
)

// Server wraps the Fiber application and shared dependencies.
type Server struct {
	app *fiber.App
	cfg config.Config
	bus *event.MemoryBus
	hub *notification.Hub
}

// New instantiates the HTTP server, the event bus and the notification hub,
// and delegates route wiring to routes.Setup.
func New(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, logger *slog.Logger) (*Server, error) {
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	bus := event.NewMemoryBus(cfg.EventPartitions, cfg.EventAttempts, cfg.EventBackoff, logger)
	hub := notification.NewHub()

	deps := routes.Deps{Cfg: cfg, DB: db, Cache: cache, Bus: bus, Hub: hub, Logger: logger}
	if err := routes.Setup(app, deps); err != nil {
		bus.Close()
		hub.Close()
		return nil, err
	}

	return &Server{app: app, cfg: cfg, bus: bus, hub: hub}, nil
}

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.cfg.Address())
}

// Shutdown stops accepting requests, then drains the event bus so in-flight
// sagas reach a terminal state before the process exits.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.app.ShutdownWithContext(ctx)
	s.bus.Close()
	s.hub.Close()
	return err
}
