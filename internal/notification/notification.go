// Package notification delivers transfer outcomes to account owners. The
// delivery transport (email, push, SSE) is an external collaborator; this
// package only models the notifier contract and the live-subscriber registry.
package notification

import (
	"context"
	"log/slog"
)

// Kinds of transfer outcome notifications.
const (
	KindTransferSuccess  = "TRANSFER_SUCCESS"
	KindTransferFailed   = "TRANSFER_FAILED"
	KindTransferRollback = "TRANSFER_ROLLBACK"
)

// Message describes a notification payload.
type Message struct {
	Kind        string
	Destination string // owner id of the receiving user
	Body        string
}

// Notifier delivers notifications to downstream systems. Delivery is
// best-effort; callers never fail a ledger operation on a notifier error.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the structured logger. Used when no
// push channel is wired.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification",
		slog.String("kind", message.Kind),
		slog.String("destination", message.Destination),
		slog.String("body", message.Body),
	)
	return nil
}

// HubNotifier pushes messages to live subscribers registered in a Hub.
type HubNotifier struct {
	hub *Hub
}

// NewHubNotifier constructs a hub-backed notifier.
func NewHubNotifier(hub *Hub) *HubNotifier {
	return &HubNotifier{hub: hub}
}

// Send pushes the message to the destination's live subscribers, if any.
func (n *HubNotifier) Send(_ context.Context, message Message) error {
	n.hub.Push(message.Destination, Event{Kind: message.Kind, Body: message.Body})
	return nil
}
