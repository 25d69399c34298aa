// Package event defines the pub/sub channel between the transfer intent
// surface, the saga orchestrator, and outcome consumers. Delivery is
// at-least-once and ordered per key; consumers must be idempotent.
package event

import (
	"context"

	"github.com/shopspring/decimal"
)

// Topics mirror the transfer lifecycle.
const (
	TopicTransferRequested  = "transfer.request"
	TopicTransferSucceeded  = "transfer.success"
	TopicTransferFailed     = "transfer.failed"
	TopicTransferRolledBack = "transfer.rollback"
)

// TransferRequested is the intent event consumed by the orchestrator.
type TransferRequested struct {
	TransactionID string          `json:"transactionId"`
	FromWalletID  string          `json:"fromWalletId"`
	ToWalletID    string          `json:"toWalletId"`
	Amount        decimal.Decimal `json:"amount"`
}

// TransferOutcome is the terminal event for a transfer. Reason is empty on
// success.
type TransferOutcome struct {
	TransactionID string `json:"transactionId"`
	Reason        string `json:"reason,omitempty"`
}

// Envelope carries one delivery. Attempt starts at 1 and counts redeliveries.
type Envelope struct {
	Topic   string
	Key     string
	Payload any
	Attempt int
}

// Handler consumes deliveries. A non-nil error triggers redelivery.
type Handler func(ctx context.Context, delivery Envelope) error

// Bus is an at-least-once, key-partitioned publish/subscribe channel.
// Envelopes sharing a key are delivered in order to a single logical
// consumer; there is no ordering across keys.
type Bus interface {
	Publish(ctx context.Context, topic, key string, payload any) error
	Subscribe(topic string, handler Handler)
}
