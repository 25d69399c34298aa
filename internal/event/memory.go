package event

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"
)

// ErrClosed is returned by Publish after the bus has shut down.
var ErrClosed = errors.New("event bus closed")

const defaultBufferSize = 256

// MemoryBus is an in-process Bus. Each partition is a buffered channel
// drained by one worker goroutine, so envelopes that hash to the same
// partition — in particular all envelopes sharing a key — are handled in
// publish order. Failed handlers are retried in place with backoff, which
// keeps per-key ordering intact; exhausted deliveries are logged and dropped.
type MemoryBus struct {
	mu         sync.RWMutex
	handlers   map[string][]Handler
	partitions []chan Envelope
	logger     *slog.Logger
	attempts   int
	backoff    time.Duration
	closed     bool
	wg         sync.WaitGroup
}

// NewMemoryBus builds and starts a bus with the given partition count and
// redelivery budget per envelope.
func NewMemoryBus(partitions, attempts int, backoff time.Duration, logger *slog.Logger) *MemoryBus {
	if partitions < 1 {
		partitions = 1
	}
	if attempts < 1 {
		attempts = 1
	}

	b := &MemoryBus{
		handlers:   make(map[string][]Handler),
		partitions: make([]chan Envelope, partitions),
		logger:     logger,
		attempts:   attempts,
		backoff:    backoff,
	}

	for i := range b.partitions {
		b.partitions[i] = make(chan Envelope, defaultBufferSize)
		b.wg.Add(1)
		go b.run(b.partitions[i])
	}

	return b
}

// Subscribe registers a handler for a topic. Every subscribed handler
// receives every envelope published to the topic.
func (b *MemoryBus) Subscribe(topic string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], handler)
}

// Publish enqueues an envelope on the partition owning key.
func (b *MemoryBus) Publish(_ context.Context, topic, key string, payload any) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	b.partitions[b.partition(key)] <- Envelope{Topic: topic, Key: key, Payload: payload, Attempt: 1}
	return nil
}

// Close stops accepting publishes and waits for in-flight deliveries.
func (b *MemoryBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, p := range b.partitions {
		close(p)
	}
	b.mu.Unlock()

	b.wg.Wait()
}

func (b *MemoryBus) partition(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(b.partitions)))
}

func (b *MemoryBus) run(deliveries <-chan Envelope) {
	defer b.wg.Done()

	for delivery := range deliveries {
		b.mu.RLock()
		handlers := b.handlers[delivery.Topic]
		b.mu.RUnlock()

		for _, handler := range handlers {
			b.deliver(handler, delivery)
		}
	}
}

// deliver retries a failing handler inside the partition worker so later
// envelopes with the same key never overtake this one.
func (b *MemoryBus) deliver(handler Handler, delivery Envelope) {
	for attempt := delivery.Attempt; attempt <= b.attempts; attempt++ {
		delivery.Attempt = attempt

		err := b.dispatch(handler, delivery)
		if err == nil {
			return
		}

		b.logger.Warn("event handler failed",
			slog.String("topic", delivery.Topic),
			slog.String("key", delivery.Key),
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)

		if attempt < b.attempts {
			time.Sleep(b.backoff)
		}
	}

	b.logger.Error("event dropped after redelivery budget",
		slog.String("topic", delivery.Topic),
		slog.String("key", delivery.Key),
		slog.Int("attempts", b.attempts),
	)
}

func (b *MemoryBus) dispatch(handler Handler, delivery Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	return handler(context.Background(), delivery)
}
