package event

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pesaflow/pesaflow/internal/logging"
)

func TestPerKeyOrdering(t *testing.T) {
	bus := NewMemoryBus(4, 1, 0, logging.Discard())
	defer bus.Close()

	var (
		mu   sync.Mutex
		seen = map[string][]int{}
	)
	done := make(chan struct{})
	const perKey = 20

	var total int
	bus.Subscribe("orders", func(_ context.Context, delivery Envelope) error {
		mu.Lock()
		defer mu.Unlock()
		seen[delivery.Key] = append(seen[delivery.Key], delivery.Payload.(int))
		total++
		if total == perKey*3 {
			close(done)
		}
		return nil
	})

	ctx := context.Background()
	for i := 0; i < perKey; i++ {
		for _, key := range []string{"a", "b", "c"} {
			require.NoError(t, bus.Publish(ctx, "orders", key, i))
		}
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for deliveries")
	}

	mu.Lock()
	defer mu.Unlock()
	for key, values := range seen {
		require.Len(t, values, perKey)
		for i, v := range values {
			require.Equal(t, i, v, "ordering broken for key %s", key)
		}
	}
}

func TestRedeliveryOnHandlerError(t *testing.T) {
	bus := NewMemoryBus(1, 3, time.Millisecond, logging.Discard())
	defer bus.Close()

	var mu sync.Mutex
	var attempts []int
	done := make(chan struct{})

	bus.Subscribe("flaky", func(_ context.Context, delivery Envelope) error {
		mu.Lock()
		defer mu.Unlock()
		attempts = append(attempts, delivery.Attempt)
		if delivery.Attempt < 3 {
			return errors.New("transient")
		}
		close(done)
		return nil
	})

	require.NoError(t, bus.Publish(context.Background(), "flaky", "k", "payload"))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("handler never succeeded")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{1, 2, 3}, attempts)
}

func TestRedeliveryBudgetExhausted(t *testing.T) {
	bus := NewMemoryBus(1, 2, 0, logging.Discard())

	var mu sync.Mutex
	var calls int
	bus.Subscribe("poison", func(_ context.Context, _ Envelope) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return errors.New("permanent")
	})

	require.NoError(t, bus.Publish(context.Background(), "poison", "k", nil))
	bus.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 2, calls)
}

func TestHandlerPanicIsContained(t *testing.T) {
	bus := NewMemoryBus(1, 1, 0, logging.Discard())

	delivered := make(chan struct{})
	bus.Subscribe("boom", func(_ context.Context, _ Envelope) error {
		panic("handler bug")
	})
	bus.Subscribe("boom", func(_ context.Context, _ Envelope) error {
		close(delivered)
		return nil
	})

	require.NoError(t, bus.Publish(context.Background(), "boom", "k", nil))

	select {
	case <-delivered:
	case <-time.After(5 * time.Second):
		t.Fatal("second handler starved by panicking one")
	}
	bus.Close()
}

func TestPublishAfterClose(t *testing.T) {
	bus := NewMemoryBus(1, 1, 0, logging.Discard())
	bus.Close()

	err := bus.Publish(context.Background(), "any", "k", nil)
	require.ErrorIs(t, err, ErrClosed)
}
