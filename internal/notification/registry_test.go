package notification

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHubPushReachesSubscribers(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	ch, cancel := hub.Subscribe("owner-1")
	defer cancel()

	hub.Push("owner-1", Event{Kind: KindTransferSuccess, Body: "done"})
	hub.Push("owner-2", Event{Kind: KindTransferFailed, Body: "not yours"})

	got := <-ch
	require.Equal(t, KindTransferSuccess, got.Kind)
	require.Empty(t, ch, "events for other keys must not leak")
}

func TestHubUnsubscribeRemovesChannel(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	ch, cancel := hub.Subscribe("owner-1")
	require.Equal(t, 1, hub.Subscribers("owner-1"))

	cancel()
	require.Equal(t, 0, hub.Subscribers("owner-1"))

	_, open := <-ch
	require.False(t, open, "cancel must close the channel")
}

func TestHubFullBufferDoesNotBlock(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	_, cancel := hub.Subscribe("owner-1")
	defer cancel()

	// Push well past the buffer; must not deadlock.
	for i := 0; i < subscriberBuffer*3; i++ {
		hub.Push("owner-1", Event{Kind: KindTransferSuccess})
	}
}

func TestHubCloseShutsDownSubscribers(t *testing.T) {
	hub := NewHub()
	ch, _ := hub.Subscribe("owner-1")

	hub.Close()

	_, open := <-ch
	require.False(t, open)

	// Subscribing after close yields a closed channel.
	late, cancel := hub.Subscribe("owner-2")
	defer cancel()
	_, open = <-late
	require.False(t, open)
}
