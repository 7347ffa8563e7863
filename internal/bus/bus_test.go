package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("connectivity.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindConnectivityChanged, Payload: "test"})

	select {
	case evt := <-ch:
		assert.Equal(t, KindConnectivityChanged, evt.Kind)
		assert.False(t, evt.Timestamp.IsZero(), "timestamp not stamped")
	case <-time.After(time.Second):
		require.FailNow(t, "timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(KindFavoritesSetChanged, 10)
	defer unsub()

	b.Publish(Event{Kind: KindFavoritesCached})
	b.Publish(Event{Kind: KindFavoritesSetChanged})

	select {
	case evt := <-ch:
		assert.Equal(t, KindFavoritesSetChanged, evt.Kind)
	case <-time.After(time.Second):
		require.FailNow(t, "timeout waiting for event")
	}

	// The cache-write event must not reach a set-change subscriber.
	select {
	case evt := <-ch:
		assert.Failf(t, "unexpected event", "%v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("queue.", 10)
	unsub()
	unsub()

	assert.Zero(t, b.Subscribers())

	b.Emit(KindQueueChanged, nil)

	select {
	case evt := <-ch:
		assert.Failf(t, "received event after unsubscribe", "%v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("queue.", 1)
	defer unsub()

	b.Emit(KindQueueChanged, 1)
	// Dropped: buffer is full and publish never blocks.
	b.Emit(KindQueueChanged, 2)

	evt := <-ch
	assert.Equal(t, 1, evt.Payload)
}

func TestEmitOnNilBus(t *testing.T) {
	var b *Bus
	assert.NotPanics(t, func() { b.Emit(KindQueueChanged, nil) })
}
