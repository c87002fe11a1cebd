package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe()
	defer cancel()

	b.Publish(Event{Type: SessionStarted, DeviceUUID: "d1", Username: "alice"})

	select {
	case e := <-ch:
		assert.Equal(t, SessionStarted, e.Type)
		assert.Equal(t, "d1", e.DeviceUUID)
		assert.False(t, e.At.IsZero(), "timestamp filled on publish")
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	b := NewBus()
	_, cancel := b.Subscribe() // канал никто не читает
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			b.Publish(Event{Type: TaskCompleted})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe()
	cancel()

	_, open := <-ch
	require.False(t, open)

	// публикация после отписки безопасна
	b.Publish(Event{Type: DeviceConnected})
	// повторная отписка — no-op
	cancel()
}
