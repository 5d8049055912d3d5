package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerPublishSubscribe(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	b.Publish(&Event{Type: EventCircuitStateChanged, Message: "orders:CreateOrder CLOSED -> OPEN"})

	select {
	case ev := <-sub:
		require.NotNil(t, ev)
		assert.Equal(t, EventCircuitStateChanged, ev.Type)
		assert.NotEmpty(t, ev.ID)
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("notification not delivered")
	}
}

func TestBrokerUnsubscribeTwice(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe()
	assert.Equal(t, 1, b.SubscriberCount())

	b.Unsubscribe(sub)
	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())

	_, open := <-sub
	assert.False(t, open)
}

func TestBrokerStopIsIdempotent(t *testing.T) {
	b := NewBroker()
	b.Start()
	b.Stop()
	b.Stop()

	// Publishing after stop must not block
	done := make(chan struct{})
	go func() {
		b.Publish(&Event{Type: EventDispatchRetry})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked after stop")
	}
}
