package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func waitForEvent(t *testing.T, ch <-chan Event) (Event, bool) {
	t.Helper()
	select {
	case evt, ok := <-ch:
		return evt, ok
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for event")
		return Event{}, false
	}
}

func TestBus_DeliversToMatchingUser(t *testing.T) {
	// Arrange
	bus := NewBus(zap.NewNop())
	_, alice := bus.Subscribe("alice")
	_, all := bus.Subscribe("")
	_, bob := bus.Subscribe("bob")

	// Act
	bus.Publish(Event{Type: TypeBalanceUpdate, UserID: "alice", Payload: "9900"})

	// Assert
	evt, ok := waitForEvent(t, alice)
	require.True(t, ok)
	assert.Equal(t, TypeBalanceUpdate, evt.Type)
	assert.False(t, evt.At.IsZero())

	evt, ok = waitForEvent(t, all)
	require.True(t, ok)
	assert.Equal(t, "alice", evt.UserID)

	select {
	case <-bob:
		t.Fatal("bob must not receive alice's events")
	default:
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	// Arrange
	bus := NewBus(zap.NewNop())
	id, ch := bus.Subscribe("alice")

	// Act
	bus.Unsubscribe(id)

	// Assert
	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, bus.Subscribers())

	// Publishing after unsubscribe must not panic.
	bus.Publish(Event{Type: TypeTradeCompleted, UserID: "alice"})
}

func TestBus_DropsLaggingSubscriber(t *testing.T) {
	// Arrange
	bus := NewBus(zap.NewNop())
	_, ch := bus.Subscribe("alice")

	// Act
	for i := 0; i < subscriberBuffer+1; i++ {
		bus.Publish(Event{Type: TypeBalanceUpdate, UserID: "alice"})
	}

	// Assert
	received := 0
	for range ch {
		received++
	}
	assert.Equal(t, subscriberBuffer, received)
	assert.Equal(t, 0, bus.Subscribers())
}

func TestRecorder(t *testing.T) {
	// Arrange
	var r Recorder

	// Act
	r.Publish(Event{Type: TypeTradeOpened})
	r.Publish(Event{Type: TypeBalanceUpdate})
	r.Publish(Event{Type: TypeBalanceUpdate})

	// Assert
	assert.Len(t, r.Events(), 3)
	assert.Len(t, r.OfType(TypeBalanceUpdate), 2)
}
