package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe()
	defer cancel()

	bus.Publish(Event{"type": TypeToken, "token": "hello"})

	event := <-ch
	assert.Equal(t, TypeToken, event["type"])
	assert.Equal(t, "hello", event["token"])
}

func TestFanOut(t *testing.T) {
	bus := NewBus()
	a, cancelA := bus.Subscribe()
	defer cancelA()
	b, cancelB := bus.Subscribe()
	defer cancelB()

	bus.Publish(Event{"type": TypeStatus})
	assert.Equal(t, TypeStatus, (<-a)["type"])
	assert.Equal(t, TypeStatus, (<-b)["type"])
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe()

	require.Equal(t, 1, bus.SubscriberCount())
	cancel()
	assert.Equal(t, 0, bus.SubscriberCount())

	_, open := <-ch
	assert.False(t, open)

	// Double cancel is safe.
	assert.NotPanics(t, cancel)
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe()
	defer cancel()

	// Overfill the buffer; publishing must not block.
	for i := 0; i < subscriberBuffer+10; i++ {
		bus.Publish(Event{"type": TypeToken, "seq": i})
	}
	assert.Len(t, ch, subscriberBuffer)
}
