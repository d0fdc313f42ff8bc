package events

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForEvent(t *testing.T, sub Subscriber) *Event {
	t.Helper()
	select {
	case event := <-sub:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestPublishSubscribe(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	broker.Publish(NewInstanceEvent(EventInstanceRunning, 100, "instance provisioned"))

	got := waitForEvent(t, sub)
	assert.Equal(t, EventInstanceRunning, got.Type)
	assert.Equal(t, int64(100), got.InstanceID)
	assert.NotEmpty(t, got.ID)
	assert.False(t, got.Timestamp.IsZero())
	assert.Equal(t, "100", got.Metadata["instance_id"])
}

func TestBroadcastReachesAllSubscribers(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	first := broker.Subscribe()
	second := broker.Subscribe()
	defer broker.Unsubscribe(first)
	defer broker.Unsubscribe(second)

	assert.Equal(t, 2, broker.SubscriberCount())

	broker.Publish(&Event{Type: EventInstanceDestroyed, InstanceID: 7})

	assert.Equal(t, EventInstanceDestroyed, waitForEvent(t, first).Type)
	assert.Equal(t, EventInstanceDestroyed, waitForEvent(t, second).Type)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	broker.Unsubscribe(sub)

	_, open := <-sub
	assert.False(t, open)
	assert.Equal(t, 0, broker.SubscriberCount())
}

func TestRecorder(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	rec := NewRecorder(broker, 4)
	rec.Start()

	for i := 0; i < 6; i++ {
		broker.Publish(&Event{
			Type:    EventInstanceQueued,
			Message: fmt.Sprintf("event-%d", i),
		})
	}

	// The recorder drains asynchronously; wait until the ring settles.
	require.Eventually(t, func() bool {
		recent := rec.Recent()
		return len(recent) == 4 && recent[0].Message == "event-5"
	}, 2*time.Second, 10*time.Millisecond)

	recent := rec.Recent()
	require.Len(t, recent, 4)
	// Newest first, oldest two evicted.
	assert.Equal(t, "event-5", recent[0].Message)
	assert.Equal(t, "event-4", recent[1].Message)
	assert.Equal(t, "event-3", recent[2].Message)
	assert.Equal(t, "event-2", recent[3].Message)

	rec.Stop()
}

func TestRecorderPartialRing(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	rec := NewRecorder(broker, 8)
	rec.Start()

	broker.Publish(&Event{Type: EventTokenIssued, Message: "one"})
	broker.Publish(&Event{Type: EventTokenRevoked, Message: "two"})

	require.Eventually(t, func() bool {
		return len(rec.Recent()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	recent := rec.Recent()
	assert.Equal(t, "two", recent[0].Message)
	assert.Equal(t, "one", recent[1].Message)

	rec.Stop()
}
