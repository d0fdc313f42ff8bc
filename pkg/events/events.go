package events

import (
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of lifecycle event
type EventType string

const (
	EventInstanceQueued    EventType = "instance.queued"
	EventInstanceRunning   EventType = "instance.running"
	EventInstanceFailed    EventType = "instance.failed"
	EventInstanceSuspended EventType = "instance.suspended"
	EventInstanceResumed   EventType = "instance.resumed"
	EventInstanceDestroyed EventType = "instance.destroyed"
	EventReconcilerDrift   EventType = "reconciler.drift"
	EventReconcilerHealed  EventType = "reconciler.healed"
	EventTokenIssued       EventType = "federation.token_issued"
	EventTokenRevoked      EventType = "federation.token_revoked"
)

// Event represents one hub lifecycle event
type Event struct {
	ID         string            `json:"id"`
	Type       EventType         `json:"type"`
	InstanceID int64             `json:"instance_id,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	Message    string            `json:"message,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// NewInstanceEvent builds an event tied to a managed instance.
func NewInstanceEvent(t EventType, instanceID int64, message string) *Event {
	return &Event{
		Type:       t,
		InstanceID: instanceID,
		Message:    message,
		Metadata:   map[string]string{"instance_id": strconv.FormatInt(instanceID, 10)},
	}
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker manages event subscriptions and distribution
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100), // Buffer up to 100 events
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50) // Buffer per subscriber
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers. The event ID and
// timestamp are stamped here when unset.
func (b *Broker) Publish(event *Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
