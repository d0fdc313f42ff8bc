package events

import "sync"

// Recorder subscribes to a broker and keeps the most recent events in a
// fixed-size ring. The ops API serves the ring as the hub's recent
// activity feed.
type Recorder struct {
	broker   *Broker
	capacity int

	mu   sync.Mutex
	ring []*Event
	next int
	full bool

	sub    Subscriber
	doneCh chan struct{}
}

// NewRecorder creates a recorder holding up to capacity events.
func NewRecorder(broker *Broker, capacity int) *Recorder {
	if capacity <= 0 {
		capacity = 256
	}
	return &Recorder{
		broker:   broker,
		capacity: capacity,
		ring:     make([]*Event, capacity),
		doneCh:   make(chan struct{}),
	}
}

// Start subscribes and begins recording.
func (r *Recorder) Start() {
	r.sub = r.broker.Subscribe()
	go r.run()
}

// Stop unsubscribes and waits for the recording loop to drain.
func (r *Recorder) Stop() {
	r.broker.Unsubscribe(r.sub)
	<-r.doneCh
}

func (r *Recorder) run() {
	defer close(r.doneCh)
	for event := range r.sub {
		r.record(event)
	}
}

func (r *Recorder) record(event *Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ring[r.next] = event
	r.next = (r.next + 1) % r.capacity
	if r.next == 0 {
		r.full = true
	}
}

// Recent returns recorded events, newest first.
func (r *Recorder) Recent() []*Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := r.next
	if r.full {
		size = r.capacity
	}

	out := make([]*Event, 0, size)
	for i := 1; i <= size; i++ {
		idx := (r.next - i + r.capacity) % r.capacity
		out = append(out, r.ring[idx])
	}
	return out
}
