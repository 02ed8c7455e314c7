// Package notify implements the process-wide notification fan-out: a
// single sender publishes Notification values, any number of
// WebSocket subscribers receive them. Delivery is best-effort; a slow
// subscriber is dropped rather than ever blocking the producer.
package notify

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Notification is the wire value handed to WebSocket consumers:
// {kind, data}, serialized as JSON.
type Notification struct {
	Kind string `json:"kind"`
	Data any    `json:"data"`
}

// subscriberBuffer is the per-subscriber channel capacity; a
// subscriber that falls this far behind is treated as slow and
// disconnected rather than ever blocking Publish.
const subscriberBuffer = 64

// Bus is the single-sender, many-subscriber notification channel.
// Publish is safe to call from any goroutine.
type Bus struct {
	log *logrus.Entry

	mu          sync.Mutex
	subscribers map[int]chan Notification
	nextID      int
}

// NewBus builds an empty Bus.
func NewBus(log *logrus.Logger) *Bus {
	if log == nil {
		log = logrus.New()
	}
	return &Bus{
		log:         log.WithField("component", "notify.bus"),
		subscribers: make(map[int]chan Notification),
	}
}

// Publish implements device.Notifier and tasks.Notifier: it wraps
// kind/data into a Notification and fans it out to every current
// subscriber without blocking on any of them.
func (b *Bus) Publish(kind string, data any) {
	n := Notification{Kind: kind, Data: data}

	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subscribers {
		select {
		case ch <- n:
		default:
			b.log.Warn("notification subscriber buffer full, disconnecting slow subscriber")
			delete(b.subscribers, id)
			close(ch)
		}
	}
}

// Subscribe registers a new receiver and returns it along with an
// unsubscribe function the caller must invoke when done.
func (b *Bus) Subscribe() (<-chan Notification, func()) {
	ch := make(chan Notification, subscriberBuffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subscribers[id] = ch
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if existing, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(existing)
		}
		b.mu.Unlock()
	}
	return ch, unsubscribe
}

// SubscriberCount reports how many WebSocket clients are currently
// attached, mostly useful for tests and health reporting.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}
