package realtime

import (
	"context"
	"sync"
	"time"
)

const (
	// EventNotificationCreated announces a new notification record for the
	// subscribed operator.
	EventNotificationCreated = "notification-created"
	// EventPostStatusChanged announces a change to a post's per-platform
	// publish-status fields.
	EventPostStatusChanged = "post-status-changed"
)

// Message is one change event delivered to subscribers.
type Message struct {
	RecipientID string
	EventType   string
	SourceID    string
	RecordID    string
	Payload     string
	Timestamp   time.Time
}

// Dispatcher fans change events out to per-operator subscriber channels.
// Publishing never blocks: a subscriber that cannot keep up misses events
// and recovers through the polling fallback.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*subscriber
	nextID      int64
	bufferSize  int
}

type subscriber struct {
	id     int64
	stream chan Message
}

// NewDispatcher constructs an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[string]map[int64]*subscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a stream for one recipient. The returned cleanup is
// idempotent and also runs when the context is cancelled.
func (d *Dispatcher) Subscribe(ctx context.Context, recipientID string) (<-chan Message, func()) {
	if recipientID == "" {
		ch := make(chan Message)
		close(ch)
		return ch, func() {}
	}
	entry := &subscriber{
		id:     d.nextSequence(),
		stream: make(chan Message, d.bufferSize),
	}
	d.register(recipientID, entry)
	cleanup := func() {
		d.unregister(recipientID, entry.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return entry.stream, cleanup
}

// Publish delivers the message to every subscriber of its recipient.
func (d *Dispatcher) Publish(message Message) {
	if message.RecipientID == "" || message.EventType == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.RecipientID]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*subscriber, 0, len(subscribers))
	for _, entry := range subscribers {
		copies = append(copies, entry)
	}
	d.mu.RUnlock()
	for _, entry := range copies {
		select {
		case entry.stream <- message:
		default:
		}
	}
}

func (d *Dispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *Dispatcher) register(recipientID string, entry *subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[recipientID]; !ok {
		d.subscribers[recipientID] = make(map[int64]*subscriber)
	}
	d.subscribers[recipientID][entry.id] = entry
}

func (d *Dispatcher) unregister(recipientID string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[recipientID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, recipientID)
		}
	}
	d.mu.Unlock()
}
