// Package events provides a publish-subscribe bus for device lifecycle
// events.
package events

import (
	"sync"
	"time"
)

const subBufferSize = 16

// Type is the kind of lifecycle transition an Event reports.
type Type string

const (
	Added       Type = "added"
	Bound       Type = "bound"
	ProbeFailed Type = "probe_failed"
	Unbound     Type = "unbound"
	Deleted     Type = "deleted"
)

// Event is one device lifecycle transition.
type Event struct {
	Time   time.Time `json:"time"`
	Type   Type      `json:"type"`
	Device string    `json:"device"`
	Driver string    `json:"driver,omitempty"`
	Error  string    `json:"error,omitempty"`
}

// Bus is a non-blocking publish-subscribe event bus.
// Subscribers that are slow to consume events will have events dropped rather
// than blocking publishers.
type Bus struct {
	mu   sync.Mutex
	subs map[string]chan Event
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[string]chan Event),
	}
}

// Subscribe creates a new subscription with the given ID.
// Call Unsubscribe when done to clean up.
func (b *Bus) Subscribe(id string) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, subBufferSize)
	b.subs[id] = ch
	return ch
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish sends ev to all subscribers, stamping it if Time is zero.
func (b *Bus) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Drop if subscriber is slow
		}
	}
}

// SubscriberCount returns the current number of subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
