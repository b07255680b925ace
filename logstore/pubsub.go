package logstore

import (
	"sync"
	"sync/atomic"

	"github.com/INLOpen/mimir/core"
)

// DefaultSubscriberBuffer is the channel capacity used when none is configured.
const DefaultSubscriberBuffer = 256

// Subscription represents a client's subscription to new log entries.
type Subscription struct {
	ID      uint64
	Updates chan core.Envelope // Channel to send envelopes to the subscriber.
	Filter  SubscriptionFilter
	Close   func() // Function to close the subscription.

	dropped atomic.Uint64
}

// Dropped returns how many envelopes were not delivered because the
// subscriber's channel was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// SubscriptionFilter defines the criteria for a subscription.
type SubscriptionFilter struct {
	// Keys, when set, restricts delivery to entries containing every key.
	Keys []string
}

// Matches checks if a given envelope matches the filter.
func (f *SubscriptionFilter) Matches(env core.Envelope) bool {
	return env.Entry.HasAll(f.Keys...)
}

// PubSub handles real-time entry subscriptions.
type PubSub struct {
	mu          sync.RWMutex
	subscribers map[uint64]*Subscription
	nextID      uint64
	bufferSize  int
}

// NewPubSub creates a new PubSub system.
func NewPubSub(bufferSize int) *PubSub {
	if bufferSize <= 0 {
		bufferSize = DefaultSubscriberBuffer
	}
	return &PubSub{
		subscribers: make(map[uint64]*Subscription),
		bufferSize:  bufferSize,
	}
}

// Subscribe creates a new subscription and returns it.
func (ps *PubSub) Subscribe(filter SubscriptionFilter) *Subscription {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.nextID++
	sub := &Subscription{
		ID:      ps.nextID,
		Updates: make(chan core.Envelope, ps.bufferSize),
		Filter:  filter,
	}
	sub.Close = func() {
		ps.Unsubscribe(sub.ID)
	}

	ps.subscribers[sub.ID] = sub
	return sub
}

// Unsubscribe removes a subscription.
func (ps *PubSub) Unsubscribe(id uint64) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if sub, ok := ps.subscribers[id]; ok {
		close(sub.Updates)
		delete(ps.subscribers, id)
	}
}

// CloseAll removes every subscription.
func (ps *PubSub) CloseAll() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for id, sub := range ps.subscribers {
		close(sub.Updates)
		delete(ps.subscribers, id)
	}
}

// Publish sends an envelope to all matching subscribers.
func (ps *PubSub) Publish(env core.Envelope) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	for _, sub := range ps.subscribers {
		if sub.Filter.Matches(env) {
			// Non-blocking send to avoid a slow subscriber from blocking the write path.
			select {
			case sub.Updates <- env:
			default:
				sub.dropped.Add(1)
			}
		}
	}
}
