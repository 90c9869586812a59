/*
subscription.go - In-process change feed

PURPOSE:
  Dashboards watch collections live: an owner's inbox updates when a
  request arrives, a payer's ledger updates when an approval lands. The
  Hub is the observer abstraction behind that: services publish
  ChangeEvents after each commit, subscribers receive them on a channel
  until they cancel.

GUARANTEES:
  - A Subscription yields events for its topic until Cancel() is called.
  - Cancel is idempotent and safe from any goroutine; it must run on
    view teardown so listeners never leak.
  - Delivery is best-effort per subscriber: a consumer that stops
    draining loses events rather than blocking publishers. The durable
    record is the store (and the outbox feed), not this hub.
*/
package marketplace

import "sync"

// =============================================================================
// SUBSCRIPTION
// =============================================================================

// Subscription is a cancellable stream of change events for one topic.
type Subscription struct {
	C chan ChangeEvent

	hub    *Hub
	topic  Topic
	id     int
	cancel sync.Once
}

// Cancel detaches the subscription and closes its channel.
func (s *Subscription) Cancel() {
	s.cancel.Do(func() {
		s.hub.remove(s.topic, s.id)
		close(s.C)
	})
}

// =============================================================================
// HUB
// =============================================================================

const subscriptionBuffer = 64

// Hub fans change events out to per-topic subscribers.
type Hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[Topic]map[int]*Subscription
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[Topic]map[int]*Subscription)}
}

// Subscribe registers a listener for one topic.
func (h *Hub) Subscribe(topic Topic) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscription{
		C:     make(chan ChangeEvent, subscriptionBuffer),
		hub:   h,
		topic: topic,
		id:    h.nextID,
	}
	if h.subs[topic] == nil {
		h.subs[topic] = make(map[int]*Subscription)
	}
	h.subs[topic][sub.id] = sub
	return sub
}

// Publish delivers an event to every subscriber of its topic.
// Subscribers with full buffers are skipped.
func (h *Hub) Publish(ev ChangeEvent) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.subs[ev.Topic] {
		select {
		case sub.C <- ev:
		default:
		}
	}
}

func (h *Hub) remove(topic Topic, id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs[topic], id)
}
