package bus

import (
	"sync"

	"github.com/google/uuid"

	"hyperregistry/internal/api"
	"hyperregistry/pkg/logging"
)

const subsystem = "Bus"

// DefaultMaxInbox bounds each subscriber's inbox.
const DefaultMaxInbox = 1024

type subscriber struct {
	id     string
	filter api.SubscriptionFilter
	inbox  chan api.ChangeEvent

	mu  sync.Mutex
	seq uint64
}

// Bus fans change events out to subscribers.
type Bus struct {
	maxInbox int

	mu          sync.RWMutex
	subscribers map[string]*subscriber

	statsMu sync.Mutex
	stats   Stats
}

// Stats counts bus activity.
type Stats struct {
	Published   uint64
	Delivered   uint64
	DroppedFull uint64
	Subscribers int
}

// New creates a bus. maxInbox <= 0 selects DefaultMaxInbox.
func New(maxInbox int) *Bus {
	if maxInbox <= 0 {
		maxInbox = DefaultMaxInbox
	}
	return &Bus{
		maxInbox:    maxInbox,
		subscribers: make(map[string]*subscriber),
	}
}

// Subscribe registers interest and returns the subscriber id and receive
// channel. The channel is closed by Unsubscribe.
func (b *Bus) Subscribe(filter api.SubscriptionFilter) (string, <-chan api.ChangeEvent) {
	sub := &subscriber{
		id:     uuid.NewString(),
		filter: filter,
		inbox:  make(chan api.ChangeEvent, b.maxInbox),
	}

	b.mu.Lock()
	b.subscribers[sub.id] = sub
	b.mu.Unlock()

	logging.Debug(subsystem, "Subscriber %s registered", sub.id)
	return sub.id, sub.inbox
}

// Unsubscribe removes the subscriber and closes its channel. Unknown ids
// are ignored.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
	}
	b.mu.Unlock()

	if ok {
		close(sub.inbox)
		logging.Debug(subsystem, "Subscriber %s removed", id)
	}
}

// Publish fans the event out to every matching subscriber. Never blocks:
// a full inbox drops its oldest event to make room, so slow consumers
// lose history rather than stalling writers.
func (b *Bus) Publish(ev api.ChangeEvent) {
	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		if sub.filter.Matches(ev) {
			subs = append(subs, sub)
		}
	}
	b.mu.RUnlock()

	b.statsMu.Lock()
	b.stats.Published++
	b.statsMu.Unlock()

	for _, sub := range subs {
		b.deliver(sub, ev)
	}
}

func (b *Bus) deliver(sub *subscriber, ev api.ChangeEvent) {
	// The per-subscriber lock keeps sequence assignment and enqueue
	// atomic, so sequence order in the inbox matches delivery order.
	sub.mu.Lock()
	defer sub.mu.Unlock()

	sub.seq++
	ev.SequenceID = sub.seq

	for {
		select {
		case sub.inbox <- ev:
			b.statsMu.Lock()
			b.stats.Delivered++
			b.statsMu.Unlock()
			return
		default:
		}
		// Inbox full: drop the oldest queued event and retry.
		select {
		case <-sub.inbox:
			b.statsMu.Lock()
			b.stats.DroppedFull++
			b.statsMu.Unlock()
			logging.Warn(subsystem, "Subscriber %s inbox full, dropped oldest event", sub.id)
		default:
		}
	}
}

// Redeliver re-enqueues an event for one subscriber keeping its original
// sequence id, so the consumer can deduplicate. Used by retry paths.
func (b *Bus) Redeliver(subscriberID string, ev api.ChangeEvent) bool {
	b.mu.RLock()
	sub, ok := b.subscribers[subscriberID]
	b.mu.RUnlock()
	if !ok {
		return false
	}

	sub.mu.Lock()
	defer sub.mu.Unlock()
	for {
		select {
		case sub.inbox <- ev:
			return true
		default:
		}
		select {
		case <-sub.inbox:
			b.statsMu.Lock()
			b.stats.DroppedFull++
			b.statsMu.Unlock()
		default:
		}
	}
}

// Stats returns a snapshot of the counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	n := len(b.subscribers)
	b.mu.RUnlock()

	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	out := b.stats
	out.Subscribers = n
	return out
}
