package delegation

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Event records one change to the grant relation. Idempotent no-op calls do
// not produce events.
type Event struct {
	ID       uuid.UUID      `json:"id"`
	Holder   common.Address `json:"holder"`
	Delegate common.Address `json:"delegate"`
	Enabled  bool           `json:"enabled"`
	At       time.Time      `json:"at"`
}

const defaultRecentEvents = 256

// EventFeed fans delegation-changed events out to subscribers and keeps a
// bounded ring of recent events for observers that poll instead of
// subscribing.
type EventFeed struct {
	mu     sync.Mutex
	subs   map[uuid.UUID]chan Event
	recent []Event
	limit  int
}

// NewEventFeed creates a feed retaining up to limit recent events.
// A non-positive limit selects the default.
func NewEventFeed(limit int) *EventFeed {
	if limit <= 0 {
		limit = defaultRecentEvents
	}
	return &EventFeed{
		subs:  make(map[uuid.UUID]chan Event),
		limit: limit,
	}
}

// Subscribe registers a subscriber and returns its channel along with a
// cancel function. Slow subscribers miss events rather than blocking the
// registry.
func (f *EventFeed) Subscribe() (<-chan Event, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := uuid.New()
	ch := make(chan Event, 16)
	f.subs[id] = ch

	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if sub, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish records the event and delivers it to every subscriber without
// blocking.
func (f *EventFeed) Publish(event Event) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.recent = append(f.recent, event)
	if len(f.recent) > f.limit {
		f.recent = f.recent[len(f.recent)-f.limit:]
	}

	for _, ch := range f.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Recent returns the retained events, oldest first.
func (f *EventFeed) Recent() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Event, len(f.recent))
	copy(out, f.recent)
	return out
}
