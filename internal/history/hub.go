package history

import (
	"context"
	"sync"
	"time"
)

type EventKind string

const (
	EventInserted EventKind = "inserted"
	EventDeleted  EventKind = "deleted"
	EventCleared  EventKind = "cleared"
	EventSwept    EventKind = "swept"
)

// Event describes one committed change to the store.
type Event struct {
	Kind  EventKind `json:"kind"`
	ID    int64     `json:"id,omitempty"`
	Count int64     `json:"count,omitempty"`
	At    time.Time `json:"at"`
}

// Hub fans store events out to subscribers. A subscriber whose buffer is
// full misses the event; writers never block on readers.
type Hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Event)}
}

// Subscribe returns a channel of events and a cancel func that closes it.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (h *Hub) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// ObservedStore publishes an Event on its hub after every committed mutation.
type ObservedStore struct {
	Store
	hub *Hub
}

func Observed(store Store, hub *Hub) *ObservedStore {
	return &ObservedStore{Store: store, hub: hub}
}

func (s *ObservedStore) Hub() *Hub {
	return s.hub
}

func (s *ObservedStore) Insert(ctx context.Context, rec Record) (int64, error) {
	id, err := s.Store.Insert(ctx, rec)
	if err != nil {
		return 0, err
	}
	s.hub.Publish(Event{Kind: EventInserted, ID: id, Count: 1})
	return id, nil
}

func (s *ObservedStore) DeleteOne(ctx context.Context, id int64) (bool, error) {
	removed, err := s.Store.DeleteOne(ctx, id)
	if err != nil || !removed {
		return removed, err
	}
	s.hub.Publish(Event{Kind: EventDeleted, ID: id, Count: 1})
	return true, nil
}

func (s *ObservedStore) DeleteAll(ctx context.Context) error {
	if err := s.Store.DeleteAll(ctx); err != nil {
		return err
	}
	s.hub.Publish(Event{Kind: EventCleared})
	return nil
}

func (s *ObservedStore) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.Store.SweepExpired(ctx, now)
	if err != nil || n == 0 {
		return n, err
	}
	s.hub.Publish(Event{Kind: EventSwept, Count: n})
	return n, nil
}
