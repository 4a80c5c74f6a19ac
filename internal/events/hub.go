package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the dispatcher components.
const (
	RunnerRegistered = "runner.registered"
	RunnerEvicted    = "runner.evicted"
	CommitQueued     = "commit.queued"
	CommitDispatched = "commit.dispatched"
	CommitRequeued   = "commit.requeued"
	CommitCompleted  = "commit.completed"
	Redistributed    = "scheduler.redistributed"
)

type Event struct {
	ID   int64     `json:"id"`
	Type string    `json:"type"`
	At   time.Time `json:"at"`
	Data []byte    `json:"data"` // JSON payload
}

// Hub is an in-memory pub/sub with a small ring buffer for late clients.
type Hub struct {
	nextID atomic.Int64

	mu   sync.Mutex
	ring []Event
	head int
	n    int

	subs      map[int]chan Event
	nextSubID int
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 128
	}
	return &Hub{
		ring: make([]Event, capacity),
		subs: make(map[int]chan Event),
	}
}

// Publish records and fans out one event. Publishing on a nil *Hub is a
// no-op so components can run without one.
func (h *Hub) Publish(eventType string, data any) {
	if h == nil {
		return
	}

	payload := []byte("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}
	ev := Event{
		ID:   h.nextID.Add(1),
		Type: eventType,
		At:   time.Now().UTC(),
		Data: payload,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.record(ev)
	for _, ch := range h.subs {
		// Slow subscribers miss events rather than stall the dispatcher.
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe returns a live event channel and a cancel func that closes it.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSubID
	h.nextSubID++
	ch := make(chan Event, 64)
	h.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			close(ch)
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

// Since returns buffered events with ID > lastID, oldest first.
func (h *Hub) Since(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, h.n)
	for i := 0; i < h.n; i++ {
		ev := h.ring[(h.head+i)%len(h.ring)]
		if ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}

func (h *Hub) record(ev Event) {
	if h.n < len(h.ring) {
		h.ring[(h.head+h.n)%len(h.ring)] = ev
		h.n++
		return
	}
	h.ring[h.head] = ev
	h.head = (h.head + 1) % len(h.ring)
}
