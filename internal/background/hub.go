package background

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/prwatch/internal/auth"
	"github.com/dmitrijs2005/prwatch/internal/notify"
	"github.com/dmitrijs2005/prwatch/internal/timex"
)

const subscriberBuffer = 16

// Hub fans broadcasts out to subscribers. Delivery is best effort: a
// subscriber whose buffer is full misses the event.
type Hub struct {
	mu    sync.Mutex
	subs  map[int]chan Event
	next  int
	clock timex.Clock
}

func NewHub(clock timex.Clock) *Hub {
	return &Hub{subs: make(map[int]chan Event), clock: clock}
}

// Subscribe returns a channel of events and a function that closes it.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.next
	h.next++
	ch := make(chan Event, subscriberBuffer)
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			close(ch)
		})
	}
}

func (h *Hub) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = h.clock.Now()
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

func (h *Hub) DataUpdated(context.Context) {
	h.Publish(Event{Type: EventDataUpdated})
}

func (h *Hub) ShowError(_ context.Context, message string) {
	h.Publish(Event{Type: EventShowError, Message: message})
}

func (h *Hub) AuthStateChanged(_ context.Context, s auth.State) {
	h.Publish(Event{Type: EventAuthStateChanged, State: string(s)})
}

// Notify publishes n as a NOTIFICATION event, letting a hub stand in for a
// desktop notifier.
func (h *Hub) Notify(_ context.Context, n notify.Notification) error {
	h.Publish(Event{Type: EventNotification, Title: n.Title, Message: n.Message, Timestamp: n.Time})
	return nil
}
