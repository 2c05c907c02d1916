package realtime

import (
	"context"
	"log/slog"
	"sync"
)

// Client is one websocket connection belonging to a user.
type Client struct {
	UserID string
	send   chan Event
}

// Events yields events addressed to the client. It is closed when the hub
// drops the client.
func (c *Client) Events() <-chan Event {
	return c.send
}

// Hub tracks connected clients per user and delivers events to them.
type Hub struct {
	mu      sync.Mutex
	clients map[string]map[*Client]struct{}
	buffer  int
	dropped int
}

// NewHub creates a hub whose clients buffer up to buffer events.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 32
	}
	return &Hub{clients: make(map[string]map[*Client]struct{}), buffer: buffer}
}

// Register adds a client for userID.
func (h *Hub) Register(userID string) *Client {
	c := &Client{UserID: userID, send: make(chan Event, h.buffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[userID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[userID] = set
	}
	set[c] = struct{}{}
	return c
}

// Unregister removes c and closes its event channel. Calling it twice is safe.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remove(c)
}

func (h *Hub) remove(c *Client) {
	set, ok := h.clients[c.UserID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.UserID)
	}
	close(c.send)
}

// Deliver queues e for every client of every addressed user. A client whose
// buffer is full is dropped.
func (h *Hub) Deliver(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, userID := range e.UserIDs {
		for c := range h.clients[userID] {
			select {
			case c.send <- e:
			default:
				slog.Warn("dropping slow realtime client", "user_id", userID, "topic", e.Topic)
				h.dropped++
				h.remove(c)
			}
		}
	}
}

// Run subscribes the hub to bus until ctx is done.
func (h *Hub) Run(ctx context.Context, bus Bus) error {
	if err := bus.Subscribe(ctx, h.Deliver); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

// ClientCount returns the number of connections userID has open.
func (h *Hub) ClientCount(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[userID])
}

// Dropped returns the number of clients dropped for being slow.
func (h *Hub) Dropped() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}
