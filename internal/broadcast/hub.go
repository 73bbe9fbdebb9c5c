package broadcast

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"
)

// Scope naming. Dashboard scopes fan out everything about one user's lists;
// list scopes carry changes to a single list.

func DashboardScope(userID int64) string { return fmt.Sprintf("user:%d:dashboard", userID) }
func ListScope(listID int64) string      { return fmt.Sprintf("list:%d", listID) }

// Event is one change notification on the wire.
type Event struct {
	Scope   string    `json:"scope"`
	Event   string    `json:"event"`
	Payload any       `json:"payload,omitempty"`
	At      time.Time `json:"at"`
}

// Hub tracks which clients listen on which scopes and fans events out.
// Delivery is at most once: a client whose send buffer is full is dropped
// rather than ever blocking a publish.
type Hub struct {
	mu    sync.RWMutex
	subs  map[string]map[*Client]struct{}
	conns map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		subs:  map[string]map[*Client]struct{}{},
		conns: map[*Client]struct{}{},
	}
}

func (h *Hub) attach(c *Client) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
}

// detach removes the client from every scope and closes its send channel.
// Safe to call more than once.
func (h *Hub) detach(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c]; !ok {
		return
	}
	delete(h.conns, c)
	for scope := range c.scopes {
		h.dropFromScope(c, scope)
	}
	close(c.send)
}

func (h *Hub) subscribe(c *Client, scope string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c]; !ok {
		return
	}
	set, ok := h.subs[scope]
	if !ok {
		set = map[*Client]struct{}{}
		h.subs[scope] = set
	}
	set[c] = struct{}{}
	c.scopes[scope] = struct{}{}
}

func (h *Hub) unsubscribe(c *Client, scope string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropFromScope(c, scope)
	delete(c.scopes, scope)
}

// dropFromScope must run under h.mu.
func (h *Hub) dropFromScope(c *Client, scope string) {
	if set, ok := h.subs[scope]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.subs, scope)
		}
	}
}

// Publish fans one event out to every subscriber of the scope. Slow
// consumers are disconnected instead of delaying anyone else.
func (h *Hub) Publish(scope, event string, payload any) {
	data, err := json.Marshal(Event{
		Scope:   scope,
		Event:   event,
		Payload: payload,
		At:      time.Now().UTC(),
	})
	if err != nil {
		log.Printf("broadcast: encode %s event for %s: %v", event, scope, err)
		return
	}

	h.mu.RLock()
	var slow []*Client
	for c := range h.subs[scope] {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		log.Printf("broadcast: dropping slow consumer on %s", scope)
		h.detach(c)
	}
}

// SubscriberCount reports how many clients listen on a scope.
func (h *Hub) SubscriberCount(scope string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[scope])
}
