package broadcast

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(hub *Hub, userID int64, buffer int) *Client {
	c := &Client{
		hub:    hub,
		send:   make(chan []byte, buffer),
		userID: userID,
		scopes: map[string]struct{}{},
	}
	hub.attach(c)
	return c
}

func drain(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case raw := <-c.send:
		var ev Event
		require.NoError(t, json.Unmarshal(raw, &ev))
		return ev
	default:
		t.Fatal("no event queued")
		return Event{}
	}
}

func TestPublishReachesScopeSubscribers(t *testing.T) {
	hub := NewHub()
	listener := newTestClient(hub, 1, 8)
	bystander := newTestClient(hub, 2, 8)
	hub.subscribe(listener, ListScope(42))
	hub.subscribe(bystander, ListScope(99))

	hub.Publish(ListScope(42), "item_added", map[string]any{"title": "Milk"})

	ev := drain(t, listener)
	assert.Equal(t, "item_added", ev.Event)
	assert.Equal(t, ListScope(42), ev.Scope)
	assert.Empty(t, bystander.send, "other scopes must not receive the event")
}

func TestDispatcherFansOutToDashboardAndList(t *testing.T) {
	hub := NewHub()
	dash := newTestClient(hub, 7, 8)
	watcher := newTestClient(hub, 7, 8)
	hub.subscribe(dash, DashboardScope(7))
	hub.subscribe(watcher, ListScope(3))

	NewDispatcher(hub).ListMutated(7, 3, "item_completed", nil)

	assert.Equal(t, "item_completed", drain(t, dash).Event)
	assert.Equal(t, "item_completed", drain(t, watcher).Event)
}

func TestSlowConsumerIsDropped(t *testing.T) {
	hub := NewHub()
	slow := newTestClient(hub, 1, 1)
	healthy := newTestClient(hub, 2, 8)
	hub.subscribe(slow, ListScope(5))
	hub.subscribe(healthy, ListScope(5))

	hub.Publish(ListScope(5), "first", nil)  // fills the slow buffer
	hub.Publish(ListScope(5), "second", nil) // overflows it

	assert.Equal(t, 1, hub.SubscriberCount(ListScope(5)), "slow consumer must be gone")
	assert.Len(t, healthy.send, 2, "healthy consumer keeps receiving")

	// The dropped client's channel is closed.
	_, open := <-slow.send
	_ = open // first buffered event
	_, open = <-slow.send
	assert.False(t, open)
}

func TestDetachTwiceIsSafe(t *testing.T) {
	hub := NewHub()
	c := newTestClient(hub, 1, 1)
	hub.subscribe(c, DashboardScope(1))

	hub.detach(c)
	hub.detach(c)
	assert.Equal(t, 0, hub.SubscriberCount(DashboardScope(1)))
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub()
	c := newTestClient(hub, 1, 8)
	hub.subscribe(c, ListScope(9))
	hub.unsubscribe(c, ListScope(9))

	hub.Publish(ListScope(9), "item_added", nil)
	assert.Empty(t, c.send)
}
