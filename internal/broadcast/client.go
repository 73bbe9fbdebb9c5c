package broadcast

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Authorizer decides whether a user may listen on a scope. The dashboard
// scope of the user themselves is always allowed.
type Authorizer interface {
	Allowed(userID int64, scope string) bool
}

// Client is one websocket connection with its scope subscriptions.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID int64
	auth   Authorizer
	scopes map[string]struct{}
}

// control is the inbound message shape: clients only ever send
// subscribe/unsubscribe requests.
type control struct {
	Action string `json:"action"`
	Scope  string `json:"scope"`
}

// ServeWS upgrades the request and attaches the connection to the hub,
// pre-subscribed to the user's own dashboard scope.
func ServeWS(hub *Hub, auth Authorizer, userID int64, w http.ResponseWriter, r *http.Request) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		userID: userID,
		auth:   auth,
		scopes: map[string]struct{}{},
	}
	hub.attach(c)
	hub.subscribe(c, DashboardScope(userID))

	go c.writePump()
	go c.readPump()
	return nil
}

func (c *Client) readPump() {
	defer func() {
		c.hub.detach(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("broadcast: read error: %v", err)
			}
			return
		}
		var msg control
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		switch msg.Action {
		case "subscribe":
			if c.allowed(msg.Scope) {
				c.hub.subscribe(c, msg.Scope)
			}
		case "unsubscribe":
			c.hub.unsubscribe(c, msg.Scope)
		}
	}
}

func (c *Client) allowed(scope string) bool {
	if scope == "" {
		return false
	}
	if scope == DashboardScope(c.userID) {
		return true
	}
	return c.auth != nil && c.auth.Allowed(c.userID, scope)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
