package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harun/ggbconnect/pkg/relay"
)

// Error bodies matching the original public API
const (
	notFoundBody = "Session with specified id not found."
)

// subscribeRequest is the message a websocket client sends to join a
// session's broadcast group.
type subscribeRequest struct {
	Action    string `json:"action"`
	SessionID string `json:"sessionId"`
}

// subscribeAck answers a subscribe request
type subscribeAck struct {
	Event     string `json:"event,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// commandRequest is the POST /command body
type commandRequest struct {
	SessionID string `json:"sessionId"`
	Command   string `json:"command"`
}

// saveRequest is the POST /saveCurrSession body
type saveRequest struct {
	ID string `json:"id"`
}

// releaseRequest is the POST /release body
type releaseRequest struct {
	SessionID string `json:"sessionId"`
}

// Client is one websocket connection. It implements relay.Subscriber so the
// relay can deliver events directly; writes are serialized by a mutex since
// gorilla/websocket allows only one concurrent writer.
type Client struct {
	id           string
	conn         *websocket.Conn
	connectedAt  time.Time
	lastActivity time.Time
	ipAddress    string

	writeMu sync.Mutex
}

// ID returns the connection's identity
func (c *Client) ID() string { return c.id }

// Send delivers one relayed event over the websocket
func (c *Client) Send(event relay.Event) error {
	return c.WriteJSON(event)
}

// WriteJSON writes a JSON message under the connection's write lock
func (c *Client) WriteJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

// ClientInfo is a read-only view of a connected client
type ClientInfo struct {
	ID           string    `json:"id"`
	ConnectedAt  time.Time `json:"connectedAt"`
	LastActivity time.Time `json:"lastActivity"`
	IPAddress    string    `json:"ipAddress"`
}
