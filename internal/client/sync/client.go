// Package sync is the client side of the real-time channel: it dials the
// gateway, learns its own connection id from the hello frame, and delivers
// change events for other clients' writes to a handler.
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/drawbridge-dev/drawbridge/internal/logging"
)

// ChangeEvent is a change notification received from the gateway.
type ChangeEvent struct {
	Type       string          `json:"type"`
	DocumentID string          `json:"documentId"`
	UpdatedBy  string          `json:"updatedBy"`
	Timestamp  time.Time       `json:"timestamp"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

type outbound struct {
	Type       string          `json:"type"`
	DocumentID string          `json:"documentId"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Client is one live connection to the gateway.
type Client struct {
	conn    *websocket.Conn
	connID  string
	writeMu stdsync.Mutex
	handler func(ChangeEvent)
	logger  logging.Logger
}

// Dial connects to wsURL (e.g. "ws://127.0.0.1:8080/ws"), waits for the
// hello frame carrying this connection's identifier, and starts delivering
// change events to onChange from a background goroutine.
func Dial(ctx context.Context, wsURL string, onChange func(ChangeEvent), logger logging.Logger) (*Client, error) {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("gateway dial: %w", err)
	}

	var hello struct {
		Type   string `json:"type"`
		ConnID string `json:"connId"`
	}
	if err := conn.ReadJSON(&hello); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("gateway hello: %w", err)
	}
	if hello.Type != "hello" || hello.ConnID == "" {
		_ = conn.Close()
		return nil, fmt.Errorf("gateway hello: unexpected frame %q", hello.Type)
	}

	c := &Client{conn: conn, connID: hello.ConnID, handler: onChange, logger: logger}
	go c.readLoop(ctx)

	return c, nil
}

// ConnID returns the identifier assigned by the gateway. Events whose
// UpdatedBy equals this id are this client's own echoes.
func (c *Client) ConnID() string { return c.connID }

// Join subscribes to change events for a document.
func (c *Client) Join(documentID string) error {
	return c.write(outbound{Type: "join", DocumentID: documentID})
}

// Leave unsubscribes from a document's room.
func (c *Client) Leave(documentID string) error {
	return c.write(outbound{Type: "leave", DocumentID: documentID})
}

// SendChange notifies other room members that this client changed the
// document. Fire-and-forget; no acknowledgement is expected.
func (c *Client) SendChange(documentID string, payload json.RawMessage) error {
	return c.write(outbound{Type: "change", DocumentID: documentID, Payload: payload})
}

// Close tears down the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) write(msg outbound) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(msg)
}

func (c *Client) readLoop(ctx context.Context) {
	for {
		var ev ChangeEvent
		if err := c.conn.ReadJSON(&ev); err != nil {
			// A dropped connection just means missed events; the controller
			// re-derives state by re-fetching the document.
			c.logger.Debug(ctx, "gateway connection closed", "err", err)
			return
		}
		if ev.Type != "change" || c.handler == nil {
			continue
		}
		c.handler(ev)
	}
}
