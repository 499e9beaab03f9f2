package sync

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/drawbridge-dev/drawbridge/internal/logging"
)

// Inbound message types on the real-time channel.
const (
	msgJoin   = "join"
	msgLeave  = "leave"
	msgChange = "change"
	msgHello  = "hello"
)

const writeTimeout = 10 * time.Second

// clientMessage is what a connected editor sends over the channel.
type clientMessage struct {
	Type       string          `json:"type"`
	DocumentID string          `json:"documentId"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// hello is the first frame sent to every new connection, carrying the
// opaque identifier the client must echo-suppress against.
type hello struct {
	Type   string `json:"type"`
	ConnID string `json:"connId"`
}

// Gateway terminates websocket connections and bridges them into the hub.
type Gateway struct {
	hub      *Hub
	upgrader websocket.Upgrader
	logger   logging.Logger
}

// NewGateway creates a gateway over hub.
func NewGateway(hub *Hub, logger logging.Logger) *Gateway {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	return &Gateway{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The editor is served from arbitrary origins (desktop shells,
			// dev servers); the channel carries no credentials.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// ServeHTTP upgrades the request and runs the connection until it drops.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn(r.Context(), "sync: upgrade failed", "err", err)
		return
	}

	connID := uuid.NewString()
	member := NewMember(connID)

	if err := ws.WriteJSON(hello{Type: msgHello, ConnID: connID}); err != nil {
		g.logger.Warn(r.Context(), "sync: hello write failed", "err", err)
		_ = ws.Close()
		return
	}

	g.logger.Debug(r.Context(), "sync: client connected", "conn", connID)

	done := make(chan struct{})
	go g.writePump(ws, member, done)
	g.readPump(r, ws, member)

	close(done)
	g.hub.RemoveConn(connID)
	_ = ws.Close()
	g.logger.Debug(r.Context(), "sync: client disconnected", "conn", connID)
}

func (g *Gateway) readPump(r *http.Request, ws *websocket.Conn, member *Member) {
	for {
		var msg clientMessage
		if err := ws.ReadJSON(&msg); err != nil {
			return
		}
		if msg.DocumentID == "" {
			continue
		}

		switch msg.Type {
		case msgJoin:
			g.hub.Join(msg.DocumentID, member)
		case msgLeave:
			g.hub.Leave(msg.DocumentID, member.ID())
		case msgChange:
			// Fire-and-forget: the sender gets no acknowledgement and is
			// excluded from the fan-out.
			g.hub.Broadcast(r.Context(), msg.DocumentID, member.ID(), msg.Payload)
		}
	}
}

func (g *Gateway) writePump(ws *websocket.Conn, member *Member, done <-chan struct{}) {
	for {
		select {
		case ev := <-member.events:
			_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ws.WriteJSON(ev); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
