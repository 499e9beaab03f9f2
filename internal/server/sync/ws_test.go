package sync

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wsClient struct {
	t      *testing.T
	conn   *websocket.Conn
	connID string
}

func dialGateway(t *testing.T, srv *httptest.Server) *wsClient {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var h hello
	require.NoError(t, conn.ReadJSON(&h))
	require.Equal(t, msgHello, h.Type)
	require.NotEmpty(t, h.ConnID)

	return &wsClient{t: t, conn: conn, connID: h.ConnID}
}

func (c *wsClient) send(msgType, documentID string, payload json.RawMessage) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(clientMessage{Type: msgType, DocumentID: documentID, Payload: payload}))
}

func (c *wsClient) readEvent() Event {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev Event
	require.NoError(c.t, c.conn.ReadJSON(&ev))
	return ev
}

func (c *wsClient) expectSilence() {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	var ev Event
	err := c.conn.ReadJSON(&ev)
	require.Error(c.t, err, "unexpected event: %+v", ev)
}

func waitForRoomSize(t *testing.T, hub *Hub, documentID string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.RoomSize(documentID) == n },
		2*time.Second, 5*time.Millisecond)
}

func TestGatewayBroadcast(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(NewGateway(hub, nil))
	defer srv.Close()

	editor := dialGateway(t, srv)
	peer := dialGateway(t, srv)
	require.NotEqual(t, editor.connID, peer.connID)

	editor.send(msgJoin, "doc-1", nil)
	peer.send(msgJoin, "doc-1", nil)
	waitForRoomSize(t, hub, "doc-1", 2)

	editor.send(msgChange, "doc-1", json.RawMessage(`{"title":"renamed"}`))

	ev := peer.readEvent()
	assert.Equal(t, "change", ev.Type)
	assert.Equal(t, "doc-1", ev.DocumentID)
	assert.Equal(t, editor.connID, ev.UpdatedBy)
	assert.JSONEq(t, `{"title":"renamed"}`, string(ev.Payload))

	// The sender gets no echo and no acknowledgement.
	editor.expectSilence()
}

func TestGatewayLeaveStopsDelivery(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(NewGateway(hub, nil))
	defer srv.Close()

	editor := dialGateway(t, srv)
	peer := dialGateway(t, srv)

	editor.send(msgJoin, "doc-1", nil)
	peer.send(msgJoin, "doc-1", nil)
	waitForRoomSize(t, hub, "doc-1", 2)

	peer.send(msgLeave, "doc-1", nil)
	waitForRoomSize(t, hub, "doc-1", 1)

	editor.send(msgChange, "doc-1", nil)
	peer.expectSilence()
}

func TestGatewayDisconnectCleansRooms(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(NewGateway(hub, nil))
	defer srv.Close()

	editor := dialGateway(t, srv)
	editor.send(msgJoin, "doc-1", nil)
	editor.send(msgJoin, "doc-2", nil)
	waitForRoomSize(t, hub, "doc-1", 1)
	waitForRoomSize(t, hub, "doc-2", 1)

	editor.conn.Close()

	waitForRoomSize(t, hub, "doc-1", 0)
	waitForRoomSize(t, hub, "doc-2", 0)
}

func TestGatewayIgnoresMalformedMessages(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(NewGateway(hub, nil))
	defer srv.Close()

	editor := dialGateway(t, srv)
	peer := dialGateway(t, srv)

	editor.send(msgJoin, "doc-1", nil)
	peer.send(msgJoin, "doc-1", nil)
	waitForRoomSize(t, hub, "doc-1", 2)

	// Unknown type and missing document id are dropped without killing the
	// connection.
	editor.send("ping", "doc-1", nil)
	editor.send(msgChange, "", nil)

	editor.send(msgChange, "doc-1", json.RawMessage(`{"v":1}`))
	ev := peer.readEvent()
	assert.Equal(t, "doc-1", ev.DocumentID)
}
