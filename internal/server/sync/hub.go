// Package sync is the real-time push gateway: it groups client connections
// into rooms keyed by document id and rebroadcasts change notifications to
// every room member except the originator. Membership is ephemeral and
// in-memory only; it is rebuilt from scratch on restart and is never a
// source of truth for document content.
package sync

import (
	"context"
	"encoding/json"
	stdsync "sync"
	"time"

	"github.com/drawbridge-dev/drawbridge/internal/logging"
)

// Event is a change notification delivered to room members.
type Event struct {
	Type       string          `json:"type"`
	DocumentID string          `json:"documentId"`
	UpdatedBy  string          `json:"updatedBy"`
	Timestamp  time.Time       `json:"timestamp"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// memberQueueSize bounds each member's delivery queue. A member that falls
// this far behind starts losing events; delivery is best-effort at-most-once
// and clients recover by re-fetching the document.
const memberQueueSize = 16

// Member is one connected client from the hub's point of view.
type Member struct {
	id     string
	events chan Event
}

// NewMember creates a member with the given opaque connection identifier.
func NewMember(id string) *Member {
	return &Member{id: id, events: make(chan Event, memberQueueSize)}
}

// ID returns the member's connection identifier.
func (m *Member) ID() string { return m.id }

// Events is the member's delivery queue. The gateway's write pump drains it;
// tests read it directly.
func (m *Member) Events() <-chan Event { return m.events }

// Hub tracks room membership and fans out events.
type Hub struct {
	mu     stdsync.RWMutex
	rooms  map[string]map[string]*Member
	logger logging.Logger
}

// NewHub creates an empty hub.
func NewHub(logger logging.Logger) *Hub {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	return &Hub{rooms: make(map[string]map[string]*Member), logger: logger}
}

// Join adds m to the room for documentID. Joining a room the member is
// already in is a no-op.
func (h *Hub) Join(documentID string, m *Member) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[documentID]
	if !ok {
		room = make(map[string]*Member)
		h.rooms[documentID] = room
	}
	room[m.id] = m
}

// Leave removes the connection from the room for documentID. Leaving a room
// the connection is not in is a no-op.
func (h *Hub) Leave(documentID, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(documentID, connID)
}

// RemoveConn removes the connection from every room it is a member of.
// Called on disconnect; no explicit leave is required for cleanup.
func (h *Hub) RemoveConn(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for documentID, room := range h.rooms {
		if _, ok := room[connID]; ok {
			h.leaveLocked(documentID, connID)
		}
	}
}

func (h *Hub) leaveLocked(documentID, connID string) {
	room, ok := h.rooms[documentID]
	if !ok {
		return
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(h.rooms, documentID)
	}
}

// Broadcast delivers payload, tagged with the originator's connection id and
// a timestamp, to every member of the document's room except the originator.
// Delivery to each member is independent and never blocks: a member whose
// queue is full is skipped.
func (h *Hub) Broadcast(ctx context.Context, documentID, originConnID string, payload json.RawMessage) {
	ev := Event{
		Type:       "change",
		DocumentID: documentID,
		UpdatedBy:  originConnID,
		Timestamp:  time.Now().UTC(),
		Payload:    payload,
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, m := range h.rooms[documentID] {
		if id == originConnID {
			continue
		}
		select {
		case m.events <- ev:
		default:
			h.logger.Warn(ctx, "sync: dropping event for slow member", "conn", id, "document", documentID)
		}
	}
}

// RoomSize returns the current member count for a document's room.
func (h *Hub) RoomSize(documentID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[documentID])
}
