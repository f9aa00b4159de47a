// Package realtime is the live delivery channel: a room hub, websocket
// clients and the event protocol spoken over them, including the QKD
// key exchange between two connected users.
package realtime

import (
	"encoding/json"
	"sync"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/eliasalvarado/uvg-cifrados-proyecto2-sub000/internal/service"
)

// Frame is the wire envelope in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Peer is one live connection.
type Peer interface {
	UserID() uuid.UUID
	// Send queues an encoded frame; false means the peer is gone or too slow.
	Send(frame []byte) bool
	Close()
}

// Recorder receives realtime metrics.
type Recorder interface {
	ConnectionOpened()
	ConnectionClosed()
	RecordEvent(event string)
	RecordQKDExchange(status string)
}

type nopRecorder struct{}

func (nopRecorder) ConnectionOpened()        {}
func (nopRecorder) ConnectionClosed()        {}
func (nopRecorder) RecordEvent(string)       {}
func (nopRecorder) RecordQKDExchange(string) {}

// UserRoom is the room every connection of a user joins.
func UserRoom(id uuid.UUID) string { return "user:" + id.String() }

// GroupRoom is the room of a chat group.
func GroupRoom(id uuid.UUID) string { return "group:" + id.String() }

// Hub tracks rooms and the peers in them.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[Peer]struct{}
	peers map[Peer]map[string]struct{} // rooms joined by each peer

	metrics Recorder
	log     *zap.Logger
}

var _ service.Notifier = (*Hub)(nil)

// NewHub creates an empty hub. metrics may be nil.
func NewHub(metrics Recorder, logger *zap.Logger) *Hub {
	if metrics == nil {
		metrics = nopRecorder{}
	}
	return &Hub{
		rooms:   map[string]map[Peer]struct{}{},
		peers:   map[Peer]map[string]struct{}{},
		metrics: metrics,
		log:     logger,
	}
}

// Register adds p and joins it to its own user room.
func (h *Hub) Register(p Peer) {
	h.mu.Lock()
	if _, ok := h.peers[p]; !ok {
		h.peers[p] = map[string]struct{}{}
		h.metrics.ConnectionOpened()
	}
	h.joinLocked(p, UserRoom(p.UserID()))
	h.mu.Unlock()
}

// Unregister removes p from every room.
func (h *Hub) Unregister(p Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rooms, ok := h.peers[p]
	if !ok {
		return
	}
	for room := range rooms {
		members := h.rooms[room]
		delete(members, p)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(h.peers, p)
	h.metrics.ConnectionClosed()
}

// Join adds a registered peer to room.
func (h *Hub) Join(p Peer, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.peers[p]; ok {
		h.joinLocked(p, room)
	}
}

func (h *Hub) joinLocked(p Peer, room string) {
	members, ok := h.rooms[room]
	if !ok {
		members = map[Peer]struct{}{}
		h.rooms[room] = members
	}
	members[p] = struct{}{}
	h.peers[p][room] = struct{}{}
}

// Emit sends the event to every peer in room and returns how many accepted it.
// Peers whose queue is full are dropped.
func (h *Hub) Emit(room, event string, data any) int {
	frame, err := encode(event, data)
	if err != nil {
		h.log.Error("encode event", zap.String("event", event), zap.Error(err))
		return 0
	}
	h.mu.RLock()
	targets := make([]Peer, 0, len(h.rooms[room]))
	for p := range h.rooms[room] {
		targets = append(targets, p)
	}
	h.mu.RUnlock()

	n := 0
	for _, p := range targets {
		if p.Send(frame) {
			n++
			continue
		}
		h.log.Warn("dropping slow peer", zap.Stringer("user", p.UserID()), zap.String("room", room))
		h.Unregister(p)
		p.Close()
	}
	if n > 0 {
		h.metrics.RecordEvent(event)
	}
	return n
}

// EmitUser sends the event to every connection of userID.
func (h *Hub) EmitUser(userID uuid.UUID, event string, data any) int {
	return h.Emit(UserRoom(userID), event, data)
}

// Online reports whether userID has a live connection.
func (h *Hub) Online(userID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[UserRoom(userID)]) > 0
}

// NotifyUser implements service.Notifier.
func (h *Hub) NotifyUser(userID uuid.UUID, event string, data any) bool {
	return h.EmitUser(userID, event, data) > 0
}

// NotifyGroup implements service.Notifier.
func (h *Hub) NotifyGroup(groupID uuid.UUID, event string, data any) int {
	return h.Emit(GroupRoom(groupID), event, data)
}

// JoinGroup subscribes every live connection of userID to the group room.
func (h *Hub) JoinGroup(userID, groupID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := GroupRoom(groupID)
	for p := range h.rooms[UserRoom(userID)] {
		h.joinLocked(p, room)
	}
}

// Rooms returns the rooms p has joined.
func (h *Hub) Rooms(p Peer) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.peers[p]))
	for r := range h.peers[p] {
		out = append(out, r)
	}
	return out
}

func encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}
