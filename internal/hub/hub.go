package hub

import (
	"sync"

	"go.uber.org/zap"
)

// EventKind tags broadcast payloads for client-side dispatch.
type EventKind string

const (
	// EventChatMessage carries one chat line.
	EventChatMessage EventKind = "chat_message"
	// EventCodeChange carries a live editor update.
	EventCodeChange EventKind = "code_change"
)

const defaultBufferSize = 16

// Event is the payload fanned out to a room. The hub only cares about the
// kind tag; the rest travels opaque to the receiving clients.
type Event struct {
	Kind     EventKind `json:"type"`
	Username string    `json:"username"`
	Message  string    `json:"message,omitempty"`
	Code     string    `json:"code,omitempty"`
}

// Peer is one live connection's handle. The connection's write pump owns
// the Events channel; the hub only ever performs non-blocking sends into it.
type Peer struct {
	id     int64
	events chan Event
}

// Events exposes the peer's delivery stream.
func (p *Peer) Events() <-chan Event {
	return p.events
}

// Config tunes hub construction.
type Config struct {
	// BufferSize is the per-peer delivery buffer. A peer whose buffer is
	// full at broadcast time is dropped from the room rather than stalling
	// the other members.
	BufferSize int
	Logger     *zap.Logger
}

// Hub is the process-wide registry of live room membership and the fan-out
// mechanism for chat and code events. Membership is pure process state: a
// restart resets it to empty and clients re-join on reconnect.
type Hub struct {
	mu         sync.RWMutex
	rooms      map[string]map[int64]*Peer
	nextID     int64
	bufferSize int
	logger     *zap.Logger
}

// New constructs an empty hub.
func New(cfg Config) *Hub {
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		rooms:      make(map[string]map[int64]*Peer),
		bufferSize: bufferSize,
		logger:     logger,
	}
}

// NewPeer allocates a handle for one connection.
func (h *Hub) NewPeer() *Peer {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	return &Peer{id: h.nextID, events: make(chan Event, h.bufferSize)}
}

// Join registers the peer under the room. Idempotent per peer.
func (h *Hub) Join(roomID string, peer *Peer) {
	if peer == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[roomID]
	if !ok {
		members = make(map[int64]*Peer)
		h.rooms[roomID] = members
	}
	members[peer.id] = peer
}

// Leave deregisters the peer. A no-op when the peer is already absent, so
// duplicate disconnect notifications are harmless. The room entry is
// discarded when the last member leaves.
func (h *Hub) Leave(roomID string, peer *Peer) {
	if peer == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(roomID, peer.id)
}

// Broadcast delivers the event to every peer registered under the room at
// the time of the call, skipping the originating peer. Delivery is
// best-effort: a peer whose buffer cannot accept the event is dropped from
// the room and the remaining members still receive it.
func (h *Hub) Broadcast(roomID string, origin *Peer, event Event) {
	h.mu.RLock()
	members := h.rooms[roomID]
	targets := make([]*Peer, 0, len(members))
	for _, member := range members {
		if origin != nil && member.id == origin.id {
			continue
		}
		targets = append(targets, member)
	}
	h.mu.RUnlock()

	var stalled []int64
	for _, target := range targets {
		select {
		case target.events <- event:
		default:
			stalled = append(stalled, target.id)
		}
	}
	if len(stalled) == 0 {
		return
	}

	h.mu.Lock()
	for _, id := range stalled {
		h.removeLocked(roomID, id)
	}
	h.mu.Unlock()
	h.logger.Warn("dropped stalled peers from room",
		zap.String("room_id", roomID),
		zap.Int("dropped", len(stalled)),
		zap.String("event", string(event.Kind)))
}

// Members reports the current membership size of a room.
func (h *Hub) Members(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// Rooms reports how many rooms currently have live members.
func (h *Hub) Rooms() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

func (h *Hub) removeLocked(roomID string, peerID int64) {
	members, ok := h.rooms[roomID]
	if !ok {
		return
	}
	delete(members, peerID)
	if len(members) == 0 {
		delete(h.rooms, roomID)
	}
}
