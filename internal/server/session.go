package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/roomserve/backend/internal/hub"
	"go.uber.org/zap"
)

const socketWriteTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin checks are handled by the CORS layer and the session cookie;
	// the upgrade itself accepts any origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// eventPolicy is the capability set of one live session: which event kinds
// the room accepts from this connection. Chat-only and chat+code rooms are
// the same handler with different policies.
type eventPolicy struct {
	allowed map[hub.EventKind]bool
}

var (
	chatOnlyPolicy = eventPolicy{allowed: map[hub.EventKind]bool{
		hub.EventChatMessage: true,
	}}
	chatCodePolicy = eventPolicy{allowed: map[hub.EventKind]bool{
		hub.EventChatMessage: true,
		hub.EventCodeChange:  true,
	}}
)

func (p eventPolicy) accepts(kind hub.EventKind) bool {
	return p.allowed[kind]
}

// handleRoomSocket runs one live session: join the hub on open, fan inbound
// events out to the room, leave on close. The connection's write pump owns
// the peer's send queue; the read loop owns dispatch.
func (h *httpHandler) handleRoomSocket(c *gin.Context) {
	room, ok := h.requireWritableRoom(c)
	if !ok {
		return
	}
	username := c.GetString(usernameContextKey)
	if username == "" {
		username = c.GetString(userIDContextKey)
	}
	policy := chatOnlyPolicy
	if room.CodeEnabled {
		policy = chatCodePolicy
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err), zap.String("room_id", room.RoomID))
		return
	}
	defer conn.Close()

	peer := h.hub.NewPeer()
	h.hub.Join(room.RoomID, peer)
	defer h.hub.Leave(room.RoomID, peer)

	done := make(chan struct{})
	go h.writePump(conn, peer, done)

	h.readLoop(c, conn, room.RoomID, policy, peer, username)
	close(done)
}

// writePump drains the peer's event queue onto the wire. A write failure
// closes the connection, which in turn ends the read loop.
func (h *httpHandler) writePump(conn *websocket.Conn, peer *hub.Peer, done <-chan struct{}) {
	for {
		select {
		case event := <-peer.Events():
			conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout)) //nolint:errcheck
			if err := conn.WriteJSON(event); err != nil {
				conn.Close()
				return
			}
		case <-done:
			return
		}
	}
}

type inboundEvent struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	Message  string `json:"message"`
	Code     string `json:"code"`
}

func (h *httpHandler) readLoop(c *gin.Context, conn *websocket.Conn, roomID string, policy eventPolicy, peer *hub.Peer, username string) {
	for {
		var inbound inboundEvent
		if err := conn.ReadJSON(&inbound); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket closed", zap.Error(err), zap.String("room_id", roomID))
			}
			return
		}

		kind := hub.EventKind(inbound.Type)
		if !policy.accepts(kind) {
			h.logger.Debug("rejected event kind for room",
				zap.String("room_id", roomID),
				zap.String("event", inbound.Type))
			continue
		}
		if inbound.Username == "" {
			inbound.Username = username
		}

		switch kind {
		case hub.EventChatMessage:
			// Chat lines are durable history on top of the live fan-out.
			if _, err := h.rooms.PostMessage(c.Request.Context(), roomID, c.GetString(userIDContextKey), inbound.Username, inbound.Message); err != nil {
				h.logger.Error("failed to persist chat message", zap.Error(err), zap.String("room_id", roomID))
			}
			h.hub.Broadcast(roomID, peer, hub.Event{
				Kind:     hub.EventChatMessage,
				Username: inbound.Username,
				Message:  inbound.Message,
			})
		case hub.EventCodeChange:
			h.hub.Broadcast(roomID, peer, hub.Event{
				Kind:     hub.EventCodeChange,
				Username: inbound.Username,
				Code:     inbound.Code,
			})
		}
	}
}
