package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/roomserve/backend/internal/auth"
	"github.com/roomserve/backend/internal/hub"
	"github.com/roomserve/backend/internal/rooms"
	"github.com/roomserve/backend/internal/versioning"
	"go.uber.org/zap"
)

const (
	userIDContextKey   = "roomserve_user_id"
	usernameContextKey = "roomserve_username"
)

var (
	errMissingSessions = errors.New("session validator dependency required")
	errMissingRooms    = errors.New("rooms service dependency required")
	errMissingStore    = errors.New("snapshot store dependency required")
	errMissingWriter   = errors.New("version writer dependency required")
	errMissingHub      = errors.New("broadcast hub dependency required")
)

// SessionValidator authenticates incoming requests.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// Dependencies wires the handler to the services it fronts.
type Dependencies struct {
	Sessions SessionValidator
	Rooms    *rooms.Service
	Store    *versioning.Store
	Writer   *versioning.Writer
	Hub      *hub.Hub
	Logger   *zap.Logger
}

// NewHTTPHandler assembles the gin router for the API surface.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Sessions == nil {
		return nil, errMissingSessions
	}
	if deps.Rooms == nil {
		return nil, errMissingRooms
	}
	if deps.Store == nil {
		return nil, errMissingStore
	}
	if deps.Writer == nil {
		return nil, errMissingWriter
	}
	if deps.Hub == nil {
		return nil, errMissingHub
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	handler := &httpHandler{
		sessions: deps.Sessions,
		rooms:    deps.Rooms,
		store:    deps.Store,
		writer:   deps.Writer,
		hub:      deps.Hub,
		logger:   logger,
	}

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/rooms", handler.handleListRooms)
	protected.POST("/rooms", handler.handleCreateRoom)
	protected.GET("/rooms/:room_id", handler.handleGetRoom)
	protected.DELETE("/rooms/:room_id", handler.handleDeleteRoom)
	protected.POST("/rooms/:room_id/invitations", handler.handleInvite)
	protected.POST("/invitations/:token", handler.handleRedeemInvitation)
	protected.POST("/rooms/:room_id/code", handler.handleSaveCode)
	protected.GET("/rooms/:room_id/code", handler.handleLatestCode)
	protected.GET("/rooms/:room_id/code/versions/:version", handler.handleCodeAtVersion)
	protected.GET("/rooms/:room_id/ws", handler.handleRoomSocket)

	return router, nil
}

type httpHandler struct {
	sessions SessionValidator
	rooms    *rooms.Service
	store    *versioning.Store
	writer   *versioning.Writer
	hub      *hub.Hub
	logger   *zap.Logger
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, claims.UserID)
	c.Set(usernameContextKey, claims.Username)
	c.Next()
}

type createRoomPayload struct {
	Name        string `json:"name"`
	Topic       string `json:"topic"`
	Description string `json:"description"`
	IsPrivate   bool   `json:"is_private"`
	CodeEnabled *bool  `json:"code_enabled"`
}

type roomPayload struct {
	RoomID      string `json:"room_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	IsPrivate   bool   `json:"is_private"`
	CodeEnabled bool   `json:"code_enabled"`
}

func roomToPayload(room rooms.Room) roomPayload {
	return roomPayload{
		RoomID:      room.RoomID,
		Name:        room.Name,
		Description: room.Description,
		IsPrivate:   room.IsPrivate,
		CodeEnabled: room.CodeEnabled,
	}
}

func (h *httpHandler) handleCreateRoom(c *gin.Context) {
	var request createRoomPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	codeEnabled := true
	if request.CodeEnabled != nil {
		codeEnabled = *request.CodeEnabled
	}
	room, err := h.rooms.CreateRoom(c.Request.Context(), rooms.CreateRoomParams{
		HostUserID:  c.GetString(userIDContextKey),
		Name:        request.Name,
		TopicName:   request.Topic,
		Description: request.Description,
		IsPrivate:   request.IsPrivate,
		CodeEnabled: codeEnabled,
	})
	if err != nil {
		h.logger.Error("failed to create room", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed"})
		return
	}
	c.JSON(http.StatusCreated, roomToPayload(room))
}

func (h *httpHandler) handleListRooms(c *gin.Context) {
	visible, err := h.rooms.ListRooms(c.Request.Context(), c.GetString(userIDContextKey), c.Query("q"))
	if err != nil {
		h.logger.Error("failed to list rooms", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	payload := make([]roomPayload, 0, len(visible))
	for _, room := range visible {
		payload = append(payload, roomToPayload(room))
	}
	c.JSON(http.StatusOK, gin.H{"rooms": payload})
}

func (h *httpHandler) handleGetRoom(c *gin.Context) {
	room, ok := h.loadRoom(c)
	if !ok {
		return
	}
	messages, err := h.rooms.ListMessages(c.Request.Context(), room.RoomID)
	if err != nil {
		h.logger.Error("failed to list messages", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load_failed"})
		return
	}
	chat := make([]gin.H, 0, len(messages))
	for _, message := range messages {
		chat = append(chat, gin.H{
			"username":     message.Username,
			"message":      message.Body,
			"created_at_s": message.CreatedAtSeconds,
		})
	}
	c.JSON(http.StatusOK, gin.H{"room": roomToPayload(room), "messages": chat})
}

func (h *httpHandler) handleDeleteRoom(c *gin.Context) {
	room, ok := h.loadRoom(c)
	if !ok {
		return
	}
	role, err := h.rooms.RoleFor(c.Request.Context(), room.RoomID, c.GetString(userIDContextKey))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "role_check_failed"})
		return
	}
	if role != rooms.RoleAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	// Versions are owned by the room: the chain goes away with it.
	if err := h.rooms.DeleteRoom(c.Request.Context(), room.RoomID); err != nil {
		h.logger.Error("failed to delete room", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed"})
		return
	}
	roomID, err := versioning.NewRoomID(room.RoomID)
	if err == nil {
		if err := h.store.PurgeRoom(c.Request.Context(), roomID); err != nil {
			h.logger.Error("failed to purge version chain", zap.Error(err))
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

type invitePayload struct {
	Email string `json:"email"`
}

func (h *httpHandler) handleInvite(c *gin.Context) {
	room, ok := h.loadRoom(c)
	if !ok {
		return
	}
	role, err := h.rooms.RoleFor(c.Request.Context(), room.RoomID, c.GetString(userIDContextKey))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "role_check_failed"})
		return
	}
	if role != rooms.RoleAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	var request invitePayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	invitation, err := h.rooms.Invite(c.Request.Context(), room.RoomID, request.Email, c.GetString(userIDContextKey))
	if err != nil {
		h.logger.Error("failed to issue invitation", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invite_failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"token": invitation.Token, "expires_at_s": invitation.ExpiresAtSeconds})
}

func (h *httpHandler) handleRedeemInvitation(c *gin.Context) {
	room, err := h.rooms.RedeemInvitation(c.Request.Context(), c.Param("token"), c.GetString(userIDContextKey))
	switch {
	case errors.Is(err, rooms.ErrInvitationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "invitation_not_found"})
	case errors.Is(err, rooms.ErrInvitationExpired):
		c.JSON(http.StatusGone, gin.H{"error": "invitation_expired"})
	case errors.Is(err, rooms.ErrInvitationUsed):
		c.JSON(http.StatusConflict, gin.H{"error": "invitation_used"})
	case err != nil:
		h.logger.Error("failed to redeem invitation", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "redeem_failed"})
	default:
		c.JSON(http.StatusOK, gin.H{"room": roomToPayload(room)})
	}
}

type saveCodePayload struct {
	Code string `json:"code"`
}

func (h *httpHandler) handleSaveCode(c *gin.Context) {
	room, ok := h.requireWritableRoom(c)
	if !ok {
		return
	}
	var request saveCodePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	roomID, err := versioning.NewRoomID(room.RoomID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_room"})
		return
	}
	version, err := h.writer.Submit(c.Request.Context(), roomID, request.Code)
	if errors.Is(err, versioning.ErrVersionConflict) {
		// Retries exhausted: the caller resubmits with the current text.
		c.JSON(http.StatusConflict, gin.H{"status": "conflict"})
		return
	}
	if err != nil {
		h.logger.Error("failed to submit code version", zap.Error(err), zap.String("room_id", room.RoomID))
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "version": version})
}

func (h *httpHandler) handleLatestCode(c *gin.Context) {
	room, ok := h.loadRoom(c)
	if !ok {
		return
	}
	roomID, err := versioning.NewRoomID(room.RoomID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_room"})
		return
	}
	code, err := h.store.Reconstruct(c.Request.Context(), roomID, nil)
	if err != nil {
		h.logger.Error("failed to reconstruct code", zap.Error(err), zap.String("room_id", room.RoomID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reconstruct_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": code})
}

func (h *httpHandler) handleCodeAtVersion(c *gin.Context) {
	room, ok := h.loadRoom(c)
	if !ok {
		return
	}
	number, err := strconv.ParseInt(c.Param("version"), 10, 64)
	if err != nil || number < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_version"})
		return
	}
	roomID, err := versioning.NewRoomID(room.RoomID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_room"})
		return
	}
	code, err := h.store.Reconstruct(c.Request.Context(), roomID, &number)
	if errors.Is(err, versioning.ErrVersionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "version_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to reconstruct code", zap.Error(err), zap.String("room_id", room.RoomID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reconstruct_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": code, "version": number})
}

func (h *httpHandler) loadRoom(c *gin.Context) (rooms.Room, bool) {
	room, err := h.rooms.GetRoom(c.Request.Context(), c.Param("room_id"))
	if errors.Is(err, rooms.ErrRoomNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "room_not_found"})
		return rooms.Room{}, false
	}
	if err != nil {
		h.logger.Error("failed to load room", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load_failed"})
		return rooms.Room{}, false
	}
	return room, true
}

func (h *httpHandler) requireWritableRoom(c *gin.Context) (rooms.Room, bool) {
	room, ok := h.loadRoom(c)
	if !ok {
		return rooms.Room{}, false
	}
	allowed, err := h.rooms.CanWrite(c.Request.Context(), room.RoomID, c.GetString(userIDContextKey))
	if err != nil {
		h.logger.Error("failed to check write access", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "role_check_failed"})
		return rooms.Room{}, false
	}
	if !allowed {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return rooms.Room{}, false
	}
	return room, true
}
