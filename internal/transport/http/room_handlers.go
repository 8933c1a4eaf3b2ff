package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-rooms/internal/auth"
	"github.com/vovakirdan/wirechat-rooms/internal/core"
	"github.com/vovakirdan/wirechat-rooms/internal/store"
)

// RoomHandlers provides HTTP handlers for room management endpoints.
type RoomHandlers struct {
	rooms    *store.RoomStore
	sessions *store.SessionStore
	hub      *core.Hub
	auth     *auth.Service
	log      *zerolog.Logger
}

// NewRoomHandlers creates a new room handlers instance.
func NewRoomHandlers(rooms *store.RoomStore, sessions *store.SessionStore, hub *core.Hub, authService *auth.Service, logger *zerolog.Logger) *RoomHandlers {
	return &RoomHandlers{
		rooms:    rooms,
		sessions: sessions,
		hub:      hub,
		auth:     authService,
		log:      logger,
	}
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// CreateRoomRequest represents the create room request body.
type CreateRoomRequest struct {
	RoomName string `json:"roomName" binding:"max=64"`
	Password string `json:"password"`
}

// CreateRoomResponse carries the new room and an admin token scoped to it.
type CreateRoomResponse struct {
	Room  store.RoomView `json:"room"`
	Token string         `json:"token"`
}

// PrivacyResponse tells whether joining a room needs a password.
type PrivacyResponse struct {
	IsPrivate bool `json:"isPrivate"`
}

// CreateRoom handles room creation on behalf of the caller's session.
// POST /api/rooms
func (h *RoomHandlers) CreateRoom(c *gin.Context) {
	sessionID := c.GetHeader(HeaderSessionID)
	sess, ok := h.sessions.Resolve(sessionID)
	if sessionID == "" || !ok {
		h.log.Debug().Str("session_id", sessionID).Msg("unknown session on create room")
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unknown session"})
		return
	}

	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid create room request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	room, err := h.hub.CreateRoomFor(sess.UserID, sess.Username, req.RoomName, req.Password)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", sess.UserID).Msg("failed to create room")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	token, err := h.auth.IssueRoomToken(room.ID, sess.UserID, true)
	if err != nil {
		h.log.Error().Err(err).Str("room_id", room.ID).Msg("failed to issue room token")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.log.Info().Str("room_id", room.ID).Str("user_id", sess.UserID).Bool("private", room.IsPrivate).Msg("room created over http")
	c.JSON(http.StatusCreated, CreateRoomResponse{Room: room, Token: token})
}

// RoomPrivacy reports whether a room is password protected.
// GET /api/rooms/:id/privacy
func (h *RoomHandlers) RoomPrivacy(c *gin.Context) {
	room, ok := h.rooms.GetRoom(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "room not found"})
		return
	}
	c.JSON(http.StatusOK, PrivacyResponse{IsPrivate: room.IsPrivate})
}

// GetRoom returns the room a bearer token is scoped to. Membership is checked
// against the live room, not taken from the token.
// GET /api/rooms/:id
func (h *RoomHandlers) GetRoom(c *gin.Context) {
	roomID := c.Param("id")
	if c.GetString(ContextKeyRoomID) != roomID {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "token is not valid for this room"})
		return
	}

	if !h.rooms.Exists(roomID) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "room not found"})
		return
	}
	userID := c.GetString(ContextKeyUserID)
	if !h.rooms.IsMember(roomID, userID) {
		h.log.Debug().Str("room_id", roomID).Str("user_id", userID).Msg("token holder is not a member")
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "not a member of this room"})
		return
	}

	room, ok := h.rooms.GetRoom(roomID)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "room not found"})
		return
	}
	c.JSON(http.StatusOK, room)
}
