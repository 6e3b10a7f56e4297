package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chat-relay/internal/models"
	"chat-relay/internal/repositories"
)

// RoomHandler serves the read-only room and presence queries.
type RoomHandler struct {
	rooms    repositories.RoomRepository
	presence repositories.PresenceRepository
	logger   *zap.Logger
}

// NewRoomHandler builds a RoomHandler.
func NewRoomHandler(rooms repositories.RoomRepository, presence repositories.PresenceRepository, logger *zap.Logger) *RoomHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoomHandler{rooms: rooms, presence: presence, logger: logger}
}

// ListRooms returns every known room with its participant count and latest message.
func (h *RoomHandler) ListRooms(c *gin.Context) {
	rooms, err := h.rooms.ListRooms(c.Request.Context())
	if err != nil {
		h.logger.Error("list rooms failed", zap.Error(err), zap.String("request_id", requestIDFromContext(c)))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load rooms"})
		return
	}
	if rooms == nil {
		rooms = []models.RoomSummary{}
	}
	c.JSON(http.StatusOK, rooms)
}

// GetRoomMessages returns the full message log of a room.
func (h *RoomHandler) GetRoomMessages(c *gin.Context) {
	roomID := c.Param("roomId")

	msgs, err := h.rooms.GetMessages(c.Request.Context(), roomID)
	if err != nil {
		if errors.Is(err, repositories.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		h.logger.Error("get room messages failed",
			zap.String("room_id", roomID),
			zap.Error(err),
			zap.String("request_id", requestIDFromContext(c)),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	c.JSON(http.StatusOK, msgs)
}

// Presence returns the current online/offline snapshot.
func (h *RoomHandler) Presence(c *gin.Context) {
	entries, err := h.presence.Snapshot(c.Request.Context())
	if err != nil {
		h.logger.Error("presence snapshot failed", zap.Error(err), zap.String("request_id", requestIDFromContext(c)))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load presence"})
		return
	}
	if entries == nil {
		entries = []models.PresenceEntry{}
	}
	c.JSON(http.StatusOK, entries)
}
