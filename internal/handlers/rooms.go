package handlers

import (
	"crypto/rand"
	"errors"
	"math/big"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/callrelay/internal/middleware"
	"github.com/mossy-p/callrelay/internal/models"
	"github.com/mossy-p/callrelay/internal/redis"
)

const (
	roomIDLength    = 10
	maxRoomIDLength = 128
	roomIDChars     = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// CreateRoom registers a call id owned by the authenticated user.
func (h *Handler) CreateRoom(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	roomID, err := newRoomID()
	if err != nil {
		h.logger.Error("failed to generate room id", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create room"})
		return
	}

	room := models.RoomMetadata{
		ID:        roomID,
		CreatorID: userID,
		CreatedAt: time.Now().UTC(),
		Capacity:  h.cfg.RoomCapacity,
	}
	if err := h.store.SaveRoom(c.Request.Context(), room); err != nil {
		h.logger.Error("failed to store room", "room_id", roomID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create room"})
		return
	}

	h.logger.Info("room created", "room_id", roomID, "user_id", userID)
	c.JSON(http.StatusCreated, models.CreateRoomResponse{RoomID: roomID})
}

// GetRoom reports a room's metadata and who is connected. Rooms that were
// never registered are still found while someone is in them.
func (h *Handler) GetRoom(c *gin.Context) {
	roomID := c.Param("roomId")
	ctx := c.Request.Context()

	live := h.hub.Members(roomID)

	room, err := h.store.GetRoom(ctx, roomID)
	switch {
	case errors.Is(err, redis.ErrRoomNotFound):
		if len(live) == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
			return
		}
		room = &models.RoomMetadata{ID: roomID, Capacity: h.cfg.RoomCapacity}
	case err != nil:
		h.logger.Error("failed to load room", "room_id", roomID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load room"})
		return
	}

	room.LivePeerIDs = live
	room.PeerCount = len(live)
	if count, err := h.store.PeerCount(ctx, roomID); err != nil {
		h.logger.Warn("presence count unavailable", "room_id", roomID, "err", err)
	} else if count > room.PeerCount {
		room.PeerCount = count
	}

	c.JSON(http.StatusOK, room)
}

// DeleteRoom removes a registered room and disconnects everyone in it.
func (h *Handler) DeleteRoom(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	roomID := c.Param("roomId")
	ctx := c.Request.Context()

	room, err := h.store.GetRoom(ctx, roomID)
	if errors.Is(err, redis.ErrRoomNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to load room", "room_id", roomID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load room"})
		return
	}

	if room.CreatorID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the room creator can delete the room"})
		return
	}

	if err := h.store.DeleteRoom(ctx, roomID); err != nil {
		h.logger.Error("failed to delete room", "room_id", roomID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete room"})
		return
	}
	closed := h.hub.CloseRoom(roomID)

	h.logger.Info("room deleted", "room_id", roomID, "user_id", userID, "closed_connections", closed)
	c.JSON(http.StatusOK, gin.H{"message": "Room deleted", "closedConnections": closed})
}

func newRoomID() (string, error) {
	base := big.NewInt(int64(len(roomIDChars)))
	id := make([]byte, roomIDLength)
	for i := range id {
		n, err := rand.Int(rand.Reader, base)
		if err != nil {
			return "", err
		}
		id[i] = roomIDChars[n.Int64()]
	}
	return string(id), nil
}
