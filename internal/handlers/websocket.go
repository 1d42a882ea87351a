package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/callrelay/internal/relay"
)

// HandleSignaling upgrades the request and attaches the connection to the
// relay room named in the path. Any id is accepted; rooms need not be
// registered first.
func (h *Handler) HandleSignaling(c *gin.Context) {
	roomID := c.Param("roomId")
	if roomID == "" || len(roomID) > maxRoomIDLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid room id"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "room_id", roomID, "err", err)
		return
	}

	peer, err := h.hub.Attach(roomID, conn)
	if errors.Is(err, relay.ErrRoomFull) {
		h.logger.Info("join rejected, room full", "room_id", roomID, "remote_addr", c.ClientIP())
		relay.RejectFull(conn, h.cfg.WriteWait)
		return
	}
	if err != nil {
		h.logger.Error("attach failed", "room_id", roomID, "err", err)
		_ = conn.Close()
		return
	}

	h.logger.Debug("peer attached", "room_id", roomID, "peer_id", peer.ID, "remote_addr", c.ClientIP())
}
