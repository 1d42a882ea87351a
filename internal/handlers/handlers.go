package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/mossy-p/callrelay/config"
	"github.com/mossy-p/callrelay/internal/middleware"
	"github.com/mossy-p/callrelay/internal/models"
	"github.com/mossy-p/callrelay/internal/relay"
)

// RoomStore persists registered rooms and reports presence counts.
type RoomStore interface {
	SaveRoom(ctx context.Context, room models.RoomMetadata) error
	GetRoom(ctx context.Context, roomID string) (*models.RoomMetadata, error)
	DeleteRoom(ctx context.Context, roomID string) error
	PeerCount(ctx context.Context, roomID string) (int, error)
}

// Handler serves the REST and websocket endpoints of the relay.
type Handler struct {
	cfg      *config.Config
	hub      *relay.Hub
	store    RoomStore
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// New creates a Handler. store may be shared with the hub as its presence mirror.
func New(cfg *config.Config, hub *relay.Hub, store RoomStore, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		cfg:    cfg,
		hub:    hub,
		store:  store,
		logger: logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || originAllowed(origin, cfg.AllowedOrigins)
		},
	}
	return h
}

// Register mounts every route on router.
func (h *Handler) Register(router *gin.Engine) {
	router.Use(OriginFilter(h.cfg.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	apiGroup := router.Group("/api")
	{
		apiGroup.POST("/auth/login", h.Login)
		apiGroup.POST("/rooms", middleware.JWTAuth(h.cfg.JWTSecret), h.CreateRoom)
		apiGroup.GET("/rooms/:roomId", h.GetRoom)
		apiGroup.DELETE("/rooms/:roomId", middleware.JWTAuth(h.cfg.JWTSecret), h.DeleteRoom)
	}

	wsGroup := router.Group("/ws")
	{
		wsGroup.GET("/signal/:roomId", h.HandleSignaling)
	}
}
