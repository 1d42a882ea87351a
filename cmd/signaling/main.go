package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/callrelay/config"
	"github.com/mossy-p/callrelay/internal/handlers"
	"github.com/mossy-p/callrelay/internal/redis"
	"github.com/mossy-p/callrelay/internal/relay"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		AddSource: true,
		Level:     cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	store, err := redis.Connect(connectCtx, cfg.Redis, cfg.RoomTTL)
	cancel()
	if err != nil {
		logger.Error("failed to connect to redis", "addr", cfg.Redis.Host+":"+cfg.Redis.Port, "err", err)
		os.Exit(1)
	}
	defer store.Close()
	logger.Info("redis connection established")

	hub := relay.NewHub(relay.Options{
		Capacity:        cfg.RoomCapacity,
		MaxMessageBytes: cfg.MaxMessageBytes,
		PingPeriod:      cfg.PingPeriod,
		PongWait:        cfg.PongWait,
		WriteWait:       cfg.WriteWait,
		SendBuffer:      cfg.SendBuffer,
	}, store, logger)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	handlers.New(cfg, hub, store, logger).Register(router)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting signaling server", "port", cfg.Port, "environment", cfg.Environment, "room_capacity", cfg.RoomCapacity)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down", "open_rooms", hub.Rooms())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	hub.Shutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "err", err)
	}
}
