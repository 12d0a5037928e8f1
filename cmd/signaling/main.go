package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/video-chat-relay/config"
	"github.com/mossy-p/video-chat-relay/internal/handlers"
	"github.com/mossy-p/video-chat-relay/internal/logging"
	"github.com/mossy-p/video-chat-relay/internal/redis"
	"github.com/mossy-p/video-chat-relay/internal/room"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}
	if err := logging.Setup(cfg.LogLevel, cfg.LogFormat); err != nil {
		logrus.WithError(err).Fatal("Invalid logging configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to open attachment store")
	}
	defer closeStore()

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	hub := room.NewHub(store, cfg.RoomIdleTTL)
	go hub.Run(ctx)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handlers.NewRouter(cfg, hub),
	}

	go func() {
		logrus.WithFields(logrus.Fields{
			"port":  cfg.Port,
			"store": cfg.Store,
		}).Info("Starting signaling relay")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("Failed to start server")
		}
	}()

	<-ctx.Done()
	logrus.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("Server shutdown incomplete")
	}
	// Hijacked websockets are not tracked by Shutdown.
	for _, info := range hub.Rooms() {
		hub.Evict(shutdownCtx, info.ID)
	}
}

func openStore(ctx context.Context, cfg *config.Config) (room.AttachmentStore, func(), error) {
	if cfg.Store != config.StoreRedis {
		return room.NewMemoryStore(), func() {}, nil
	}

	client, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	logrus.WithField("addr", client.Options().Addr).Info("Redis connection established")
	return room.NewRedisStore(client), func() { client.Close() }, nil
}
