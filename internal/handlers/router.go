package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/video-chat-relay/config"
	"github.com/mossy-p/video-chat-relay/internal/middleware"
	"github.com/mossy-p/video-chat-relay/internal/room"
)

// NewRouter wires every HTTP route of the relay.
func NewRouter(cfg *config.Config, hub *room.Hub) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger())

	// Global CORS middleware (runs before routing)
	router.Use(OriginFilter(cfg.AllowedOrigins))

	// Websocket upgrades always name a room, even when the path matches one
	// of the routes below
	router.Use(UpgradeFirst(hub))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// ICE configuration for browser clients
	router.GET("/turn.json", ICEConfig(cfg.ICEServers))

	apiGroup := router.Group("/api")
	{
		apiGroup.GET("/rooms", middleware.RequireOperator(cfg.JWTSecret), ListRooms(hub))
		apiGroup.GET("/rooms/:roomId", GetRoom(hub))
		apiGroup.DELETE("/rooms/:roomId", middleware.RequireOperator(cfg.JWTSecret), DeleteRoom(hub))
	}

	// Plain requests to any other path are told to upgrade
	router.NoRoute(Dispatch(hub))

	return router
}
