package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/video-chat-relay/internal/middleware"
	"github.com/mossy-p/video-chat-relay/internal/room"
	"github.com/sirupsen/logrus"
)

// ListRooms lists every resident room (operator only)
func ListRooms(hub *room.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rooms": hub.Rooms()})
	}
}

// GetRoom returns membership counts for a resident room (public)
func GetRoom(hub *room.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		r, ok := hub.Lookup(c.Param("roomId"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
			return
		}
		c.JSON(http.StatusOK, r.Info())
	}
}

// DeleteRoom closes every connection in a room and drops it (operator only)
func DeleteRoom(hub *room.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		roomID := c.Param("roomId")
		if !hub.Evict(c.Request.Context(), roomID) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
			return
		}

		operator := c.GetString(middleware.OperatorKey)
		logrus.WithFields(logrus.Fields{"room": roomID, "operator": operator}).Info("Room deleted")

		c.JSON(http.StatusOK, gin.H{"message": "Room deleted"})
	}
}
