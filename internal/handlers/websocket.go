package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/mossy-p/video-chat-relay/internal/room"
	"github.com/sirupsen/logrus"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. SDP blobs are the largest frames.
	maxMessageSize = 64 * 1024

	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// Client is one websocket connection attached to a room.
type Client struct {
	handle room.Handle
	conn   *websocket.Conn
	send   chan []byte

	mu     sync.Mutex
	closed bool
}

func newClient(conn *websocket.Conn) *Client {
	return &Client{
		handle: room.NewHandle(),
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
	}
}

func (c *Client) Handle() room.Handle {
	return c.handle
}

// Send queues a frame for writePump without blocking.
func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return websocket.ErrCloseSent
	}
	select {
	case c.send <- data:
		return nil
	default:
		return room.ErrSendBufferFull
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close stops writePump, which sends a close frame and tears the socket down.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// UpgradeFirst hands websocket upgrades to Dispatch before route handlers
// run, so a room may share its name with an HTTP endpoint.
func UpgradeFirst(hub *room.Hub) gin.HandlerFunc {
	dispatch := Dispatch(hub)
	return func(c *gin.Context) {
		if !isUpgrade(c) {
			c.Next()
			return
		}
		dispatch(c)
		c.Abort()
	}
}

func isUpgrade(c *gin.Context) bool {
	return strings.EqualFold(c.GetHeader("Upgrade"), "websocket")
}

// Dispatch is the front door: it upgrades websocket requests and routes them
// to the room named by the request path.
func Dispatch(hub *room.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !isUpgrade(c) {
			c.String(http.StatusUpgradeRequired, "Expected Upgrade: websocket")
			return
		}

		roomID := strings.Trim(c.Request.URL.Path, "/")
		if roomID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "room identifier is required"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logrus.WithError(err).WithField("room", roomID).Warn("Failed to upgrade connection")
			return
		}

		client := newClient(conn)
		r := hub.Accept(context.Background(), roomID, client)

		logrus.WithFields(logrus.Fields{
			"room":   roomID,
			"handle": client.handle,
			"remote": conn.RemoteAddr().String(),
		}).Info("Connection joined room")

		go client.writePump()
		go client.readPump(r)
	}
}

func (c *Client) readPump(r *room.Room) {
	ctx := context.Background()
	defer c.conn.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				r.OnError(ctx, c.handle, err)
			} else {
				r.OnClose(ctx, c.handle)
			}
			return
		}

		if !r.Receive(ctx, c.handle, message) {
			// Evicted while this frame was in flight.
			if c.isClosed() {
				return
			}
			panic(fmt.Sprintf("room %s: open connection %s is not registered", r.ID, c.handle))
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logrus.WithError(err).WithField("handle", c.handle).Warn("Failed to write message")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
