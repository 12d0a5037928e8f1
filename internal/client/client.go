// Package client connects a sequencer to a relay room over a websocket.
package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mossy-p/video-chat-relay/config"
	"github.com/mossy-p/video-chat-relay/internal/models"
	"github.com/mossy-p/video-chat-relay/internal/sequencer"
	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024

	// turn.json is small; anything larger is not an ICE configuration.
	maxICEConfigSize = 64 * 1024
)

var ErrMissingRoom = errors.New("room identifier is required")

type Config struct {
	// ServerURL is the websocket base of the relay, e.g. ws://localhost:8080.
	ServerURL string
	RoomID    string
	Sequencer sequencer.Config
}

// Client owns one relay connection and the sequencer fed by it.
type Client struct {
	conn *websocket.Conn
	seq  *sequencer.Sequencer
	log  *logrus.Entry

	writeMu sync.Mutex
	closed  atomic.Bool
}

// Dial connects to <ServerURL>/<RoomID>. No connection is attempted without
// a room.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	roomID := strings.Trim(cfg.RoomID, "/")
	if roomID == "" {
		return nil, ErrMissingRoom
	}

	target := strings.TrimRight(cfg.ServerURL, "/") + "/" + roomID
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", target)
	}
	conn.SetReadLimit(maxMessageSize)

	c := &Client{
		conn: conn,
		log:  logrus.WithField("room", roomID),
	}
	c.seq = sequencer.New(c, cfg.Sequencer)
	return c, nil
}

// Send writes one message to the relay. Safe for concurrent use.
func (c *Client) Send(msg models.Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, raw)
}

func (c *Client) Sequencer() *sequencer.Sequencer {
	return c.seq
}

// Run announces the client and feeds every relayed frame to the sequencer
// until the socket closes or ctx is done.
func (c *Client) Run(ctx context.Context) error {
	if err := c.seq.Start(); err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || c.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return errors.Wrap(err, "read from relay")
		}

		msg, err := models.ParseMessage(raw)
		if err != nil {
			c.log.WithError(err).Warn("Dropping unparseable frame")
			continue
		}
		if err := c.seq.Handle(msg); err != nil {
			c.log.WithError(err).WithField("type", msg.Type).Warn("Negotiation step failed")
		}
	}
}

// Close hangs up and closes the relay connection.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	if err := c.seq.Close(); err != nil {
		c.log.WithError(err).Debug("Error closing peer connection")
	}

	deadline := time.Now().Add(writeWait)
	c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return c.conn.Close()
}

// ResolveICEServers fetches an RTCConfiguration-shaped document from url. An
// empty url yields the default STUN server. Fetch failures are logged and
// yield no servers.
func ResolveICEServers(ctx context.Context, url string) []webrtc.ICEServer {
	if url == "" {
		return []webrtc.ICEServer{{URLs: []string{config.DefaultStunURL}}}
	}

	servers, err := fetchICEServers(ctx, url)
	if err != nil {
		logrus.WithError(err).WithField("url", url).Warn("Failed to fetch ICE servers")
		return nil
	}
	return servers
}

func fetchICEServers(ctx context.Context, url string) ([]webrtc.ICEServer, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxICEConfigSize))
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}
	return config.ParseICEServersJSON(string(body))
}
