package hub

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Rupam798/VideoConferencing/internal/signaling"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024 // 64 KB - enough for WebRTC SDP messages

	sendBuffer = 256
)

// Client is a wrapper for a single websocket connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	log  *slog.Logger

	// send is a buffered channel for all outbound frames. A separate
	// goroutine (WritePump) reads from it and writes to the websocket.
	send chan signaling.Frame

	// memberships by room, owned by the hub goroutine.
	joined map[string]membership
}

type membership struct {
	participantID string
	leave         func()
}

// NewClient wraps conn. Register it with the hub and start both pumps.
func NewClient(h *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:    h,
		conn:   conn,
		log:    h.log.With("remote", conn.RemoteAddr().String()),
		send:   make(chan signaling.Frame, sendBuffer),
		joined: make(map[string]membership),
	}
}

// ReadPump pumps frames from the websocket connection to the hub.
//
// The application runs ReadPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var f signaling.Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.Warn("read failed", "error", err)
			}
			return
		}
		select {
		case c.hub.inbound <- inbound{client: c, frame: f}:
		case <-c.hub.done:
			return
		}
	}
}

// WritePump pumps frames from the hub to the websocket connection.
//
// A goroutine running WritePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case f, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(f); err != nil {
				c.log.Warn("write failed", "error", err)
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

// enqueue never blocks the hub; a client too slow to drain its buffer
// loses frames.
func (c *Client) enqueue(f signaling.Frame) {
	select {
	case c.send <- f:
	default:
		c.log.Warn("send buffer full, dropping frame", "op", f.Op, "room", f.RoomID)
	}
}
