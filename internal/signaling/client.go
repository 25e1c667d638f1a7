package signaling

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Rupam798/VideoConferencing/internal/callerr"
	"github.com/Rupam798/VideoConferencing/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Client is a Relay backed by a websocket connection to the signaling
// server. One Client serves one participant.
type Client struct {
	serverURL string
	log       *slog.Logger

	conn      *websocket.Conn
	outgoing  chan Frame
	done      chan struct{}
	closed    chan struct{}
	closeOnce sync.Once

	mu   sync.Mutex
	subs map[pendingKey]func(Message)
}

// NewClient creates a signaling client for serverURL (ws:// or wss://).
func NewClient(serverURL string, log *slog.Logger) *Client {
	return &Client{
		serverURL: serverURL,
		log:       logging.Or(log).With("component", "signaling-client"),
		outgoing:  make(chan Frame, 64),
		done:      make(chan struct{}),
		closed:    make(chan struct{}),
		subs:      make(map[pendingKey]func(Message)),
	}
}

// Connect dials the server and starts the read and write pumps.
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	dialer := *websocket.DefaultDialer
	dialer.NetDialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		ip, err := lookupHost(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("dns lookup failed: %w", err)
		}
		var d net.Dialer
		return d.DialContext(ctx, network, net.JoinHostPort(ip, port))
	}

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.conn = conn
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.writePump()

	return nil
}

// Join registers participantID in roomID on the server.
func (c *Client) Join(roomID, participantID string, deliver func(Message)) (func(), error) {
	key := pendingKey{roomID, participantID}
	c.mu.Lock()
	c.subs[key] = deliver
	c.mu.Unlock()

	if err := c.write(Frame{Op: OpJoin, RoomID: roomID, ParticipantID: participantID}); err != nil {
		c.mu.Lock()
		delete(c.subs, key)
		c.mu.Unlock()
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, key)
			c.mu.Unlock()
			_ = c.write(Frame{Op: OpLeave, RoomID: roomID, ParticipantID: participantID})
		})
	}, nil
}

// Send forwards msg to the server. The server fills in the sender.
func (c *Client) Send(roomID string, msg Message) error {
	c.mu.Lock()
	_, joined := c.subs[pendingKey{roomID, msg.Sender}]
	c.mu.Unlock()
	if !joined {
		return ErrNotJoined
	}
	return c.write(Frame{Op: OpSend, RoomID: roomID, ParticipantID: msg.Sender, Message: &msg})
}

func (c *Client) write(f Frame) error {
	select {
	case <-c.done:
		return callerr.ErrSessionClosed
	case <-c.closed:
		return callerr.ErrSessionClosed
	default:
	}
	select {
	case c.outgoing <- f:
		return nil
	case <-c.done:
		return callerr.ErrSessionClosed
	case <-c.closed:
		return callerr.ErrSessionClosed
	}
}

// readPump reads frames from the WebSocket connection.
func (c *Client) readPump() {
	defer func() {
		c.conn.Close()
		close(c.closed)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		var f Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn("signaling connection lost", "error", err)
			}
			return
		}

		switch f.Op {
		case OpDeliver:
			if f.Message == nil {
				continue
			}
			c.mu.Lock()
			deliver := c.subs[pendingKey{f.RoomID, f.ParticipantID}]
			c.mu.Unlock()
			if deliver != nil {
				deliver(*f.Message)
			}
		case OpError:
			c.log.Warn("signaling server error", "room", f.RoomID, "error", f.Error)
		default:
			c.log.Debug("ignoring frame", "op", f.Op)
		}
	}
}

// writePump writes frames to the WebSocket connection and sends periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case f := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(f); err != nil {
				c.log.Warn("failed to write frame", "op", f.Op, "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.closed:
			return

		case <-c.done:
			c.drain()
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// drain flushes frames queued before Close, such as the final leave.
func (c *Client) drain() {
	for {
		select {
		case f := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(f); err != nil {
				return
			}
		default:
			return
		}
	}
}

// Closed is closed once the connection is gone.
func (c *Client) Closed() <-chan struct{} {
	return c.closed
}

// Close shuts down the connection after flushing queued frames.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}
