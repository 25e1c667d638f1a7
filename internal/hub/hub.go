package hub

import (
	"context"
	"log/slog"
	"time"

	"github.com/Rupam798/VideoConferencing/internal/logging"
	"github.com/Rupam798/VideoConferencing/internal/signaling"
)

const purgeInterval = 15 * time.Second

type inbound struct {
	client *Client
	frame  signaling.Frame
}

// Stats is a point-in-time view of the hub.
type Stats struct {
	Clients int `json:"clients"`
	Rooms   int `json:"rooms"`
}

// Hub is the central brain of the signaling server. It owns every
// websocket client and routes their frames through the relay.
type Hub struct {
	relay *signaling.MemoryRelay
	log   *slog.Logger

	clients map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	inbound    chan inbound
	stats      chan chan Stats
	done       chan struct{}
}

// New creates a Hub in front of relay.
func New(relay *signaling.MemoryRelay, log *slog.Logger) *Hub {
	return &Hub{
		relay:      relay,
		log:        logging.Or(log).With("component", "hub"),
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inbound),
		stats:      make(chan chan Stats),
		done:       make(chan struct{}),
	}
}

// Register hands a new connection to the hub.
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		close(c.send)
	}
}

// Stats asks the hub goroutine for its current counts.
func (h *Hub) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	select {
	case h.stats <- reply:
	case <-h.done:
		return Stats{}, context.Canceled
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

// Run is the single goroutine that manages all client state. It returns
// when ctx is cancelled, after closing every client.
func (h *Hub) Run(ctx context.Context) {
	purge := time.NewTicker(purgeInterval)
	defer purge.Stop()
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			c.log.Debug("client registered")

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
				c.log.Debug("client unregistered")
			}

		case in := <-h.inbound:
			if _, ok := h.clients[in.client]; ok {
				h.handle(in.client, in.frame)
			}

		case reply := <-h.stats:
			reply <- h.snapshot()

		case <-purge.C:
			go func() {
				n, err := h.relay.Purge(context.Background())
				if err != nil {
					h.log.Error("failed to purge pending messages", "error", err)
				} else if n > 0 {
					h.log.Info("purged expired messages", "count", n)
				}
			}()
		}
	}
}

func (h *Hub) handle(c *Client, f signaling.Frame) {
	switch f.Op {
	case signaling.OpJoin:
		h.join(c, f)

	case signaling.OpLeave:
		if m, ok := c.joined[f.RoomID]; ok {
			m.leave()
			delete(c.joined, f.RoomID)
			c.log.Info("participant left", "room", f.RoomID, "participant", m.participantID)
		}

	case signaling.OpSend:
		m, ok := c.joined[f.RoomID]
		if !ok {
			c.enqueue(signaling.Frame{Op: signaling.OpError, RoomID: f.RoomID, Error: "You must join a room first"})
			return
		}
		if f.Message == nil {
			return
		}
		msg := *f.Message
		msg.Sender = m.participantID
		if err := h.relay.Send(f.RoomID, msg); err != nil {
			c.log.Warn("relay failed", "room", f.RoomID, "error", err)
			c.enqueue(signaling.Frame{Op: signaling.OpError, RoomID: f.RoomID, Error: err.Error()})
		}

	default:
		c.log.Warn("unknown frame", "op", f.Op)
	}
}

func (h *Hub) join(c *Client, f signaling.Frame) {
	if f.RoomID == "" || f.ParticipantID == "" {
		c.enqueue(signaling.Frame{Op: signaling.OpError, Error: "room and participant are required"})
		return
	}
	if m, ok := c.joined[f.RoomID]; ok {
		m.leave()
	}

	room, id := f.RoomID, f.ParticipantID
	leave, err := h.relay.Join(room, id, func(msg signaling.Message) {
		c.enqueue(signaling.Frame{Op: signaling.OpDeliver, RoomID: room, ParticipantID: id, Message: &msg})
	})
	if err != nil {
		c.enqueue(signaling.Frame{Op: signaling.OpError, RoomID: room, Error: err.Error()})
		return
	}
	c.joined[room] = membership{participantID: id, leave: leave}
	c.log.Info("participant joined", "room", room, "participant", id)
}

// drop removes c from every room. Members still present are told the
// participant is gone, the way a clean leave would.
func (h *Hub) drop(c *Client) {
	for room, m := range c.joined {
		m.leave()
		err := h.relay.Send(room, signaling.Message{
			Sender:  m.participantID,
			Payload: signaling.RemovalRequest{TargetID: m.participantID},
		})
		if err != nil {
			h.log.Warn("failed to announce departure", "room", room, "participant", m.participantID, "error", err)
		}
	}
	clear(c.joined)
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) snapshot() Stats {
	rooms := make(map[string]struct{})
	for c := range h.clients {
		for room := range c.joined {
			rooms[room] = struct{}{}
		}
	}
	return Stats{Clients: len(h.clients), Rooms: len(rooms)}
}
