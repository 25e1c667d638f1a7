package signaling

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Rupam798/VideoConferencing/internal/callerr"
	"github.com/Rupam798/VideoConferencing/internal/logging"
)

// DefaultPendingTTL is how long an addressed message waits for its receiver.
const DefaultPendingTTL = 60 * time.Second

// ErrNotJoined is returned by Send when the sender has no registration in
// the room.
var ErrNotJoined = errors.New("sender has not joined the room")

// Relay delivers messages between the members of a room.
type Relay interface {
	// Join registers participantID in roomID. deliver receives every
	// broadcast from other members and every message addressed to
	// participantID, including ones held while it was absent.
	Join(roomID, participantID string, deliver func(Message)) (leave func(), err error)

	// Send stamps and routes msg.
	Send(roomID string, msg Message) error
}

type registration struct {
	id      string
	deliver func(Message)
}

// MemoryRelay is the process-wide relay. Delivery is synchronous and runs
// outside the relay's lock, so deliver funcs may call Send.
type MemoryRelay struct {
	mu    sync.Mutex
	rooms map[string]map[string]*registration

	pending PendingStore
	ttl     time.Duration
	now     func() time.Time
	log     *slog.Logger
}

type RelayOption func(*MemoryRelay)

// WithPendingStore replaces the in-memory pending store.
func WithPendingStore(s PendingStore) RelayOption {
	return func(r *MemoryRelay) { r.pending = s }
}

func WithTTL(d time.Duration) RelayOption {
	return func(r *MemoryRelay) { r.ttl = d }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) RelayOption {
	return func(r *MemoryRelay) { r.now = now }
}

func WithLogger(l *slog.Logger) RelayOption {
	return func(r *MemoryRelay) { r.log = l }
}

func NewMemoryRelay(opts ...RelayOption) *MemoryRelay {
	r := &MemoryRelay{
		rooms: make(map[string]map[string]*registration),
		ttl:   DefaultPendingTTL,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.pending == nil {
		r.pending = NewMemoryStore()
	}
	r.log = logging.Or(r.log).With("component", "relay")
	return r
}

func (r *MemoryRelay) Join(roomID, participantID string, deliver func(Message)) (func(), error) {
	reg := &registration{id: participantID, deliver: deliver}

	r.mu.Lock()
	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]*registration)
		r.rooms[roomID] = members
	}
	members[participantID] = reg
	r.mu.Unlock()

	r.log.Debug("participant joined", "room", roomID, "participant", participantID)

	held, err := r.pending.Take(context.Background(), roomID, participantID)
	if err != nil {
		r.log.Error("failed to load pending messages", "room", roomID, "participant", participantID, "error", err)
	}
	now := r.now()
	for _, msg := range held {
		if msg.Expired(now) {
			r.logExpired(roomID, msg)
			continue
		}
		deliver(msg)
	}

	var once sync.Once
	leave := func() {
		once.Do(func() { r.leave(roomID, reg) })
	}
	return leave, nil
}

func (r *MemoryRelay) leave(roomID string, reg *registration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members := r.rooms[roomID]
	// A newer Join under the same id replaces reg; leave must not drop it.
	if members[reg.id] != reg {
		return
	}
	delete(members, reg.id)
	if len(members) == 0 {
		delete(r.rooms, roomID)
	}
	r.log.Debug("participant left", "room", roomID, "participant", reg.id)
}

func (r *MemoryRelay) Send(roomID string, msg Message) error {
	if msg.Payload == nil {
		return callerr.Wrap("send", callerr.ErrUnsupported, "message has no payload")
	}
	now := r.now()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}

	var targets []*registration
	r.mu.Lock()
	members := r.rooms[roomID]
	if msg.Broadcast() {
		for id, reg := range members {
			if id != msg.Sender {
				targets = append(targets, reg)
			}
		}
	} else if reg, ok := members[msg.Receiver]; ok {
		targets = append(targets, reg)
	} else {
		// Held under mu so a concurrent Join either is seen above or takes
		// the message once it registers.
		msg.ExpiresAt = now.Add(r.ttl)
		err := r.pending.Put(context.Background(), roomID, msg.Receiver, msg)
		r.mu.Unlock()
		if err != nil {
			return callerr.Wrap("send", err, "hold message for "+msg.Receiver)
		}
		r.log.Debug("holding message", "room", roomID, "type", msg.Payload.Kind(), "receiver", msg.Receiver)
		return nil
	}
	r.mu.Unlock()

	for _, reg := range targets {
		reg.deliver(msg)
	}
	return nil
}

// Purge drops held messages whose delivery window has passed. Servers call
// it periodically so absent receivers do not pin memory.
func (r *MemoryRelay) Purge(ctx context.Context) (int, error) {
	expired, err := r.pending.Purge(ctx, r.now())
	for _, msg := range expired {
		r.logExpired("", msg)
	}
	return len(expired), err
}

// Members lists the participants registered in a room.
func (r *MemoryRelay) Members(roomID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.rooms[roomID]))
	for id := range r.rooms[roomID] {
		ids = append(ids, id)
	}
	return ids
}

func (r *MemoryRelay) logExpired(roomID string, msg Message) {
	err := callerr.NewPeerError("deliver", msg.Receiver, callerr.ErrSignalDeliveryExpired)
	r.log.Info("dropping undelivered message",
		"room", roomID,
		"type", msg.Payload.Kind(),
		"sender", msg.Sender,
		"error", err,
	)
}
