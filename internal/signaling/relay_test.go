package signaling

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type inbox struct {
	mu   sync.Mutex
	msgs []Message
}

func (b *inbox) deliver(m Message) {
	b.mu.Lock()
	b.msgs = append(b.msgs, m)
	b.mu.Unlock()
}

func (b *inbox) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.msgs)
}

func newTestRelay(t *testing.T) (*MemoryRelay, *fakeClock, *MemoryStore) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	return NewMemoryRelay(WithClock(clock.Now), WithPendingStore(store)), clock, store
}

func mustJoin(t *testing.T, r Relay, room, id string, b *inbox) func() {
	t.Helper()
	leave, err := r.Join(room, id, b.deliver)
	if err != nil {
		t.Fatalf("Join(%s, %s): %v", room, id, err)
	}
	return leave
}

func TestBroadcastExcludesSender(t *testing.T) {
	r, _, _ := newTestRelay(t)
	var a, b, c, other inbox
	mustJoin(t, r, "room", "a", &a)
	mustJoin(t, r, "room", "b", &b)
	mustJoin(t, r, "room", "c", &c)
	mustJoin(t, r, "elsewhere", "d", &other)

	if err := r.Send("room", Message{Sender: "a", Payload: AudioState{Enabled: false}}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if a.len() != 0 {
		t.Errorf("sender received its own broadcast")
	}
	if b.len() != 1 || c.len() != 1 {
		t.Errorf("b=%d c=%d, want one delivery each", b.len(), c.len())
	}
	if other.len() != 0 {
		t.Errorf("broadcast leaked into another room")
	}
	if b.msgs[0].CreatedAt.IsZero() {
		t.Errorf("CreatedAt not stamped")
	}
}

func TestAddressedDeliveryOnlyToReceiver(t *testing.T) {
	r, _, store := newTestRelay(t)
	var a, b, c inbox
	mustJoin(t, r, "room", "a", &a)
	mustJoin(t, r, "room", "b", &b)
	mustJoin(t, r, "room", "c", &c)

	msg := Message{Sender: "a", Receiver: "b", Payload: Announce{DisplayName: "Ann", Reply: true}}
	if err := r.Send("room", msg); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if b.len() != 1 || c.len() != 0 || a.len() != 0 {
		t.Fatalf("a=%d b=%d c=%d", a.len(), b.len(), c.len())
	}
	if store.Len() != 0 {
		t.Fatalf("delivered message was also held")
	}
}

func TestHeldMessageDeliveredOnceAtJoin(t *testing.T) {
	r, clock, store := newTestRelay(t)
	var a inbox
	mustJoin(t, r, "room", "a", &a)

	if err := r.Send("room", Message{Sender: "a", Receiver: "late", Payload: VideoState{Enabled: true}}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if store.Len() != 1 {
		t.Fatalf("held = %d, want 1", store.Len())
	}

	clock.Advance(59 * time.Second)

	var late inbox
	leave := mustJoin(t, r, "room", "late", &late)
	if late.len() != 1 {
		t.Fatalf("late received %d messages at join, want 1", late.len())
	}
	got := late.msgs[0]
	if _, ok := got.Payload.(VideoState); !ok {
		t.Fatalf("payload = %T", got.Payload)
	}
	if want := got.CreatedAt.Add(DefaultPendingTTL); !got.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, want)
	}

	leave()
	mustJoin(t, r, "room", "late", &late)
	if late.len() != 1 {
		t.Fatalf("held message delivered twice")
	}
}

func TestHeldMessageExpires(t *testing.T) {
	r, clock, store := newTestRelay(t)

	if err := r.Send("room", Message{Sender: "a", Receiver: "late", Payload: Keepalive{}}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	clock.Advance(DefaultPendingTTL)

	var late inbox
	mustJoin(t, r, "room", "late", &late)
	if late.len() != 0 {
		t.Fatalf("expired message delivered")
	}
	if store.Len() != 0 {
		t.Fatalf("expired message still held")
	}
}

func TestBroadcastToEmptyRoomIsDropped(t *testing.T) {
	r, _, store := newTestRelay(t)
	if err := r.Send("room", Message{Sender: "a", Payload: Keepalive{}}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("broadcast was held")
	}
}

func TestLeave(t *testing.T) {
	r, _, _ := newTestRelay(t)
	var a, b inbox
	mustJoin(t, r, "room", "a", &a)
	leave := mustJoin(t, r, "room", "b", &b)

	leave()
	leave()

	r.Send("room", Message{Sender: "a", Payload: Keepalive{}})
	if b.len() != 0 {
		t.Fatalf("delivered after leave")
	}
	if got := r.Members("room"); len(got) != 1 || got[0] != "a" {
		t.Fatalf("Members = %v", got)
	}
}

func TestStaleLeaveKeepsNewerRegistration(t *testing.T) {
	r, _, _ := newTestRelay(t)
	var a, first, second inbox
	mustJoin(t, r, "room", "a", &a)
	stale := mustJoin(t, r, "room", "b", &first)
	mustJoin(t, r, "room", "b", &second)

	stale()

	r.Send("room", Message{Sender: "a", Receiver: "b", Payload: Keepalive{}})
	if second.len() != 1 {
		t.Fatalf("newer registration lost its delivery")
	}
	if first.len() != 0 {
		t.Fatalf("replaced registration still receives")
	}
}

func TestDeliverMaySend(t *testing.T) {
	r, _, _ := newTestRelay(t)
	var a inbox
	mustJoin(t, r, "room", "a", &a)
	_, err := r.Join("room", "b", func(m Message) {
		if ann, ok := m.Payload.(Announce); ok && !ann.Reply {
			r.Send("room", Message{Sender: "b", Receiver: m.Sender, Payload: Announce{Reply: true}})
		}
	})
	if err != nil {
		t.Fatal(err)
	}

	r.Send("room", Message{Sender: "a", Payload: Announce{DisplayName: "a"}})
	if a.len() != 1 {
		t.Fatalf("reply from inside deliver not received")
	}
}

func TestPurge(t *testing.T) {
	r, clock, store := newTestRelay(t)
	r.Send("room", Message{Sender: "a", Receiver: "x", Payload: Keepalive{}})
	clock.Advance(30 * time.Second)
	r.Send("room", Message{Sender: "a", Receiver: "y", Payload: Keepalive{}})
	clock.Advance(30 * time.Second)

	n, err := r.Purge(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 || store.Len() != 1 {
		t.Fatalf("purged %d, held %d; want 1 and 1", n, store.Len())
	}
}

func TestSendWithoutPayload(t *testing.T) {
	r, _, _ := newTestRelay(t)
	if err := r.Send("room", Message{Sender: "a"}); err == nil {
		t.Fatal("expected error")
	}
}

type gatedStore struct {
	PendingStore
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStore) Put(ctx context.Context, roomID, receiverID string, msg Message) error {
	close(s.entered)
	<-s.release
	return s.PendingStore.Put(ctx, roomID, receiverID, msg)
}

func TestJoinDuringHoldReceivesMessage(t *testing.T) {
	store := NewMemoryStore()
	gate := &gatedStore{PendingStore: store, entered: make(chan struct{}), release: make(chan struct{})}
	r := NewMemoryRelay(WithPendingStore(gate))

	sent := make(chan error, 1)
	go func() {
		sent <- r.Send("room", Message{Sender: "a", Receiver: "b", Payload: VideoState{Enabled: true}})
	}()
	<-gate.entered

	var b inbox
	joined := make(chan error, 1)
	go func() {
		_, err := r.Join("room", "b", b.deliver)
		joined <- err
	}()
	time.Sleep(20 * time.Millisecond)
	close(gate.release)

	if err := <-sent; err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := <-joined; err != nil {
		t.Fatalf("Join: %v", err)
	}

	if b.len() != 1 {
		t.Fatalf("b received %d messages, want 1", b.len())
	}
	if store.Len() != 0 {
		t.Fatalf("held = %d after join, want 0", store.Len())
	}
}
