package signaling

import (
	"context"
	"sync"
	"time"
)

// PendingStore holds addressed messages whose receiver has not joined yet.
type PendingStore interface {
	// Put stores msg for receiver in room until msg.ExpiresAt.
	Put(ctx context.Context, roomID, receiverID string, msg Message) error

	// Take removes and returns everything held for receiver, oldest first,
	// including messages that have already expired.
	Take(ctx context.Context, roomID, receiverID string) ([]Message, error)

	// Purge removes and returns every message that expired at or before now.
	Purge(ctx context.Context, now time.Time) ([]Message, error)
}

type pendingKey struct {
	room, receiver string
}

// MemoryStore is the in-process PendingStore.
type MemoryStore struct {
	mu    sync.Mutex
	queue map[pendingKey][]Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{queue: make(map[pendingKey][]Message)}
}

func (s *MemoryStore) Put(_ context.Context, roomID, receiverID string, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := pendingKey{roomID, receiverID}
	s.queue[k] = append(s.queue[k], msg)
	return nil
}

func (s *MemoryStore) Take(_ context.Context, roomID, receiverID string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := pendingKey{roomID, receiverID}
	msgs := s.queue[k]
	delete(s.queue, k)
	return msgs, nil
}

func (s *MemoryStore) Purge(_ context.Context, now time.Time) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []Message
	for k, msgs := range s.queue {
		live := msgs[:0]
		for _, m := range msgs {
			if m.Expired(now) {
				expired = append(expired, m)
			} else {
				live = append(live, m)
			}
		}
		if len(live) == 0 {
			delete(s.queue, k)
		} else {
			s.queue[k] = live
		}
	}
	return expired, nil
}

// Len reports how many messages are held.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, msgs := range s.queue {
		n += len(msgs)
	}
	return n
}
