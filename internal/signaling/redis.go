package signaling

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "warpcall:pending:"

// RedisStore keeps pending messages in one sorted set per receiver, scored
// by expiry, so several signaling servers can share the delivery window.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisStore(rdb redis.UniversalClient) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: redisKeyPrefix}
}

func (s *RedisStore) key(roomID, receiverID string) string {
	return s.prefix + roomID + ":" + receiverID
}

func (s *RedisStore) Put(ctx context.Context, roomID, receiverID string, msg Message) error {
	data, err := EncodeBinary(msg)
	if err != nil {
		return err
	}
	key := s.key(roomID, receiverID)
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{Score: score(msg.ExpiresAt), Member: data})
		// Keep the key around until its newest member expires.
		pipe.PExpireAt(ctx, key, msg.ExpiresAt.Add(time.Second))
		return nil
	})
	if err != nil {
		return fmt.Errorf("store pending message: %w", err)
	}
	return nil
}

func (s *RedisStore) Take(ctx context.Context, roomID, receiverID string) ([]Message, error) {
	key := s.key(roomID, receiverID)
	var members *redis.StringSliceCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		members = pipe.ZRange(ctx, key, 0, -1)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("take pending messages: %w", err)
	}
	return decodeMembers(members.Val())
}

func (s *RedisStore) Purge(ctx context.Context, now time.Time) ([]Message, error) {
	upper := strconv.FormatFloat(score(now), 'f', -1, 64)
	var expired []Message

	iter := s.rdb.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		var members *redis.StringSliceCmd
		_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			members = pipe.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: "-inf", Max: upper})
			pipe.ZRemRangeByScore(ctx, key, "-inf", upper)
			return nil
		})
		if err != nil {
			return expired, fmt.Errorf("purge %s: %w", key, err)
		}
		msgs, err := decodeMembers(members.Val())
		if err != nil {
			return expired, err
		}
		expired = append(expired, msgs...)
	}
	if err := iter.Err(); err != nil {
		return expired, fmt.Errorf("scan pending keys: %w", err)
	}
	return expired, nil
}

func decodeMembers(members []string) ([]Message, error) {
	msgs := make([]Message, 0, len(members))
	for _, m := range members {
		msg, err := DecodeBinary([]byte(m))
		if err != nil {
			return msgs, fmt.Errorf("decode pending message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}
