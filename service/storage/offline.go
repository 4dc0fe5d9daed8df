package storage

import (
	"context"
	"encoding/json"
	"time"

	"RTChat/module/chat/model"

	"github.com/redis/go-redis/v9"
)

// Offline queue: one Redis list per user, newest at the head. The queue is a
// rolling window: LTRIM keeps the most recent offlineQueueMax entries and the
// key expires offlineQueueTTL after the last enqueue, so abandoned accounts
// clean themselves up. Drain-then-clear is not transactional across a crash;
// a resend on the next reconnect is absorbed client-side by message-id dedup.
const (
	offlineQueueMax = 10_000
	offlineQueueTTL = 7 * 24 * time.Hour
)

func offlineKey(user string) string { return "im:offline:" + user }

type RedisOfflineQueue struct {
	rdb *redis.Client
}

func NewRedisOfflineQueue(rdb *redis.Client) *RedisOfflineQueue {
	return &RedisOfflineQueue{rdb: rdb}
}

// Enqueue stores a full message snapshot in the user's offline queue.
func (q *RedisOfflineQueue) Enqueue(ctx context.Context, userID string, msg *model.Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	pipe := q.rdb.TxPipeline()
	pipe.LPush(ctx, offlineKey(userID), b)
	pipe.LTrim(ctx, offlineKey(userID), 0, offlineQueueMax-1)
	pipe.Expire(ctx, offlineKey(userID), offlineQueueTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// GetAll returns every queued message in original send order (oldest first).
func (q *RedisOfflineQueue) GetAll(ctx context.Context, userID string) ([]*model.Message, error) {
	vals, err := q.rdb.LRange(ctx, offlineKey(userID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	// list holds newest first; walk backwards for FIFO
	out := make([]*model.Message, 0, len(vals))
	for i := len(vals) - 1; i >= 0; i-- {
		var m model.Message
		if err := json.Unmarshal([]byte(vals[i]), &m); err != nil {
			continue
		}
		out = append(out, &m)
	}
	return out, nil
}

// Clear drops the whole queue.
func (q *RedisOfflineQueue) Clear(ctx context.Context, userID string) error {
	return q.rdb.Del(ctx, offlineKey(userID)).Err()
}
