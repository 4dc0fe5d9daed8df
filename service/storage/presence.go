package storage

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Presence keys: im:presence:<user> -> hash connID => gatewayID.
// The hash TTL is refreshed on every Online call; a gateway crash therefore
// leaves at most presenceTTL of ghost state behind.
const presenceTTL = 2 * time.Hour

func presenceKey(user string) string { return "im:presence:" + user }

// RedisPresence tracks which connections a user currently holds and on which
// gateway instance. It is shared by every gateway process.
type RedisPresence struct {
	rdb *redis.Client
}

func NewRedisPresence(rdb *redis.Client) *RedisPresence {
	return &RedisPresence{rdb: rdb}
}

// Online registers a live connection for the user.
func (p *RedisPresence) Online(ctx context.Context, userID, connID, gatewayID string) error {
	pipe := p.rdb.TxPipeline()
	pipe.HSet(ctx, presenceKey(userID), connID, gatewayID)
	pipe.Expire(ctx, presenceKey(userID), presenceTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Offline removes one connection. The key disappears with its last field.
func (p *RedisPresence) Offline(ctx context.Context, userID, connID string) error {
	return p.rdb.HDel(ctx, presenceKey(userID), connID).Err()
}

// IsOnline reports whether the user has at least one live connection anywhere.
func (p *RedisPresence) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := p.rdb.HLen(ctx, presenceKey(userID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Connections returns connID -> gatewayID for every live connection.
func (p *RedisPresence) Connections(ctx context.Context, userID string) (map[string]string, error) {
	return p.rdb.HGetAll(ctx, presenceKey(userID)).Result()
}
