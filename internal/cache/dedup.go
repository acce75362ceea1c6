// Package cache holds the Redis-backed state shared between gateway instances.
package cache

import (
	"context"
	"fmt"
	"time"

	"wabagate/internal/constants"
	"wabagate/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// setNX is the slice of the go-redis client the deduper needs.
type setNX interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// RedisDeduper marks provider message ids as seen with SET NX and a TTL, so a
// webhook retried against another instance is recognised as a repeat.
type RedisDeduper struct {
	client setNX
	ttl    time.Duration
	prefix string
}

func NewRedisDeduper(client setNX, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = constants.DefaultDedupTTLSec * time.Second
	}
	return &RedisDeduper{client: client, ttl: ttl, prefix: constants.DedupKeyPrefix}
}

// MarkSeen reports true when id had not been marked before.
func (d *RedisDeduper) MarkSeen(ctx context.Context, providerMessageID string) (bool, error) {
	if providerMessageID == "" {
		return true, nil
	}
	ok, err := d.client.SetNX(ctx, d.prefix+providerMessageID, 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup mark %s: %w", providerMessageID, err)
	}
	return ok, nil
}

// Noop treats every id as new. The database's unique provider message id still
// catches repeats.
type Noop struct{}

func (Noop) MarkSeen(context.Context, string) (bool, error) { return true, nil }

// Connect opens a Redis client from cfg and pings it. It returns nil, nil when no
// address is configured.
func Connect(ctx context.Context, cfg models.RedisConfig, logger *logrus.Logger) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		MinIdleConns: 2,
		MaxRetries:   3,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	logger.WithField("addr", cfg.Addr).Info("Connected to Redis for inbound dedup")
	return client, nil
}
