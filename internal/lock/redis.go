package lock

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"fstore-go/internal/fstore"
)

//go:embed release.lua
var releaseScript string

const (
	keyPrefix    = "fstore:lock:"
	retryBackoff = 50 * time.Millisecond
)

// RedisClient is the part of *redis.Client the locker uses.
type RedisClient interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Close() error
}

// RedisLocker holds admission keys in Redis so several processes sharing
// a storage root and database serialize against each other. Each key
// expires after ttl in case its holder dies.
type RedisLocker struct {
	client  RedisClient
	release *redis.Script
	ttl     time.Duration
	logger  fstore.Logger
}

func NewRedisLocker(client RedisClient, ttl time.Duration, logger fstore.Logger) *RedisLocker {
	if logger == nil {
		logger = fstore.NewNopLogger()
	}
	return &RedisLocker{
		client:  client,
		release: redis.NewScript(releaseScript),
		ttl:     ttl,
		logger:  logger,
	}
}

// Lock takes keys in sorted order, retrying each until ctx ends.
func (l *RedisLocker) Lock(ctx context.Context, keys ...string) (func(), error) {
	keys = uniqueSorted(keys)
	token := uuid.NewString()

	var held []string
	for _, k := range keys {
		rk := keyPrefix + k
		if err := l.acquire(ctx, rk, token); err != nil {
			l.unlock(held, token)
			return nil, err
		}
		held = append(held, rk)
	}

	return func() { l.unlock(held, token) }, nil
}

func (l *RedisLocker) acquire(ctx context.Context, key, token string) error {
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquiring lock %s: %w", key, err)
		}
		if ok {
			return nil
		}

		l.logger.Debug("waiting for lock", "key", key)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryBackoff):
		}
	}
}

// unlock runs with its own context so a cancelled caller still releases.
func (l *RedisLocker) unlock(keys []string, token string) {
	if len(keys) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := l.release.Run(ctx, l.client, keys, token).Err(); err != nil {
		l.logger.Warn("releasing locks failed; they will expire", "keys", keys, "error", err)
	}
}

// Close closes the underlying Redis client.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}

var _ fstore.Locker = (*RedisLocker)(nil)
