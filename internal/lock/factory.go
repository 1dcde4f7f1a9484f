package lock

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"fstore-go/internal/config"
	"fstore-go/internal/fstore"
)

// NewLockerFromConfig creates a Locker based on the lock config type.
func NewLockerFromConfig(cfg config.LockConfig, logger fstore.Logger) (fstore.Locker, error) {
	switch cfg.Type {
	case "", "none":
		return fstore.NopLocker{}, nil
	case "local":
		return NewLocalLocker(), nil
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("redis lock requires redis_addr to be set")
		}
		ttl, err := cfg.TTLDuration()
		if err != nil {
			return nil, err
		}
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return NewRedisLocker(client, ttl, logger), nil
	default:
		return nil, fmt.Errorf("unknown lock type: %s", cfg.Type)
	}
}
