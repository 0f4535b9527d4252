package queue

import (
	"context"
	"fmt"

	"offlinesync/internal/config"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Backend bundles the configured store with the redis client it may share
// with the dead-letter list.
type Backend struct {
	Store Store
	Redis *redis.Client
}

// Open builds the store selected by cfg.Queue.Backend. A redis client is
// created whenever redis.address is set, even for other backends, so dropped
// operations can still be dead-lettered.
func Open(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*Backend, error) {
	b := &Backend{}

	if cfg.Redis.Address != "" {
		client := NewRedisClient(cfg.Redis)
		if err := Ping(ctx, client); err != nil {
			client.Close()
			if cfg.Queue.Backend == "redis" {
				return nil, err
			}
			if logger != nil {
				logger.Warn().Err(err).Msg("Redis unavailable, dead-letter disabled")
			}
		} else {
			b.Redis = client
		}
	}

	var (
		store Store
		err   error
	)
	switch cfg.Queue.Backend {
	case "sqlite":
		store, err = NewSQLiteStore(cfg.Queue.Path, logger)
	case "file":
		store, err = NewFileStore(cfg.Queue.Path)
	case "redis":
		store = NewRedisStore(b.Redis, cfg.Queue.Key)
	case "memory":
		store = NewMemoryStore()
	default:
		err = fmt.Errorf("unknown queue backend %q", cfg.Queue.Backend)
	}
	if err != nil {
		b.Close()
		return nil, err
	}

	if cfg.Queue.Failover && cfg.Queue.Backend != "memory" {
		store = NewFailoverStore(store, NewMemoryStore(), logger)
	}
	b.Store = store
	return b, nil
}

// DeadLetter returns the redis dead-letter list, or nil without redis.
func (b *Backend) DeadLetter(key string) *RedisDeadLetter {
	if b.Redis == nil {
		return nil
	}
	return NewRedisDeadLetter(b.Redis, key)
}

func (b *Backend) Close() error {
	var err error
	if b.Store != nil {
		err = b.Store.Close()
	}
	if b.Redis != nil {
		if cerr := b.Redis.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
