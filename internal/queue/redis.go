package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"offlinesync/internal/config"
	"offlinesync/internal/models"

	"github.com/redis/go-redis/v9"
)

const maxTxAttempts = 10

// RedisStore keeps the whole queue as one JSON array under a single key.
// Writes run inside WATCH/MULTI so readers never observe a partial list.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisClient создает новый клиент Redis на основе конфигурации
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func NewRedisStore(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = models.DefaultQueueKey
	}
	return &RedisStore{client: client, key: key}
}

func (s *RedisStore) Enqueue(ctx context.Context, op *models.SyncOperation) error {
	if err := Prepare(op, time.Now()); err != nil {
		return err
	}
	return s.mutate(ctx, func(ops []models.SyncOperation) ([]models.SyncOperation, error) {
		if indexOf(ops, op.ID) >= 0 {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, op.ID)
		}
		return append(ops, *op), nil
	})
}

func (s *RedisStore) List(ctx context.Context) ([]models.SyncOperation, error) {
	if s.client == nil {
		return nil, errors.New("redis client is nil")
	}
	return s.load(ctx, s.client)
}

func (s *RedisStore) Update(ctx context.Context, op models.SyncOperation) (bool, error) {
	found := false
	err := s.mutate(ctx, func(ops []models.SyncOperation) ([]models.SyncOperation, error) {
		i := indexOf(ops, op.ID)
		if i < 0 {
			return nil, nil
		}
		found = true
		ops[i] = op
		return ops, nil
	})
	return found, err
}

func (s *RedisStore) Remove(ctx context.Context, id string) error {
	return s.mutate(ctx, func(ops []models.SyncOperation) ([]models.SyncOperation, error) {
		out, removed := without(ops, id)
		if !removed {
			return nil, nil
		}
		return out, nil
	})
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if s.client == nil {
		return errors.New("redis client is nil")
	}
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("failed to clear queue in redis: %w", err)
	}
	return nil
}

func (s *RedisStore) Size(ctx context.Context) (int, error) {
	ops, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	return len(ops), nil
}

// Close is a no-op; the client is owned by the caller.
func (s *RedisStore) Close() error { return nil }

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) load(ctx context.Context, c stringGetter) ([]models.SyncOperation, error) {
	raw, err := c.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return []models.SyncOperation{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue from redis: %w", err)
	}
	return Unmarshal(raw)
}

// mutate applies fn to the current list inside an optimistic transaction.
// fn returning a nil slice and nil error means "nothing to write".
func (s *RedisStore) mutate(ctx context.Context, fn func([]models.SyncOperation) ([]models.SyncOperation, error)) error {
	if s.client == nil {
		return errors.New("redis client is nil")
	}

	txf := func(tx *redis.Tx) error {
		ops, err := s.load(ctx, tx)
		if err != nil {
			return err
		}
		next, err := fn(ops)
		if err != nil || next == nil {
			return err
		}
		data, err := Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.key, data, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxAttempts; i++ {
		err := s.client.Watch(ctx, txf, s.key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("redis queue transaction: %w", err)
		}
		return nil
	}
	return fmt.Errorf("redis queue transaction: %w", redis.TxFailedErr)
}

// RedisDeadLetter records dropped operations on a redis list for later inspection.
type RedisDeadLetter struct {
	client *redis.Client
	key    string
}

func NewRedisDeadLetter(client *redis.Client, key string) *RedisDeadLetter {
	if key == "" {
		key = models.DefaultDeadLetterKey
	}
	return &RedisDeadLetter{client: client, key: key}
}

func (d *RedisDeadLetter) Push(ctx context.Context, op models.SyncOperation) error {
	if d.client == nil {
		return errors.New("redis client is nil")
	}
	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("encode deadletter %s: %w", op.ID, err)
	}
	if err := d.client.LPush(ctx, d.key, data).Err(); err != nil {
		return fmt.Errorf("deadletter push %s: %w", op.ID, err)
	}
	return nil
}

// List returns dead-lettered operations, most recent first.
func (d *RedisDeadLetter) List(ctx context.Context) ([]models.SyncOperation, error) {
	if d.client == nil {
		return nil, errors.New("redis client is nil")
	}
	raw, err := d.client.LRange(ctx, d.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read deadletter: %w", err)
	}
	ops := make([]models.SyncOperation, 0, len(raw))
	for _, r := range raw {
		var op models.SyncOperation
		if err := json.Unmarshal([]byte(r), &op); err != nil {
			return nil, fmt.Errorf("decode deadletter: %w", err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// Ping проверяет соединение с Redis
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}
