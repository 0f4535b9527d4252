package queue

import (
	"context"
	"path/filepath"
	"testing"

	"offlinesync/internal/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenBackends(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	tests := []struct {
		name    string
		cfg     config.Config
		want    any
		hasDead bool
	}{
		{"sqlite", config.Config{Queue: config.QueueConfig{Backend: "sqlite", Path: filepath.Join(t.TempDir(), "q.db")}}, &SQLiteStore{}, false},
		{"file", config.Config{Queue: config.QueueConfig{Backend: "file", Path: filepath.Join(t.TempDir(), "q.json")}}, &FileStore{}, false},
		{"memory", config.Config{Queue: config.QueueConfig{Backend: "memory", Failover: true}}, &MemoryStore{}, false},
		{"redis", config.Config{Queue: config.QueueConfig{Backend: "redis"}, Redis: config.RedisConfig{Address: mr.Addr()}}, &RedisStore{}, true},
		{"failover", config.Config{Queue: config.QueueConfig{Backend: "file", Path: filepath.Join(t.TempDir(), "q.json"), Failover: true}}, &FailoverStore{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Open(ctx, &tt.cfg, nil)
			require.NoError(t, err)
			t.Cleanup(func() { b.Close() })

			assert.IsType(t, tt.want, b.Store)
			assert.Equal(t, tt.hasDead, b.DeadLetter("") != nil)
		})
	}
}

func TestOpenRedisUnavailable(t *testing.T) {
	cfg := config.Config{
		Queue: config.QueueConfig{Backend: "redis"},
		Redis: config.RedisConfig{Address: "127.0.0.1:1"},
	}
	_, err := Open(context.Background(), &cfg, nil)
	assert.Error(t, err)
}

func TestOpenUnknownBackend(t *testing.T) {
	cfg := config.Config{Queue: config.QueueConfig{Backend: "postgres"}}
	_, err := Open(context.Background(), &cfg, nil)
	assert.Error(t, err)
}
