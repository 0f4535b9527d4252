package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"offlinesync/internal/models"
)

// MemoryStore keeps the queue in process memory.
type MemoryStore struct {
	mu  sync.RWMutex
	ops []models.SyncOperation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Enqueue(ctx context.Context, op *models.SyncOperation) error {
	if err := Prepare(op, time.Now()); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if indexOf(s.ops, op.ID) >= 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateID, op.ID)
	}
	s.ops = append(s.ops, *op)
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]models.SyncOperation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.SyncOperation{}, s.ops...), nil
}

func (s *MemoryStore) Update(ctx context.Context, op models.SyncOperation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := indexOf(s.ops, op.ID)
	if i < 0 {
		return false, nil
	}
	s.ops[i] = op
	return true, nil
}

func (s *MemoryStore) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops, _ = without(s.ops, id)
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = nil
	return nil
}

func (s *MemoryStore) Size(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ops), nil
}

func (s *MemoryStore) Close() error { return nil }
