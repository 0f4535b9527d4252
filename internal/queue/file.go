package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"offlinesync/internal/models"
)

// FileStore keeps the queue as a JSON array in one file. Every write replaces
// the file through a rename so a crash never leaves a truncated list behind.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create queue directory: %w", err)
	}
	return &FileStore{path: path}, nil
}

func (s *FileStore) Enqueue(ctx context.Context, op *models.SyncOperation) error {
	if err := Prepare(op, time.Now()); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ops, err := s.read()
	if err != nil {
		return err
	}
	if indexOf(ops, op.ID) >= 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateID, op.ID)
	}
	return s.write(append(ops, *op))
}

func (s *FileStore) List(ctx context.Context) ([]models.SyncOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

func (s *FileStore) Update(ctx context.Context, op models.SyncOperation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ops, err := s.read()
	if err != nil {
		return false, err
	}
	i := indexOf(ops, op.ID)
	if i < 0 {
		return false, nil
	}
	ops[i] = op
	return true, s.write(ops)
}

func (s *FileStore) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ops, err := s.read()
	if err != nil {
		return err
	}
	out, removed := without(ops, id)
	if !removed {
		return nil
	}
	return s.write(out)
}

func (s *FileStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(nil)
}

func (s *FileStore) Size(ctx context.Context) (int, error) {
	ops, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	return len(ops), nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) read() ([]models.SyncOperation, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return []models.SyncOperation{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read queue file: %w", err)
	}
	return Unmarshal(data)
}

func (s *FileStore) write(ops []models.SyncOperation) error {
	data, err := Marshal(ops)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp queue file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp queue file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp queue file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp queue file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace queue file: %w", err)
	}
	return nil
}
