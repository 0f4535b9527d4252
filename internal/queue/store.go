// Package queue persists the ordered list of pending sync operations.
//
// Every backend keeps enqueue order, treats removal of an unknown id as a
// no-op, and never re-inserts an operation through Update once it has been
// removed.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"offlinesync/internal/models"

	"github.com/google/uuid"
)

var ErrDuplicateID = errors.New("operation id already queued")

// Store is the durable FIFO of pending operations.
type Store interface {
	// Enqueue appends op, filling ID and EnqueuedAt when empty.
	Enqueue(ctx context.Context, op *models.SyncOperation) error
	// List returns every pending operation in enqueue order.
	List(ctx context.Context) ([]models.SyncOperation, error)
	// Update persists retry bookkeeping for an operation still in the queue.
	// It reports false without writing when the operation is gone.
	Update(ctx context.Context, op models.SyncOperation) (bool, error)
	Remove(ctx context.Context, id string) error
	Clear(ctx context.Context) error
	Size(ctx context.Context) (int, error)
	Close() error
}

// Prepare assigns the fields generated at enqueue time.
func Prepare(op *models.SyncOperation, now time.Time) error {
	if err := op.Validate(); err != nil {
		return err
	}
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if op.EnqueuedAt.IsZero() {
		op.EnqueuedAt = now.UTC()
	}
	if op.Status == "" {
		op.Status = models.StatusPending
	}
	return nil
}

// Marshal encodes a queue snapshot as the persisted JSON array.
func Marshal(ops []models.SyncOperation) ([]byte, error) {
	if ops == nil {
		ops = []models.SyncOperation{}
	}
	data, err := json.Marshal(ops)
	if err != nil {
		return nil, fmt.Errorf("encode queue: %w", err)
	}
	return data, nil
}

// Unmarshal decodes the persisted JSON array. Empty input is an empty queue.
func Unmarshal(data []byte) ([]models.SyncOperation, error) {
	if len(data) == 0 {
		return []models.SyncOperation{}, nil
	}
	var ops []models.SyncOperation
	if err := json.Unmarshal(data, &ops); err != nil {
		return nil, fmt.Errorf("decode queue: %w", err)
	}
	if ops == nil {
		ops = []models.SyncOperation{}
	}
	return ops, nil
}

// isStorageFault separates backend failures from rejected input.
func isStorageFault(err error) bool {
	return !errors.Is(err, models.ErrInvalidOperation) && !errors.Is(err, ErrDuplicateID)
}

func indexOf(ops []models.SyncOperation, id string) int {
	for i := range ops {
		if ops[i].ID == id {
			return i
		}
	}
	return -1
}

func without(ops []models.SyncOperation, id string) ([]models.SyncOperation, bool) {
	i := indexOf(ops, id)
	if i < 0 {
		return ops, false
	}
	out := make([]models.SyncOperation, 0, len(ops)-1)
	out = append(out, ops[:i]...)
	return append(out, ops[i+1:]...), true
}
