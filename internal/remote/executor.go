// Package remote performs queued operations against the backend API.
package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"offlinesync/internal/models"
)

// Executor performs one operation remotely. A nil error means the backend
// accepted it and the operation may leave the queue.
type Executor interface {
	Execute(ctx context.Context, op models.SyncOperation) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, op models.SyncOperation) error

func (f ExecutorFunc) Execute(ctx context.Context, op models.SyncOperation) error {
	return f(ctx, op)
}

// PermanentError marks a failure that will not succeed on retry.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return "permanent: " + e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err so the engine drops the operation without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

var ErrUnknownResource = errors.New("no executor registered for resource type")

// Router dispatches operations to executors by resource type.
type Router struct {
	mu        sync.RWMutex
	executors map[string]Executor
	fallback  Executor
}

func NewRouter() *Router {
	return &Router{executors: make(map[string]Executor)}
}

func (r *Router) Handle(resourceType string, exec Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[resourceType] = exec
}

// Default sets the executor used for resource types without a dedicated one.
func (r *Router) Default(exec Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = exec
}

func (r *Router) Execute(ctx context.Context, op models.SyncOperation) error {
	r.mu.RLock()
	exec, ok := r.executors[op.ResourceType]
	if !ok {
		exec = r.fallback
	}
	r.mu.RUnlock()

	if exec == nil {
		return Permanent(fmt.Errorf("%w: %s", ErrUnknownResource, op.ResourceType))
	}
	return exec.Execute(ctx, op)
}
