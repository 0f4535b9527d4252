package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// OperationKind is the mutation a queued operation replays remotely.
type OperationKind string

const (
	KindCreate OperationKind = "create"
	KindUpdate OperationKind = "update"
	KindDelete OperationKind = "delete"
)

// Validate reports whether the kind is one of create, update or delete.
func (k OperationKind) Validate() error {
	switch k {
	case KindCreate, KindUpdate, KindDelete:
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidOperation, string(k))
	}
}

// OperationStatus is the observed state of a queued operation.
type OperationStatus string

const (
	StatusPending OperationStatus = "pending"
	StatusSyncing OperationStatus = "syncing"
	StatusSynced  OperationStatus = "synced"
	StatusFailed  OperationStatus = "failed"
)

var ErrInvalidOperation = errors.New("invalid sync operation")

// SyncOperation is a durable record of one pending mutation.
type SyncOperation struct {
	ID           string          `json:"id"`
	Kind         OperationKind   `json:"kind"`
	ResourceType string          `json:"resource_type"`
	ResourceID   string          `json:"resource_id"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt   time.Time       `json:"enqueued_at"`
	RetryCount   int             `json:"retry_count"`
	LastError    string          `json:"last_error,omitempty"`
	Status       OperationStatus `json:"status"`
}

// Validate checks the fields the remote side needs to route the operation.
func (op *SyncOperation) Validate() error {
	if op == nil {
		return fmt.Errorf("%w: nil operation", ErrInvalidOperation)
	}
	if err := op.Kind.Validate(); err != nil {
		return err
	}
	if op.ResourceType == "" {
		return fmt.Errorf("%w: resource type is required", ErrInvalidOperation)
	}
	if op.ResourceID == "" {
		return fmt.Errorf("%w: resource id is required", ErrInvalidOperation)
	}
	if len(op.Payload) > 0 && !json.Valid(op.Payload) {
		return fmt.Errorf("%w: payload is not valid JSON", ErrInvalidOperation)
	}
	return nil
}

// DeriveStatus computes the display status from retry bookkeeping.
func (op *SyncOperation) DeriveStatus() OperationStatus {
	if op.RetryCount > 0 {
		return StatusFailed
	}
	return StatusPending
}

// Age returns how long the operation has been waiting.
func (op *SyncOperation) Age(now time.Time) time.Duration {
	if op.EnqueuedAt.IsZero() {
		return 0
	}
	return now.Sub(op.EnqueuedAt)
}

// QueueStats is the summary shown next to queue badges.
type QueueStats struct {
	TotalPending int `json:"total_pending"`
	FailedCount  int `json:"failed_count"`
}
