package models

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"
)

// Entity is a local record that can be replayed through the sync queue.
type Entity interface {
	ResourceType() string
	EntityID() string
}

type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (t *Task) ResourceType() string { return ResourceTask }
func (t *Task) EntityID() string     { return t.ID }

type Job struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	CustomerID string    `json:"customer_id,omitempty"`
	Status     string    `json:"status"`
	ScheduleAt time.Time `json:"schedule_at"`
	Notes      string    `json:"notes,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (j *Job) ResourceType() string { return ResourceJob }
func (j *Job) EntityID() string     { return j.ID }

type Invoice struct {
	ID          string    `json:"id"`
	Number      string    `json:"number"`
	CustomerID  string    `json:"customer_id"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
	Status      string    `json:"status"`
	IssuedAt    time.Time `json:"issued_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (i *Invoice) ResourceType() string { return ResourceInvoice }
func (i *Invoice) EntityID() string     { return i.ID }

// NewOperation builds a generic operation carrying the entity snapshot.
// Delete operations keep the snapshot too so the remote side can audit it.
func NewOperation(kind OperationKind, entity Entity) (SyncOperation, error) {
	if entity == nil || isNilPointer(entity) {
		return SyncOperation{}, fmt.Errorf("%w: nil entity", ErrInvalidOperation)
	}
	raw, err := json.Marshal(entity)
	if err != nil {
		return SyncOperation{}, fmt.Errorf("encode %s payload: %w", entity.ResourceType(), err)
	}
	op := SyncOperation{
		Kind:         kind,
		ResourceType: entity.ResourceType(),
		ResourceID:   entity.EntityID(),
		Payload:      raw,
		Status:       StatusPending,
	}
	if err := op.Validate(); err != nil {
		return SyncOperation{}, err
	}
	return op, nil
}

func isNilPointer(v any) bool {
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Ptr && rv.IsNil()
}

// DecodePayload unmarshals an operation payload into a typed entity.
func DecodePayload[T any](op SyncOperation) (*T, error) {
	var v T
	if len(op.Payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload for %s/%s", ErrInvalidOperation, op.ResourceType, op.ResourceID)
	}
	if err := json.Unmarshal(op.Payload, &v); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", op.ResourceType, err)
	}
	return &v, nil
}
