package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventQueueEnqueued       = "queue_enqueued"
	EventQueueRemoved        = "queue_removed"
	EventQueueCleared        = "queue_cleared"
	EventOperationSynced     = "operation_synced"
	EventOperationFailed     = "operation_failed"
	EventOperationDropped    = "operation_dropped"
	EventDrainStarted        = "drain_started"
	EventDrainFinished       = "drain_finished"
	EventConnectivityChanged = "connectivity_changed"
)

// QueueEventPayload describes a queue change for badge/status consumers.
type QueueEventPayload struct {
	OperationID  string `json:"operation_id,omitempty"`
	Kind         string `json:"kind,omitempty"`
	ResourceType string `json:"resource_type,omitempty"`
	ResourceID   string `json:"resource_id,omitempty"`
	RetryCount   int    `json:"retry_count,omitempty"`
	Error        string `json:"error,omitempty"`
	QueueSize    int    `json:"queue_size"`
}

// ConnectivityEventPayload is published when the device goes online or offline.
type ConnectivityEventPayload struct {
	Online        bool   `json:"online"`
	TransportType string `json:"transport_type,omitempty"`
	QueueSize     int    `json:"queue_size"`
}

// DrainEventPayload summarizes a finished drain pass.
type DrainEventPayload struct {
	Succeeded   int           `json:"succeeded"`
	Failed      int           `json:"failed"`
	Dropped     int           `json:"dropped"`
	Interrupted bool          `json:"interrupted"`
	Duration    time.Duration `json:"duration"`
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Decode unmarshals the event payload.
func (e *Event) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	wildcard    []EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// SubscribeAll registers a handler that receives every event.
func (b *EventBus) SubscribeAll(handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wildcard = append(b.wildcard, handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	handlers = append(handlers, b.wildcard...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}
