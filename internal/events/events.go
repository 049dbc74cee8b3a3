package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventSyncStarted        = "sync_started"
	EventSyncBatchCompleted = "sync_batch_completed"
	EventSyncCompleted      = "sync_completed"
	EventSyncFailed         = "sync_failed"
)

// SyncEventPayload describes a sync run snapshot for event consumers.
type SyncEventPayload struct {
	SyncType         string    `json:"sync_type"`
	Mode             string    `json:"mode"`
	RunID            string    `json:"run_id"`
	Batch            string    `json:"batch,omitempty"`
	CompletedBatches int       `json:"completed_batches"`
	TotalBatches     int       `json:"total_batches"`
	Fetched          int       `json:"fetched"`
	Synced           int       `json:"synced"`
	Failed           int       `json:"failed"`
	Error            string    `json:"error,omitempty"`
	At               time.Time `json:"at"`
}

// Event represents a lightweight domain event.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
	Processed bool
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
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

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// handlers run synchronously; a failing handler does not stop the others
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

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{Type: eventType, Payload: raw, CreatedAt: time.Now()}, nil
}
