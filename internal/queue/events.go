package queue

import (
	"log/slog"
	"sync"

	"github.com/corpusd/corpusd/internal/models"
)

// EventType classifies a job event.
type EventType string

const (
	// EventTransition covers every non-terminal state or progress change.
	EventTransition EventType = "transition"
	// EventCompleted fires once when a job reaches ready.
	EventCompleted EventType = "completed"
	// EventFailed fires once when a job fails terminally.
	EventFailed EventType = "failed"
)

// JobEvent is published on every job state change. Subscribers get the
// full status snapshot plus the routing fields they need.
type JobEvent struct {
	Type     EventType
	OwnerID  string
	StoreRef string
	Status   models.JobStatus
}

// Bus fans job events out to subscribers. Delivery is best-effort: a
// subscriber that falls behind loses events rather than stalling the
// pipeline.
type Bus struct {
	mu     sync.RWMutex
	subs   []chan JobEvent
	closed bool
	logger *slog.Logger
}

// NewBus creates an event bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger}
}

// Subscribe registers a new subscriber and returns its channel. The
// channel is closed when the bus shuts down.
func (b *Bus) Subscribe() <-chan JobEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan JobEvent, 64)
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

// Publish delivers an event to all subscribers without blocking.
func (b *Bus) Publish(event JobEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			b.logger.Warn("dropping job event, subscriber is behind",
				"type", event.Type, "document_id", event.Status.DocumentID)
		}
	}
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
