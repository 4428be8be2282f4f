// Package notify is the in-process event bus for scan lifecycle and finding
// events. Subscribers (the websocket hub, log sinks) receive events on
// buffered channels; a slow subscriber drops events rather than blocking
// scan execution.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vulnhawk/vulnhawk/internal/logging"
)

// Event types published on the bus.
const (
	EventScanProgress    = "scan.progress"
	EventScanCompleted   = "scan.completed"
	EventScanFailed      = "scan.failed"
	EventScanCancelled   = "scan.cancelled"
	EventVulnCritical    = "vulnerability.critical"
	EventVulnHigh        = "vulnerability.high"
	EventAssetDiscovered = "asset.discovered"
)

// Event is one bus message. Payload content depends on Type.
type Event struct {
	Type      string                 `json:"type"`
	ScanID    uuid.UUID              `json:"scan_id"`
	TargetID  uuid.UUID              `json:"target_id"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

const subscriberBuffer = 64

// Bus fans events out to subscribers. Safe for concurrent use.
type Bus struct {
	logger *logging.Logger

	mu          sync.RWMutex
	subscribers map[int]chan Event
	nextID      int
	closed      bool
}

// NewBus creates an event bus.
func NewBus(logger *logging.Logger) *Bus {
	return &Bus{
		logger:      logger.WithComponent("notify"),
		subscribers: map[int]chan Event{},
	}
}

// Subscribe registers a new subscriber. The returned cancel function must be
// called to release the channel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subscribers[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers an event to all subscribers. Delivery is best effort;
// a full subscriber buffer drops the event for that subscriber.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for id, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			b.logger.Warn("Dropping event for slow subscriber",
				"subscriber", id, "event", event.Type)
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
	for id, ch := range b.subscribers {
		delete(b.subscribers, id)
		close(ch)
	}
}
