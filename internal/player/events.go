package player

import (
	"sync"

	"github.com/talefeed/talefeed/internal/logger"
)

// EventType keys the engine's event dispatch table
type EventType string

// Event types published by the engine
const (
	EventStateChanged    EventType = "state_changed"
	EventTrackChanged    EventType = "track_changed"
	EventProgress        EventType = "progress"
	EventQualityChanged  EventType = "quality_changed"
	EventSegmentProgress EventType = "segment_progress"
	EventPlaybackError   EventType = "playback_error"
	EventPlayerClosed    EventType = "player_closed"

	EventDownloadProgress EventType = "download_progress"
	EventDownloadComplete EventType = "download_complete"
	EventDownloadFailed   EventType = "download_failed"
)

// Event is one message published to mini-player consumers
type Event struct {
	Type    EventType   `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// Dispatcher is a small event dispatch table keyed by event type, with an
// additional firehose subscription used by the WebSocket fanout.
type Dispatcher struct {
	handlers    map[EventType][]func(Event)
	subscribers map[chan Event]struct{}
	mu          sync.RWMutex
}

// NewDispatcher creates an empty dispatcher
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers:    make(map[EventType][]func(Event)),
		subscribers: make(map[chan Event]struct{}),
	}
}

// On registers a handler for one event type
func (d *Dispatcher) On(eventType EventType, handler func(Event)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[eventType] = append(d.handlers[eventType], handler)
}

// Subscribe returns a channel receiving every published event. The channel
// is buffered; slow consumers drop events rather than block the engine.
func (d *Dispatcher) Subscribe() chan Event {
	ch := make(chan Event, 32)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscription channel. The channel is never closed:
// Publish may hold a snapshot of subscribers taken before removal, and a send
// on a closed channel would panic the publishing goroutine. Consumers detect
// disconnect on their own side and simply stop reading.
func (d *Dispatcher) Unsubscribe(ch chan Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.subscribers, ch)
}

// Publish delivers an event to type handlers and all subscribers
func (d *Dispatcher) Publish(event Event) {
	d.mu.RLock()
	handlers := append([]func(Event){}, d.handlers[event.Type]...)
	subscribers := make([]chan Event, 0, len(d.subscribers))
	for ch := range d.subscribers {
		subscribers = append(subscribers, ch)
	}
	d.mu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
	for _, ch := range subscribers {
		select {
		case ch <- event:
		default:
			logger.Log.Debug().
				Str("event_type", string(event.Type)).
				Msg("Dropping event for slow subscriber")
		}
	}
}
