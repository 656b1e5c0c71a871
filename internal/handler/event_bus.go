// internal/handler/event_bus.go
package handler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"afterglow/internal/relay"
)

// Event types published on the bus
const (
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
	EventParseWarning = "parse_warning"
	EventFatal        = "fatal"
	EventStatus       = "status"
)

// EventBus fans relay events out to sinks and channel subscribers
type EventBus struct {
	sinks       []relay.Sink
	subscribers map[string]chan Event
	events      chan Event
	mutex       sync.RWMutex
	logger      *zap.Logger
}

// Event represents a relay event
type Event struct {
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewEventBus creates a new event bus forwarding to sinks
func NewEventBus(logger *zap.Logger, sinks ...relay.Sink) *EventBus {
	return &EventBus{
		sinks:       sinks,
		subscribers: make(map[string]chan Event),
		events:      make(chan Event, 1000),
		logger:      logger.With(zap.String("component", "event-bus")),
	}
}

// Start distributes published events until ctx is done
func (eb *EventBus) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-eb.events:
			eb.distributeEvent(event)
		}
	}
}

// Publish queues an event for subscribers without blocking
func (eb *EventBus) Publish(event Event) {
	select {
	case eb.events <- event:
	default:
		eb.logger.Warn("Event bus full, dropping event",
			zap.String("event_type", event.Type),
		)
	}
}

// Subscribe registers a subscriber for every event type
func (eb *EventBus) Subscribe(id string) <-chan Event {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	subscriber := make(chan Event, 100)
	eb.subscribers[id] = subscriber
	return subscriber
}

// Unsubscribe removes a subscriber and closes its channel
func (eb *EventBus) Unsubscribe(id string) {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	if subscriber, ok := eb.subscribers[id]; ok {
		delete(eb.subscribers, id)
		close(subscriber)
	}
}

// distributeEvent distributes an event to subscribers
func (eb *EventBus) distributeEvent(event Event) {
	eb.mutex.RLock()
	defer eb.mutex.RUnlock()

	for _, subscriber := range eb.subscribers {
		select {
		case subscriber <- event:
		default:
			// Subscriber is slow, skip
		}
	}
}

func (eb *EventBus) publish(eventType string, data map[string]interface{}) {
	eb.Publish(Event{
		Type:      eventType,
		Source:    "relay",
		Data:      data,
		Timestamp: time.Now(),
	})
}

// Connected implements relay.Sink
func (eb *EventBus) Connected(address string, port int) {
	for _, sink := range eb.sinks {
		sink.Connected(address, port)
	}
	eb.publish(EventConnected, map[string]interface{}{"address": address, "port": port})
}

// Disconnected implements relay.Sink
func (eb *EventBus) Disconnected(address string, port int) {
	for _, sink := range eb.sinks {
		sink.Disconnected(address, port)
	}
	eb.publish(EventDisconnected, map[string]interface{}{"address": address, "port": port})
}

// ParseWarning implements relay.Sink
func (eb *EventBus) ParseWarning(err error) {
	for _, sink := range eb.sinks {
		sink.ParseWarning(err)
	}
	eb.publish(EventParseWarning, map[string]interface{}{"error": err.Error()})
}

// Fatal implements relay.Sink
func (eb *EventBus) Fatal(message string) {
	for _, sink := range eb.sinks {
		sink.Fatal(message)
	}
	eb.publish(EventFatal, map[string]interface{}{"message": message})
}

// Status implements relay.Sink
func (eb *EventBus) Status(status relay.Status) {
	for _, sink := range eb.sinks {
		sink.Status(status)
	}
	eb.publish(EventStatus, statusData(status))
}

func statusData(status relay.Status) map[string]interface{} {
	return map[string]interface{}{
		"active_connections":  status.ActiveConnections,
		"total_messages":      status.TotalMessages,
		"has_messages":        status.HasMessages,
		"last_message_age_ms": status.LastMessageAge.Milliseconds(),
	}
}
