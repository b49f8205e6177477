// internal/handler/event_bus.go
package handler

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ser2tcp/internal/model"
)

const (
	eventQueueSize      = 1000
	subscriberQueueSize = 100
)

// EventBus fans bridge events out to subscribers. Publish never blocks:
// when the queue or a subscriber is full the event is dropped for it.
type EventBus struct {
	subscribers map[string]chan model.BridgeEvent
	events      chan model.BridgeEvent
	mutex       sync.RWMutex
	closed      bool
	logger      *zap.Logger
}

// NewEventBus creates a new event bus
func NewEventBus(logger *zap.Logger) *EventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventBus{
		subscribers: make(map[string]chan model.BridgeEvent),
		events:      make(chan model.BridgeEvent, eventQueueSize),
		logger:      logger.With(zap.String("component", "event-bus")),
	}
}

// Start distributes queued events until Stop is called
func (eb *EventBus) Start() {
	for event := range eb.events {
		eb.distributeEvent(event)
	}

	eb.mutex.Lock()
	defer eb.mutex.Unlock()
	for id, subscriber := range eb.subscribers {
		close(subscriber)
		delete(eb.subscribers, id)
	}
}

// Stop closes the queue; subscriber channels are closed once it drains
func (eb *EventBus) Stop() {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()
	if eb.closed {
		return
	}
	eb.closed = true
	close(eb.events)
}

// Publish queues an event
func (eb *EventBus) Publish(event model.BridgeEvent) {
	eb.mutex.RLock()
	defer eb.mutex.RUnlock()
	if eb.closed {
		return
	}

	select {
	case eb.events <- event:
	default:
		eb.logger.Warn("Event bus full, dropping event",
			zap.String("event_type", string(event.EventType)),
			zap.String("bridge_id", event.BridgeID),
		)
	}
}

// Subscribe registers a subscriber and returns its id and channel
func (eb *EventBus) Subscribe() (string, <-chan model.BridgeEvent) {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	id := uuid.New().String()
	subscriber := make(chan model.BridgeEvent, subscriberQueueSize)
	if eb.closed {
		close(subscriber)
		return id, subscriber
	}
	eb.subscribers[id] = subscriber
	return id, subscriber
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
func (eb *EventBus) distributeEvent(event model.BridgeEvent) {
	eb.mutex.RLock()
	defer eb.mutex.RUnlock()

	for id, subscriber := range eb.subscribers {
		select {
		case subscriber <- event:
		default:
			eb.logger.Debug("Subscriber is slow, skipping event",
				zap.String("subscriber_id", id),
				zap.String("event_type", string(event.EventType)),
			)
		}
	}
}
