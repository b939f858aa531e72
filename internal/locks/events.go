package locks

import (
	"context"
	"sync"
	"time"
)

// EventType names a lock state change.
type EventType string

const (
	EventAcquired  EventType = "acquired"
	EventRefreshed EventType = "refreshed"
	EventReleased  EventType = "released"
	EventExpired   EventType = "expired"
)

const eventBufferSize = 16

// Event describes a lock change on one canvas.
type Event struct {
	Type      EventType `json:"type"`
	CanvasID  string    `json:"canvas_id"`
	SessionID string    `json:"session_id,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
	Timestamp time.Time `json:"timestamp"`
}

// EventDispatcher fans lock events out to per-canvas subscribers. Slow
// subscribers drop events rather than block the publisher.
type EventDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*eventSubscriber
	wildcard    map[int64]*eventSubscriber
	nextID      int64
	bufferSize  int
}

type eventSubscriber struct {
	id     int64
	stream chan Event
}

// NewEventDispatcher constructs an empty dispatcher.
func NewEventDispatcher() *EventDispatcher {
	return &EventDispatcher{
		subscribers: make(map[string]map[int64]*eventSubscriber),
		wildcard:    make(map[int64]*eventSubscriber),
		bufferSize:  eventBufferSize,
	}
}

// Subscribe streams events for one canvas until ctx ends or the returned
// cleanup runs. An empty canvas id subscribes to every canvas.
func (d *EventDispatcher) Subscribe(ctx context.Context, canvasID string) (<-chan Event, func()) {
	subscriber := &eventSubscriber{
		stream: make(chan Event, d.bufferSize),
	}
	d.register(canvasID, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregister(canvasID, subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers the event without blocking.
func (d *EventDispatcher) Publish(event Event) {
	if d == nil || event.CanvasID == "" || event.Type == "" {
		return
	}
	d.mu.RLock()
	targets := make([]*eventSubscriber, 0, len(d.subscribers[event.CanvasID])+len(d.wildcard))
	for _, subscriber := range d.subscribers[event.CanvasID] {
		targets = append(targets, subscriber)
	}
	for _, subscriber := range d.wildcard {
		targets = append(targets, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range targets {
		select {
		case subscriber.stream <- event:
		default:
		}
	}
}

func (d *EventDispatcher) register(canvasID string, subscriber *eventSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	subscriber.id = d.nextID
	if canvasID == "" {
		d.wildcard[subscriber.id] = subscriber
		return
	}
	if _, ok := d.subscribers[canvasID]; !ok {
		d.subscribers[canvasID] = make(map[int64]*eventSubscriber)
	}
	d.subscribers[canvasID][subscriber.id] = subscriber
}

func (d *EventDispatcher) unregister(canvasID string, subscriberID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if canvasID == "" {
		delete(d.wildcard, subscriberID)
		return
	}
	subscribers := d.subscribers[canvasID]
	if subscribers == nil {
		return
	}
	delete(subscribers, subscriberID)
	if len(subscribers) == 0 {
		delete(d.subscribers, canvasID)
	}
}
