// Package bus fans governance events out to in-process subscribers
// (SSE clients, sinks) without blocking the publisher.
package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Event types.
const (
	EventChatAnalyzed   = "chat_analyzed"
	EventIssueCreated   = "issue_created"
	EventRolloutDecided = "rollout_decided"
	EventSoulActivated  = "soul_activated"
)

// AllEvents subscribes to every event type.
const AllEvents = "*"

// Event is one governance event.
type Event struct {
	Type string    `json:"type"`
	Key  string    `json:"key,omitempty"`
	Data any       `json:"data"`
	At   time.Time `json:"at"`
}

// Publisher accepts events. Implementations must not block.
type Publisher interface {
	Publish(ev *Event)
}

type subscription struct {
	id int
	fn func(*Event)
}

// EventBus decouples event producers from consumers.
type EventBus struct {
	events  chan *Event
	subs    map[string][]subscription
	nextID  int
	dropped int
	mu      sync.RWMutex
}

// NewEventBus creates a bus with the given buffer size.
func NewEventBus(buffer int) *EventBus {
	if buffer <= 0 {
		buffer = 256
	}
	return &EventBus{
		events: make(chan *Event, buffer),
		subs:   make(map[string][]subscription),
	}
}

// Publish enqueues an event. When the buffer is full the event is dropped
// and counted so slow consumers never stall the publisher.
func (b *EventBus) Publish(ev *Event) {
	if b == nil || ev == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	select {
	case b.events <- ev:
	default:
		b.mu.Lock()
		b.dropped++
		b.mu.Unlock()
		slog.Warn("Event bus full, dropping event", "type", ev.Type, "key", ev.Key)
	}
}

// Subscribe registers a callback for eventType (or AllEvents). The returned
// function removes the subscription.
func (b *EventBus) Subscribe(eventType string, callback func(*Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs[eventType] = append(b.subs[eventType], subscription{id: id, fn: callback})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[eventType]
		for i, s := range list {
			if s.id == id {
				b.subs[eventType] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
	}
}

// Dispatch delivers queued events to subscribers until ctx is done.
// This should be run as a goroutine.
func (b *EventBus) Dispatch(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-b.events:
			b.deliver(ev)
		}
	}
}

// Drain delivers every queued event on the calling goroutine and reports
// how many were delivered. Used on shutdown after Dispatch has returned.
func (b *EventBus) Drain() int {
	n := 0
	for {
		select {
		case ev := <-b.events:
			b.deliver(ev)
			n++
		default:
			return n
		}
	}
}

func (b *EventBus) deliver(ev *Event) {
	b.mu.RLock()
	callbacks := make([]func(*Event), 0, len(b.subs[ev.Type])+len(b.subs[AllEvents]))
	for _, s := range b.subs[ev.Type] {
		callbacks = append(callbacks, s.fn)
	}
	for _, s := range b.subs[AllEvents] {
		callbacks = append(callbacks, s.fn)
	}
	b.mu.RUnlock()

	for _, cb := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("Event subscriber panicked", "type", ev.Type, "panic", r)
				}
			}()
			cb(ev)
		}()
	}
}

// Pending returns the number of queued events.
func (b *EventBus) Pending() int {
	return len(b.events)
}

// Dropped returns how many events were dropped because the buffer was full.
func (b *EventBus) Dropped() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}
