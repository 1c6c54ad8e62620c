package bus

import (
	"context"
	"sync"
	"time"
)

type EventType string

const (
	EventMessageReceived  EventType = "message_received"
	EventMessageCompleted EventType = "message_completed"
	EventMessageFailed    EventType = "message_failed"
	EventCallbackFailed   EventType = "callback_failed"
	EventStateChanged     EventType = "state_changed"
)

// Known reports whether t is one of the event types the runtime publishes.
func (t EventType) Known() bool {
	switch t {
	case EventMessageReceived, EventMessageCompleted, EventMessageFailed, EventCallbackFailed, EventStateChanged:
		return true
	default:
		return false
	}
}

type Event struct {
	Type    EventType         `json:"type"`
	At      time.Time         `json:"at"`
	Actor   string            `json:"actor,omitempty"`
	Seq     uint64            `json:"seq,omitempty"`
	Payload map[string]string `json:"payload,omitempty"`
	Error   string            `json:"error,omitempty"`
}

func (b *Bus) PublishEvent(ctx context.Context, event Event) bool {
	if b == nil {
		return false
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	select {
	case <-ctx.Done():
		return false
	case <-b.done:
		return false
	default:
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if !sub.wants(event.Type) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// Drop instead of blocking a worker on slow subscribers.
		}
	}

	return true
}

// SubscribeEvents registers a buffered subscription. When types is empty the
// subscriber receives every event type.
//
// The returned channel is closed on unsubscribe, when ctx is done, or when the
// bus is closed.
func (b *Bus) SubscribeEvents(ctx context.Context, buffer int, types ...EventType) (<-chan Event, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	if buffer <= 0 {
		buffer = defaultBufferSize
	}

	sub := subscriber{ch: make(chan Event, buffer)}
	if len(types) > 0 {
		sub.types = make(map[EventType]struct{}, len(types))
		for _, eventType := range types {
			sub.types[eventType] = struct{}{}
		}
	}

	b.mu.Lock()
	select {
	case <-b.done:
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	default:
	}

	id := b.nextSubscriberID
	b.nextSubscriberID++
	b.subscribers[id] = sub
	b.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			if current, ok := b.subscribers[id]; ok {
				delete(b.subscribers, id)
				close(current.ch)
			}
			b.mu.Unlock()
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-b.done:
			unsubscribe()
		}
	}()

	return sub.ch, unsubscribe
}

// Listen invokes fn for every event of the given type until ctx is done or the
// bus closes. fn runs on a dedicated goroutine owned by the subscription.
func (b *Bus) Listen(ctx context.Context, eventType EventType, fn func(Event)) func() {
	events, unsubscribe := b.SubscribeEvents(ctx, 0, eventType)

	go func() {
		for event := range events {
			fn(event)
		}
	}()

	return unsubscribe
}

func (s subscriber) wants(eventType EventType) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[eventType]
	return ok
}
