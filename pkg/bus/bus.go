package bus

import (
	"sync"
)

const defaultBufferSize = 100

// Bus fans runtime lifecycle events out to any number of subscribers.
//
// Publishing never blocks on a subscriber: events for a full subscriber
// channel are dropped.
type Bus struct {
	subscribers      map[uint64]subscriber
	nextSubscriberID uint64

	done      chan struct{}
	closeOnce sync.Once

	mu sync.RWMutex
}

type subscriber struct {
	ch    chan Event
	types map[EventType]struct{}
}

func New() *Bus {
	return &Bus{
		subscribers: make(map[uint64]subscriber),
		done:        make(chan struct{}),
	}
}

// Close unblocks every subscriber by closing its channel.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		close(b.done)

		b.mu.Lock()
		for id, sub := range b.subscribers {
			close(sub.ch)
			delete(b.subscribers, id)
		}
		b.mu.Unlock()
	})
}

// Closed reports whether Close has been called.
func (b *Bus) Closed() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

func (b *Bus) subscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
