package bus

import (
	"sync"
	"sync/atomic"
)

// Bus is an in-process publish/subscribe bus with namespace filtering.
// Delivery is best-effort: a subscriber that cannot keep up loses events
// rather than stalling the publisher.
type Bus struct {
	mu      sync.RWMutex
	sinks   map[int]*sink
	nextID  int
	dropped atomic.Uint64
}

type sink struct {
	namespace string
	ch        chan Event
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{sinks: make(map[int]*sink)}
}

// Publish fans the event out to every subscriber whose namespace matches.
// When a subscriber's buffer is full the event is discarded for that
// subscriber only.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.sinks {
		if !evt.Matches(s.namespace) {
			continue
		}
		select {
		case s.ch <- evt:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe registers interest in a namespace prefix and returns the
// delivery channel plus an unsubscribe function. bufSize controls the
// channel buffer; pick it for the subscriber's burst tolerance. The
// unsubscribe function may be called more than once.
func (b *Bus) Subscribe(namespace string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.sinks[id] = &sink{namespace: namespace, ch: ch}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.sinks, id)
			b.mu.Unlock()
		})
	}
}

// Dropped returns how many events have been discarded across all
// subscribers because a buffer was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
