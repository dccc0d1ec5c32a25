// Package broadcast provides a non-blocking multicast for replica events and
// log lines.
package broadcast

import (
	"fmt"
	"sync"
	"sync/atomic"

	"ensemble/pkg/logging"
)

const broadcastSubsystem = "Broadcast"

// DefaultBufferSize is used when Subscribe is called with a non-positive size.
const DefaultBufferSize = 100

// Broadcaster delivers every published value to all current subscribers.
// Publish never blocks: a subscriber whose buffer is full misses the value.
type Broadcaster[T any] struct {
	name string

	mu     sync.RWMutex
	subs   map[uint64]chan T
	nextID uint64
	closed bool

	published atomic.Uint64
	dropped   atomic.Uint64
}

// New creates a broadcaster. The name only appears in log messages.
func New[T any](name string) *Broadcaster[T] {
	return &Broadcaster[T]{
		name: name,
		subs: make(map[uint64]chan T),
	}
}

// Subscribe returns a buffered channel receiving published values and a
// function that ends the subscription and closes the channel. On a closed
// broadcaster the returned channel is already closed.
func (b *Broadcaster[T]) Subscribe(buffer int) (<-chan T, func()) {
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}
	ch := make(chan T, buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// SubscribeFunc calls fn for every value on its own goroutine. A panic in fn
// is recovered and logged; the subscription keeps running.
func (b *Broadcaster[T]) SubscribeFunc(buffer int, fn func(T)) func() {
	ch, cancel := b.Subscribe(buffer)
	go func() {
		for v := range ch {
			b.deliver(fn, v)
		}
	}()
	return cancel
}

func (b *Broadcaster[T]) deliver(fn func(T), v T) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error(broadcastSubsystem, fmt.Errorf("%v", r), "Subscriber of %s panicked", b.name)
		}
	}()
	fn(v)
}

// Publish hands v to every subscriber that has room for it.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	b.published.Add(1)
	for _, ch := range b.subs {
		select {
		case ch <- v:
		default:
			b.dropped.Add(1)
			logging.Debug(broadcastSubsystem, "Subscriber of %s is full, dropping value", b.name)
		}
	}
}

// Close ends all subscriptions. Later publishes are ignored.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// Subscribers returns the number of active subscriptions.
func (b *Broadcaster[T]) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Published counts values passed to Publish while open.
func (b *Broadcaster[T]) Published() uint64 { return b.published.Load() }

// Dropped counts deliveries skipped because a subscriber was full.
func (b *Broadcaster[T]) Dropped() uint64 { return b.dropped.Load() }
