package telemetry

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Broadcaster fans values out to any number of subscribers. Publishing
// never blocks: a subscriber whose queue is full misses the value and the
// miss is counted on its Subscription.
type Broadcaster[T any] struct {
	queueSize int

	mutex  sync.Mutex
	subs   map[string]*Subscription[T]
	closed bool
}

// Subscription is one attached receiver
type Subscription[T any] struct {
	ID string

	ch          chan T
	broadcaster *Broadcaster[T]
	dropped     atomic.Uint64
	closeOnce   sync.Once
}

func NewBroadcaster[T any](queueSize int) *Broadcaster[T] {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Broadcaster[T]{
		queueSize: queueSize,
		subs:      make(map[string]*Subscription[T]),
	}
}

// Subscribe attaches a new receiver. Subscribing to a closed broadcaster
// returns a subscription whose channel is already closed.
func (b *Broadcaster[T]) Subscribe() *Subscription[T] {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.subscribeLocked()
}

func (b *Broadcaster[T]) subscribeLocked() *Subscription[T] {
	sub := &Subscription[T]{
		ID:          uuid.NewString(),
		ch:          make(chan T, b.queueSize),
		broadcaster: b,
	}
	if b.closed {
		sub.closeChannel()
		return sub
	}
	b.subs[sub.ID] = sub
	return sub
}

// Publish delivers v to every subscriber with room in its queue
func (b *Broadcaster[T]) Publish(v T) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.publishLocked(v)
}

func (b *Broadcaster[T]) publishLocked(v T) {
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		select {
		case sub.ch <- v:
		default:
			sub.dropped.Add(1)
		}
	}
}

// Close detaches and closes every subscriber. Later publishes are ignored.
func (b *Broadcaster[T]) Close() {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		sub.closeChannel()
	}
}

// Subscribers returns the number of attached receivers
func (b *Broadcaster[T]) Subscribers() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return len(b.subs)
}

func (b *Broadcaster[T]) unsubscribe(sub *Subscription[T]) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if _, ok := b.subs[sub.ID]; ok {
		delete(b.subs, sub.ID)
		sub.closeChannel()
	}
}

// C returns the receive channel. It is closed on Unsubscribe or when the
// broadcaster closes.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Dropped returns how many values were skipped because the queue was full
func (s *Subscription[T]) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *Subscription[T]) Unsubscribe() {
	s.broadcaster.unsubscribe(s)
}

func (s *Subscription[T]) closeChannel() {
	s.closeOnce.Do(func() {
		close(s.ch)
	})
}
