package activityz

import (
	"sync"
	"sync/atomic"
)

// IDPool hands out pre-generated ids so that crypto/rand reads happen off the
// activity start path. A background goroutine keeps the buffer full; when it
// falls behind, Get generates inline and counts a miss.
type IDPool[T any] struct {
	factory   func() T
	ready     chan T
	stop      chan struct{}
	misses    atomic.Uint64
	closeOnce sync.Once
}

// NewIDPool starts a pool buffering up to capacity ids from factory.
func NewIDPool[T any](capacity int, factory func() T) *IDPool[T] {
	if capacity < 1 {
		capacity = 1
	}
	p := &IDPool[T]{
		factory: factory,
		ready:   make(chan T, capacity),
		stop:    make(chan struct{}),
	}
	go p.fill()
	return p
}

// Get returns a buffered id, or a freshly generated one when the buffer is
// empty.
func (p *IDPool[T]) Get() T {
	select {
	case id := <-p.ready:
		return id
	default:
		p.misses.Add(1)
		return p.factory()
	}
}

// Buffered returns the number of ids waiting in the pool.
func (p *IDPool[T]) Buffered() int {
	return len(p.ready)
}

// Misses returns how many Get calls found the buffer empty.
func (p *IDPool[T]) Misses() uint64 {
	return p.misses.Load()
}

// fill generates ahead of demand. The id is produced before the send so the
// factory never runs while holding a slot.
func (p *IDPool[T]) fill() {
	for {
		id := p.factory()
		select {
		case p.ready <- id:
		case <-p.stop:
			return
		}
	}
}

// Close stops the background goroutine. Get keeps working afterwards.
func (p *IDPool[T]) Close() {
	p.closeOnce.Do(func() { close(p.stop) })
}
