// Package pool implements the fixed-capacity, never-blocking object pools
// that back GDT's hot path: chunk, payload, message, and stream pools all
// share this same shape (one per Client).
package pool

import (
	"errors"
	"fmt"
)

// ErrExhausted is returned by Get when the pool has no free slots. Callers
// must treat this as an ordinary resource error, not a reason to block.
var ErrExhausted = errors.New("pool: exhausted")

// Pool is a bounded free list of preallocated T. Get never blocks: when
// empty it returns ErrExhausted immediately so the caller can increment
// its own stat counter and fail the operation that needed the object.
type Pool[T any] struct {
	name string
	free chan *T
	new  func() *T
	cap  int
}

// New creates a pool of the given capacity, pre-populated by calling
// newFn capacity times. name is used only in error messages (e.g.
// "smsg", "sparam", "chunk1024") so exhaustion errors are traceable to the
// pool that produced them.
func New[T any](name string, capacity int, newFn func() *T) *Pool[T] {
	p := &Pool[T]{
		name: name,
		free: make(chan *T, capacity),
		new:  newFn,
		cap:  capacity,
	}
	for i := 0; i < capacity; i++ {
		p.free <- newFn()
	}
	return p
}

// Get takes one object from the pool without blocking.
func (p *Pool[T]) Get() (*T, error) {
	select {
	case v := <-p.free:
		return v, nil
	default:
		return nil, fmt.Errorf("pool %s: %w", p.name, ErrExhausted)
	}
}

// Put returns an object to the pool. Putting back more objects than the
// pool's capacity is a caller bug; Put drops the excess rather than
// blocking or panicking, since a dropped reference only shrinks the
// effective pool rather than corrupting it.
func (p *Pool[T]) Put(v *T) {
	select {
	case p.free <- v:
	default:
	}
}

// Len returns the number of objects currently free. Used by tests to
// assert pool conservation post-quiescence.
func (p *Pool[T]) Len() int {
	return len(p.free)
}

// Cap returns the pool's fixed capacity.
func (p *Pool[T]) Cap() int {
	return p.cap
}
