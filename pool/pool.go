// Package pool implements a fixed set of interchangeable handles shared by
// concurrent workers.
package pool

import "context"

// Pool hands out a fixed number of pre-created handles. Acquire and Release
// are safe for concurrent use. The pool does not track ownership: releasing a
// handle that was never acquired, or not releasing one that was, corrupts
// the accounting. Callers must pair every successful Acquire with exactly one
// Release.
type Pool[T any] struct {
	free chan T
}

// New returns a pool filled with handles.
func New[T any](handles []T) *Pool[T] {
	free := make(chan T, len(handles))
	for _, h := range handles {
		free <- h
	}
	return &Pool[T]{free: free}
}

// Acquire removes a handle, waiting until one is free or ctx is done.
func (p *Pool[T]) Acquire(ctx context.Context) (T, error) {
	select {
	case h := <-p.free:
		return h, nil
	default:
	}
	select {
	case h := <-p.free:
		return h, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// TryAcquire removes a handle if one is free, without waiting.
func (p *Pool[T]) TryAcquire() (T, bool) {
	select {
	case h := <-p.free:
		return h, true
	default:
		var zero T
		return zero, false
	}
}

// Release returns a handle. It panics if the pool is already full.
func (p *Pool[T]) Release(h T) {
	select {
	case p.free <- h:
	default:
		panic("pool: release into full pool")
	}
}

// Available returns the number of free handles.
func (p *Pool[T]) Available() int {
	return len(p.free)
}

// Cap returns the number of handles the pool was created with.
func (p *Pool[T]) Cap() int {
	return cap(p.free)
}
